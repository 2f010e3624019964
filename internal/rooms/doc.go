// Package rooms keeps the per-instance registry of live connections and the
// rooms they belong to.
//
// Every connection joins the user room of its identity (user:<id>) on
// Register, so EmitToUser reaches all simultaneous sessions of one person.
// Conversation rooms (conversation:<id>) are joined explicitly by the socket
// handler. Emits to an empty room are dropped; delivery is best effort
// through each connection's bounded queue.
//
// Unregister leaves every room and runs the disconnect hooks, which the
// typing tracker uses to clear indicators.
//
// With a Relay configured, emits are also published to peer instances, which
// deliver them to their own local members.
package rooms
