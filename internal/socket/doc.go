// Package socket serves the websocket endpoint.
//
// Each authenticated connection is registered with the room manager, which
// joins it to its user room. Clients then join conversation rooms with
// join_conversation and drive typing indicators. Visitors may only join
// conversations that list them as a participant; agents and admins may join
// any existing conversation.
//
// Every frame in both directions is {"event": ..., "data": {...}}. Rejected
// client events are answered with an error frame on the sender's
// connection only.
package socket
