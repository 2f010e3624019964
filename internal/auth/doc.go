// Package auth provides identity tokens for switchboard connections.
//
// # Tokens
//
// Clients authenticate with HS256 JWTs signed with the configured jwt_secret.
// The claims carry:
//
//   - sub: identity ID (visitor, agent or admin user ID)
//   - role: "visitor", "agent" or "admin"
//   - name: display name shown in typing indicators
//
// Tokens are minted by the surrounding product; `switchboard token` mints
// them for development.
//
// # HTTP
//
// HTTPAuthMiddleware verifies the token on the websocket handshake. Browsers
// cannot set headers on websocket upgrades, so the token query parameter is
// read first and the Authorization header second. The resulting Identity is
// attached to the request context:
//
//	identity := auth.FromContext(r.Context())
//
// RequireStaffHTTP gates operator endpoints to agents and admins.
package auth
