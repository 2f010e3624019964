// ABOUTME: HTTP middleware for JWT authentication on the websocket handshake
// ABOUTME: Reads the token from the token query parameter or the Authorization header

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// extractToken prefers the token query parameter, which browsers must use for
// websocket handshakes, and falls back to the Authorization header.
func extractToken(r *http.Request) (string, string) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, ""
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// logAuthFailure records a rejected request. A nil logger is allowed.
func logAuthFailure(logger *slog.Logger, r *http.Request, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	args := append([]any{"reason", reason, "path", r.URL.Path, "remote_addr", r.RemoteAddr}, attrs...)
	logger.Warn("http auth failure", args...)
}

// HTTPAuthMiddleware creates an HTTP middleware that validates the identity
// token and adds the Identity to the request context.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r)
			if errMsg != "" {
				logAuthFailure(logger, r, "token_extraction_failed", "detail", errMsg)
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				logAuthFailure(logger, r, "token_verification_failed", "error", err)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireStaffHTTP creates an HTTP middleware that requires an agent or admin
// identity. Must be used after HTTPAuthMiddleware.
func RequireStaffHTTP(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := FromContext(r.Context())
			if identity == nil {
				logAuthFailure(logger, r, "no_identity")
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			if !identity.IsStaff() {
				logAuthFailure(logger, r, "not_staff", "identity_id", identity.ID, "role", identity.Role)
				http.Error(w, `{"error":"agent or admin role required"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
