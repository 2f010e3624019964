// ABOUTME: HTTP routes for switchboard: health, readiness, metrics, websocket and room stats
// ABOUTME: Built on chi with Prometheus request metrics keyed by route pattern

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/metrics"
)

// routePattern labels metrics with the matched chi pattern instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (g *Gateway) newRouter(ws http.Handler) http.Handler {
	r := chi.NewRouter()

	// Metrics middleware first to capture all requests
	r.Use(metrics.Middleware(routePattern))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	authMiddleware := auth.HTTPAuthMiddleware(g.verifier, g.logger)

	r.With(authMiddleware).Get("/ws", ws.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(auth.RequireStaffHTTP(g.logger))

		r.Get("/api/rooms", g.handleRoomStats)
	})

	return r
}
