// ABOUTME: HTTP handlers for health, readiness and room statistics
// ABOUTME: Readiness pings the store and Redis; room stats are staff-only

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ReadyResponse is the body of /health/ready.
type ReadyResponse struct {
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks"`
	Connections int               `json:"connections"`
	InstanceID  string            `json:"instanceId"`
}

// handleReady returns 200 when the store and Redis answer, 503 otherwise.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := ReadyResponse{
		Status:      "ready",
		Checks:      map[string]string{"store": "ok"},
		Connections: g.rooms.Stats().Connections,
		InstanceID:  g.rooms.InstanceID(),
	}

	if err := g.store.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Checks["store"] = err.Error()
	}
	if g.redis != nil {
		resp.Checks["redis"] = "ok"
		if err := g.redis.Ping(ctx).Err(); err != nil {
			resp.Status = "unavailable"
			resp.Checks["redis"] = err.Error()
		}
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
		g.logger.Warn("readiness check failed", "checks", resp.Checks)
	}
	writeJSON(w, status, resp)
}

// RoomStatsResponse is the body of /api/rooms.
type RoomStatsResponse struct {
	InstanceID  string         `json:"instanceId"`
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	Members     map[string]int `json:"members"`
}

// handleRoomStats reports this instance's connections and room membership.
func (g *Gateway) handleRoomStats(w http.ResponseWriter, r *http.Request) {
	stats := g.rooms.Stats()
	writeJSON(w, http.StatusOK, RoomStatsResponse{
		InstanceID:  g.rooms.InstanceID(),
		Connections: stats.Connections,
		Rooms:       stats.Rooms,
		Members:     stats.Members,
	})
}
