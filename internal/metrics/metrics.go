// ABOUTME: Prometheus collectors for switchboard
// ABOUTME: Registered on the default registry via promauto and served at /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Socket metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchboard_connections_active",
			Help: "Live websocket connections on this instance",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_connections_total",
			Help: "Websocket connections accepted",
		},
		[]string{"role"},
	)

	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_frames_sent_total",
			Help: "Frames enqueued to connections",
		},
		[]string{"event"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_frames_dropped_total",
			Help: "Frames dropped because a connection queue was full or closed",
		},
		[]string{"event"},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_inbound_events_total",
			Help: "Client events received over websocket",
		},
		[]string{"event", "outcome"},
	)

	// Bridge metrics
	BridgeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_bridge_events_total",
			Help: "Assistant events handled by the bridge",
		},
		[]string{"channel", "outcome"}, // outcome: ok, duplicate, invalid, error, fallback
	)

	BridgeHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_bridge_handle_duration_seconds",
			Help:    "Time spent handling one bridge event",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"channel"},
	)

	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_assignments_total",
			Help: "Escalation assignments by tier; tier 0 means no agent was available",
		},
		[]string{"tier"},
	)

	// Cluster metrics
	RelayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_relay_frames_total",
			Help: "Room frames exchanged with other instances",
		},
		[]string{"direction"}, // "out" or "in"
	)

	// Typing metrics
	TypingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchboard_typing_entries",
			Help: "Typing indicators currently held on this instance",
		},
	)
)
