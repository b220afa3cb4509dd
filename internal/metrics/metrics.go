// Package metrics provides Prometheus instrumentation for the realtime
// server. It exposes gauges for connection and room counts, counters for
// message throughput and moderation actions, and a histogram for broadcast
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsGauge tracks the current number of active WebSocket connections.
	ConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "community_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts messages accepted per channel: "global", "dm",
	// or "cinema".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_messages_total",
		Help: "Total number of messages accepted",
	}, []string{"channel"})

	// BroadcastLatency records the time to fan a message out to all
	// recipients, in seconds.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "community_broadcast_latency_seconds",
		Help:    "Broadcast fan-out latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// CinemaRooms tracks the current number of live cinema rooms.
	CinemaRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "community_cinema_rooms",
		Help: "Current number of cinema rooms",
	})

	// ModerationActions counts moderation actions applied, labeled by
	// action: "mute", "unmute", "ban", "unban".
	ModerationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_moderation_actions_total",
		Help: "Total number of moderation actions applied",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsGauge,
		MessagesTotal,
		BroadcastLatency,
		CinemaRooms,
		ModerationActions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
