package realtime

import "github.com/prometheus/client_golang/prometheus"

// Push outcome label values.
const (
	outcomeDelivered = "delivered"
	outcomeOffline   = "offline"
	outcomeFailed    = "failed"
)

var (
	// wsConnections gauges the number of registered live sessions.
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of registered websocket sessions.",
		},
	)

	// wsEventsIn counts inbound client events by event name. The event label
	// is bounded by the closed client-event set plus "unknown".
	wsEventsIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_in_total",
			Help: "Total inbound websocket events by event name.",
		},
		[]string{"event"},
	)

	// wsPushes counts targeted pushes by event name and outcome
	// (delivered, offline, failed).
	wsPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_pushes_total",
			Help: "Total targeted websocket pushes by event and outcome.",
		},
		[]string{"event", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsEventsIn, wsPushes)
}
