// Package realtime – Metrics
//
// Prometheus collectors for the gateway, registered on the default registry.
package realtime

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeIgnored   = "ignored"
	outcomeThrottled = "throttled"
)

var (
	// connectionsActive gauges the open websocket connections.
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Current number of open realtime connections.",
		},
	)

	// identitiesOnline gauges the identities holding a live handle.
	identitiesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_identities_online",
			Help: "Current number of identities registered on a live connection.",
		},
	)

	// eventsTotal counts inbound frames by event name and handling outcome.
	// Unknown event names collapse to "unknown" to bound cardinality.
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound realtime events by event and outcome.",
		},
		[]string{"event", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(connectionsActive, identitiesOnline, eventsTotal)
}

var knownEvents = map[string]bool{
	EventRegister:           true,
	EventSendPrivateMessage: true,
	EventOrderStatusUpdate:  true,
	EventAdminComment:       true,
	EventHideChatWithUser:   true,
	EventUnhideUser:         true,
	EventGetHiddenUsers:     true,
	EventGetMessages:        true,
	EventDisconnect:         true,
}

func countEvent(event, outcome string) {
	if !knownEvents[event] {
		event = "unknown"
	}
	eventsTotal.WithLabelValues(event, outcome).Inc()
}
