package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for the synchronization engine. Registered on
// the default registry and served at /metrics.
var (
	OpenListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kirimin_open_listeners",
		Help: "Number of live store subscriptions across all sessions.",
	})

	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kirimin_connected_sessions",
		Help: "Number of connected websocket sessions.",
	})

	SnapshotsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirimin_timeline_snapshots_total",
		Help: "Message snapshots processed by the timeline builder.",
	})

	ReadBatchWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirimin_read_batch_writes_total",
		Help: "Batched read-receipt writes committed to the store.",
	})

	WritesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirimin_writes_rejected_total",
		Help: "Store writes rejected by permission or validation.",
	})

	ListenerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirimin_listener_failures_total",
		Help: "Subscriptions dropped by the store.",
	})
)
