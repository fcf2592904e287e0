package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collab"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	events         *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	storeFailures  *prometheus.CounterVec
	editsRelayed   prometheus.Counter
	cursorsRelayed prometheus.Counter
	conflicts      prometheus.Counter
	reaped         prometheus.Counter
	connections    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Inbound events rejected by reason.",
		}, []string{"reason"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Failed external store calls by operation.",
		}, []string{"operation"}),
		editsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_relayed_total",
			Help:      "Debounced edits broadcast to rooms.",
		}),
		cursorsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursors_relayed_total",
			Help:      "Throttled cursor positions broadcast to rooms.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Edits flagged as likely conflicts.",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_connections_total",
			Help:      "Connections force-closed after missing heartbeats.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live registered connections.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.events,
			m.rejected,
			m.storeFailures,
			m.editsRelayed,
			m.cursorsRelayed,
			m.conflicts,
			m.reaped,
			m.connections,
		)
	}

	return m
}

func (m *Metrics) Event(msgType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) StoreFailure(operation string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) EditRelayed() {
	if m == nil {
		return
	}
	m.editsRelayed.Inc()
}

func (m *Metrics) CursorRelayed() {
	if m == nil {
		return
	}
	m.cursorsRelayed.Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) Reaped() {
	if m == nil {
		return
	}
	m.reaped.Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}
