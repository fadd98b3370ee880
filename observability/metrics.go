package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics collects server-level counters and gauges. All fields are
// safe for concurrent use; a nil *ServerMetrics is a valid no-op collector.
type ServerMetrics struct {
	// ConnectionsActive tracks currently open client connections.
	ConnectionsActive prometheus.Gauge
	// ConnectionsTotal counts accepted client connections.
	ConnectionsTotal prometheus.Counter
	// ConnectionsRejected counts transports closed at the capacity limit.
	ConnectionsRejected prometheus.Counter
	// LinesDispatched counts inbound lines handed to a dispatcher.
	LinesDispatched prometheus.Counter
	// UnhandledCommands counts lines no route matched.
	UnhandledCommands prometheus.Counter
	// HandlerFailures counts handler errors and panics caught at the
	// router boundary.
	HandlerFailures prometheus.Counter
	// BroadcastDeliveries counts messages enqueued by the broadcaster.
	BroadcastDeliveries prometheus.Counter
	// LinesDropped counts inbound lines discarded for exceeding the
	// maximum line length.
	LinesDropped prometheus.Counter
}

// NewServerMetrics registers and returns the server metric set.
//
// Precondition: reg must be non-nil; use prometheus.DefaultRegisterer for
// the process-wide registry.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gsb",
			Name:      "connections_active",
			Help:      "Number of currently open client connections.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Name:      "connections_total",
			Help:      "Total accepted client connections.",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Name:      "connections_rejected_total",
			Help:      "Transports closed because the connection limit was reached.",
		}),
		LinesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Name:      "lines_dispatched_total",
			Help:      "Inbound lines handed to a dispatcher.",
		}),
		UnhandledCommands: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Name:      "unhandled_commands_total",
			Help:      "Lines for which no route matched.",
		}),
		HandlerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Name:      "handler_failures_total",
			Help:      "Handler errors and panics caught at the router boundary.",
		}),
		BroadcastDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Name:      "broadcast_deliveries_total",
			Help:      "Messages enqueued to connections by the broadcaster.",
		}),
		LinesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gsb",
			Name:      "lines_dropped_total",
			Help:      "Inbound lines discarded for exceeding the line length limit.",
		}),
	}
}

// IncConnectionsActive increments the active-connection gauge if metrics
// are enabled.
func (m *ServerMetrics) IncConnectionsActive() {
	if m != nil {
		m.ConnectionsActive.Inc()
		m.ConnectionsTotal.Inc()
	}
}

// DecConnectionsActive decrements the active-connection gauge.
func (m *ServerMetrics) DecConnectionsActive() {
	if m != nil {
		m.ConnectionsActive.Dec()
	}
}

// IncConnectionsRejected counts a capacity rejection.
func (m *ServerMetrics) IncConnectionsRejected() {
	if m != nil {
		m.ConnectionsRejected.Inc()
	}
}

// IncLinesDispatched counts a dispatched line.
func (m *ServerMetrics) IncLinesDispatched() {
	if m != nil {
		m.LinesDispatched.Inc()
	}
}

// IncUnhandledCommands counts an unmatched line.
func (m *ServerMetrics) IncUnhandledCommands() {
	if m != nil {
		m.UnhandledCommands.Inc()
	}
}

// IncHandlerFailures counts a caught handler error.
func (m *ServerMetrics) IncHandlerFailures() {
	if m != nil {
		m.HandlerFailures.Inc()
	}
}

// AddBroadcastDeliveries counts n broadcast enqueues.
func (m *ServerMetrics) AddBroadcastDeliveries(n int) {
	if m != nil {
		m.BroadcastDeliveries.Add(float64(n))
	}
}

// IncLinesDropped counts a discarded over-length line.
func (m *ServerMetrics) IncLinesDropped() {
	if m != nil {
		m.LinesDropped.Inc()
	}
}
