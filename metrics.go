package megalodon

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics shared by every Stream of a Client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connectionsTotal *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
	reconnectsTotal  *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	parserErrors     *prometheus.CounterVec
	stallsTotal      *prometheus.CounterVec
}

// NewMetrics creates the stream metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "megalodon",
			Subsystem: "stream",
			Name:      "connections_total",
			Help:      "Total successful stream connections",
		}, []string{"stream", "transport"}),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "megalodon",
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed)",
		}, []string{"stream"}),

		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "megalodon",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total reconnects scheduled, by failure kind",
		}, []string{"stream", "kind"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "megalodon",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Total canonical events emitted, by kind",
		}, []string{"stream", "kind"}),

		parserErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "megalodon",
			Subsystem: "stream",
			Name:      "parser_errors_total",
			Help:      "Total malformed or unrecognized messages",
		}, []string{"stream"}),

		stallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "megalodon",
			Subsystem: "stream",
			Name:      "stalls_total",
			Help:      "Total connections dropped for missing heartbeats",
		}, []string{"stream"}),
	}

	for _, c := range []prometheus.Collector{
		m.connectionsTotal, m.connectionState, m.reconnectsTotal,
		m.eventsTotal, m.parserErrors, m.stallsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register stream metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) connected(stream, transport string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(stream, transport).Inc()
}

func (m *Metrics) state(stream string, s ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.WithLabelValues(stream).Set(float64(s))
}

func (m *Metrics) reconnect(stream string, kind FailureKind) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(stream, kind.String()).Inc()
}

func (m *Metrics) event(stream string, kind EventKind) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(stream, string(kind)).Inc()
}

func (m *Metrics) parserError(stream string) {
	if m == nil {
		return
	}
	m.parserErrors.WithLabelValues(stream).Inc()
}

func (m *Metrics) stall(stream string) {
	if m == nil {
		return
	}
	m.stallsTotal.WithLabelValues(stream).Inc()
}
