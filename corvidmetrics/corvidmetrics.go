// Package corvidmetrics provides Prometheus instrumentation for pool
// occupancy and call outcomes. Every component that accepts a Recorder
// treats it as optional: a nil Recorder is replaced by the no-op Recorder
// returned by NullRecorder, so unit tests never need a real Prometheus
// registry.
package corvidmetrics

import "github.com/prometheus/client_golang/prometheus"

// CallOutcome classifies how a Connector call finished, for the
// corvid_calls_total counter.
type CallOutcome string

const (
	OutcomeOK                 CallOutcome = "ok"
	OutcomeNetworkError       CallOutcome = "network_error"
	OutcomeNotMasterExhausted CallOutcome = "not_master_exhausted"
	OutcomeDuplicateKey       CallOutcome = "duplicate_key"
	OutcomeWriteFailure       CallOutcome = "write_failure"
	OutcomeServerError        CallOutcome = "server_error"
)

// PortState classifies a pool's ports for the corvid_pool_ports gauge.
type PortState string

const (
	PortStateIdle   PortState = "idle"
	PortStateActive PortState = "active"
)

// Recorder receives pool and call metrics. Implementations must tolerate a
// nil receiver, so callers can pass NullRecorder() wherever metrics are
// disabled.
type Recorder interface {
	// SetPortGauge sets the current idle/active port count for address.
	SetPortGauge(address string, state PortState, count int)

	// RecordPoolExhausted increments the pool-exhaustion-wait counter for
	// address.
	RecordPoolExhausted(address string)

	// RecordCall increments the call-outcome counter.
	RecordCall(outcome CallOutcome)
}

// Metrics is the concrete prometheus.Registerer-backed Recorder. All
// methods tolerate a nil receiver.
type Metrics struct {
	poolPorts     *prometheus.GaugeVec
	poolExhausted *prometheus.CounterVec
	callsTotal    *prometheus.CounterVec
}

// New creates and registers Corvid metrics. Pass nil to skip registration
// (useful in tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		poolPorts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corvid_pool_ports",
				Help: "Current number of ports per address by state (idle, active)",
			},
			[]string{"address", "state"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corvid_pool_exhausted_total",
				Help: "Total times a Get call had to wait for an available port",
			},
			[]string{"address"},
		),
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corvid_calls_total",
				Help: "Total Connector calls by outcome classification",
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.poolPorts, m.poolExhausted, m.callsTotal)
	}
	return m
}

// NullRecorder returns a Recorder whose methods are all no-ops, for callers
// that want metrics disabled without nil-checking at every call site.
func NullRecorder() Recorder {
	return (*Metrics)(nil)
}

func (m *Metrics) SetPortGauge(address string, state PortState, count int) {
	if m == nil {
		return
	}
	m.poolPorts.WithLabelValues(address, string(state)).Set(float64(count))
}

func (m *Metrics) RecordPoolExhausted(address string) {
	if m == nil {
		return
	}
	m.poolExhausted.WithLabelValues(address).Inc()
}

func (m *Metrics) RecordCall(outcome CallOutcome) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(string(outcome)).Inc()
}
