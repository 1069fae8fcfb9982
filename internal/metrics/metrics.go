// Package metrics exposes prometheus instrumentation for collection runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes reported by the governor.
const (
	OutcomeOK        = "ok"
	OutcomeRetried   = "retried"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

// Record outcomes reported by the engine.
const (
	RecordAccepted = "accepted"
	RecordRejected = "rejected"
	RecordFailed   = "failed"
)

// Metrics groups the collectors shared by all sources. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	waits    *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	listed   *prometheus.CounterVec
	records  *prometheus.CounterVec
	state    *prometheus.GaugeVec
}

// New registers the collection metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profiles",
			Name:      "calls_total",
			Help:      "Outbound API calls by source and outcome.",
		}, []string{"source", "outcome"}),
		waits: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "profiles",
			Name:      "backoff_seconds",
			Help:      "Backoff waits before retrying a call.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "profiles",
			Name:      "calls_in_flight",
			Help:      "Calls currently holding a governor permit.",
		}, []string{"source"}),
		listed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profiles",
			Name:      "listed_identifiers_total",
			Help:      "Unique identifiers added to the working set.",
		}, []string{"source"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profiles",
			Name:      "records_total",
			Help:      "Detail fetch results by source and outcome.",
		}, []string{"source", "outcome"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "profiles",
			Name:      "run_state",
			Help:      "Current run state ordinal (0 idle .. 4 done).",
		}, []string{"source"}),
	}
}

// ObserveCall counts one governed call outcome.
func (m *Metrics) ObserveCall(source, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(source, outcome).Inc()
}

// ObserveWait records a backoff sleep.
func (m *Metrics) ObserveWait(source string, seconds float64) {
	if m == nil {
		return
	}
	m.waits.WithLabelValues(source).Observe(seconds)
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) AddInFlight(source string, delta float64) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(source).Add(delta)
}

// AddListed counts identifiers added to a working set.
func (m *Metrics) AddListed(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.listed.WithLabelValues(source).Add(float64(n))
}

// ObserveRecord counts one detail result.
func (m *Metrics) ObserveRecord(source, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(source, outcome).Inc()
}

// SetState publishes the run state ordinal.
func (m *Metrics) SetState(source string, ordinal int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(source).Set(float64(ordinal))
}
