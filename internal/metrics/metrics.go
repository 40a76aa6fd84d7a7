// Package metrics exposes Prometheus counters for the reconciliation engine.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourceEmpty  = "empty"
)

// Write-back outcomes.
const (
	WriteBackWritten = "written"
	WriteBackSkipped = "skipped"
	WriteBackFailed  = "failed"
)

// Metrics holds all Prometheus metrics for metadata storage.
type Metrics struct {
	LoadsTotal      *prometheus.CounterVec
	StoresTotal     *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec
	RemoteErrors    *prometheus.CounterVec
	WriteBacksTotal *prometheus.CounterVec
	RemoteLatency   *prometheus.HistogramVec
}

// New creates and registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_loads_total",
				Help: "Completed loads by kind and the source the value came from",
			},
			[]string{"kind", "source"},
		),

		StoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_stores_total",
				Help: "Successful local stores by kind",
			},
			[]string{"kind"},
		),

		DecodeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_decode_failures_total",
				Help: "Envelopes that could not be opened or decoded, by kind and source",
			},
			[]string{"kind", "source"},
		),

		RemoteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_remote_errors_total",
				Help: "Swallowed remote failures by kind and operation",
			},
			[]string{"kind", "op"},
		),

		WriteBacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metavault_write_backs_total",
				Help: "Migration write-backs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		RemoteLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metavault_remote_latency_seconds",
				Help:    "Remote call latency by operation",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		),
	}
}

// RecordLoad records a completed load.
func (m *Metrics) RecordLoad(kind, source string) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(kind, source).Inc()
}

// RecordStore records a successful local store.
func (m *Metrics) RecordStore(kind string) {
	if m == nil {
		return
	}
	m.StoresTotal.WithLabelValues(kind).Inc()
}

// RecordDecodeFailure records an unreadable envelope.
func (m *Metrics) RecordDecodeFailure(kind, source string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(kind, source).Inc()
}

// RecordRemote records the latency of a remote call and, if err is set,
// counts it as a remote error.
func (m *Metrics) RecordRemote(kind, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.RemoteLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.RemoteErrors.WithLabelValues(kind, op).Inc()
	}
}

// RecordWriteBack records the outcome of a migration write-back.
func (m *Metrics) RecordWriteBack(kind, outcome string) {
	if m == nil {
		return
	}
	m.WriteBacksTotal.WithLabelValues(kind, outcome).Inc()
}
