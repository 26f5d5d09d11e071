// Package metrics exposes Prometheus collectors for settlement transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	ValueMoved    *prometheus.CounterVec
	PoolReleases  prometheus.Counter
	OperationTime *prometheus.HistogramVec
}

// New registers the settlement metrics with the default registry.
// Call once per process.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "splitvault_settlement_transitions_total",
			Help: "Completed settlement transitions, by record kind and operation",
		}, []string{"kind", "operation"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "splitvault_settlement_failures_total",
			Help: "Rejected settlement operations, by operation and error code",
		}, []string{"operation", "code"}),
		ValueMoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "splitvault_settlement_value_moved_total",
			Help: "Base units moved out of or into custody, by operation",
		}, []string{"operation"}),
		PoolReleases: promauto.NewCounter(prometheus.CounterOpts{
			Name: "splitvault_pool_releases_total",
			Help: "Partial releases paid from pools",
		}),
		OperationTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "splitvault_settlement_operation_duration_seconds",
			Help:    "Wall time of one settlement operation including the record lock",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncTransition(kind, operation string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, operation).Inc()
}

func (m *Metrics) IncFailure(operation, code string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(operation, code).Inc()
}

// AddValueMoved records base units moved. uint64 amounts above 2^53 lose
// precision in the float counter; the ledger remains authoritative.
func (m *Metrics) AddValueMoved(operation string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.ValueMoved.WithLabelValues(operation).Add(float64(amount))
}

func (m *Metrics) IncPoolRelease() {
	if m == nil {
		return
	}
	m.PoolReleases.Inc()
}

func (m *Metrics) ObserveOperation(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationTime.WithLabelValues(operation).Observe(seconds)
}
