package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	Blocked  prometheus.Counter
	Degraded prometheus.Counter
}

// NewMetrics registers the rate limit collectors with the default registry.
// Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		Blocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "splitvault_ratelimit_blocked_total",
			Help: "Requests rejected with 429 by the rate limiter",
		}),
		Degraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "splitvault_ratelimit_degraded_checks_total",
			Help: "Rate limit checks answered by the fallback store",
		}),
	}
}

func (m *Metrics) IncBlocked() {
	if m == nil {
		return
	}
	m.Blocked.Inc()
}

func (m *Metrics) IncDegraded() {
	if m == nil {
		return
	}
	m.Degraded.Inc()
}
