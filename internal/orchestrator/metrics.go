package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated for every strategy call.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camlink",
			Name:      "strategy_attempts_total",
			Help:      "Strategy operations by strategy, operation and result code.",
		}, []string{"strategy", "op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "camlink",
			Name:      "strategy_duration_seconds",
			Help:      "Duration of strategy operations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"strategy", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.duration)
	}
	return m
}

func (m *Metrics) observe(a Attempt) {
	if m == nil {
		return
	}
	result := "success"
	if !a.Success {
		result = string(a.Code)
	}
	m.attempts.WithLabelValues(a.Strategy, a.Op, result).Inc()
	m.duration.WithLabelValues(a.Strategy, a.Op).Observe(a.Duration.Seconds())
}

// Attempts returns the counter vector, for tests and status pages.
func (m *Metrics) Attempts() *prometheus.CounterVec { return m.attempts }

func since(start time.Time) time.Duration { return time.Since(start) }
