package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected  *prometheus.CounterVec
	FailOpens *prometheus.CounterVec
}

// New registers the rate limit collectors on reg, or the default registerer
// when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ttkn_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"scope"}),
		FailOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ttkn_ratelimit_fail_open_total",
			Help: "Requests let through because the rate limit store failed",
		}, []string{"scope"}),
	}
}

func (m *Metrics) IncrementRejected(scope string) {
	m.Rejected.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncrementFailOpen(scope string) {
	m.FailOpens.WithLabelValues(scope).Inc()
}
