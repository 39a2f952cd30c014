package metrics

import (
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ttkn/pkg/domain"
)

// Mint paths used as the "path" label.
const (
	PathPublic = "public"
	PathOwner  = "owner"
)

// Metrics provides observability for the ledger module.
// Tracks mint outcomes per path, minted volume, distinct recipients and
// transition latency.
type Metrics struct {
	MintsTotal     *prometheus.CounterVec
	TokensMinted   *prometheus.CounterVec
	TotalPeople    prometheus.Gauge
	MintDuration   *prometheus.HistogramVec
	PublishFailure prometheus.Counter
}

// New registers the ledger metrics with reg. A nil reg uses the default
// Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		MintsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ttkn_mints_total",
			Help: "Mint attempts by path and outcome",
		}, []string{"path", "outcome"}),
		TokensMinted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ttkn_tokens_minted_total",
			Help: "Whole tokens credited by path",
		}, []string{"path"}),
		TotalPeople: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ttkn_total_people",
			Help: "Distinct recipients of at least one public mint",
		}),
		MintDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ttkn_mint_duration_seconds",
			Help:    "Duration of mint transitions including store commit",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"path"}),
		PublishFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "ttkn_audit_publish_failures_total",
			Help: "Committed events that could not be handed to the audit publisher",
		}),
	}
}

// ObserveMint records the outcome and latency of a mint attempt.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMint(path, outcome string, start time.Time) {
	m.MintsTotal.WithLabelValues(path, outcome).Inc()
	m.MintDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

// AddMinted records credited volume in whole tokens. Fractions are kept;
// precision loss at float64 scale is acceptable for dashboards.
func (m *Metrics) AddMinted(path string, amount *uint256.Int) {
	tokens, err := strconv.ParseFloat(domain.FormatUnits(amount), 64)
	if err != nil {
		return
	}
	m.TokensMinted.WithLabelValues(path).Add(tokens)
}

// SetTotalPeople publishes the current distinct-recipient count.
func (m *Metrics) SetTotalPeople(n uint64) {
	m.TotalPeople.Set(float64(n))
}

// IncPublishFailure counts an audit hand-off failure.
func (m *Metrics) IncPublishFailure() {
	m.PublishFailure.Inc()
}
