// Package metrics provides observability for the patent issuance module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks issuance counts and the mint critical path. All methods
// tolerate a nil receiver so tests can run without a registry.
type Metrics struct {
	ItemsIssued      prometheus.Counter
	FeesWithdrawn    prometheus.Counter
	MintDuration     prometheus.Histogram
	DuplicateRejects prometheus.Counter
}

// New creates a Metrics instance with all patent module metrics registered.
func New() *Metrics {
	return &Metrics{
		ItemsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_patents_issued_total",
			Help: "Total number of unique items issued",
		}),
		FeesWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_patents_fees_withdrawn_total",
			Help: "Total native units withdrawn from the patent treasury",
		}),
		MintDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_patents_mint_duration_seconds",
			Help:    "Duration of Mint operations (payment, registry, issuance)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		DuplicateRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_patents_duplicate_rejects_total",
			Help: "Mint attempts rejected because the identifier was already claimed",
		}),
	}
}

// IncrementIssued records a successful issuance.
func (m *Metrics) IncrementIssued() {
	if m == nil {
		return
	}
	m.ItemsIssued.Inc()
}

// AddWithdrawn records a treasury withdrawal.
func (m *Metrics) AddWithdrawn(amount uint64) {
	if m == nil {
		return
	}
	m.FeesWithdrawn.Add(float64(amount))
}

// ObserveMint records the duration of a Mint operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMint(start time.Time) {
	if m == nil {
		return
	}
	m.MintDuration.Observe(time.Since(start).Seconds())
}

// IncrementDuplicateReject records a rejected duplicate identifier claim.
func (m *Metrics) IncrementDuplicateReject() {
	if m == nil {
		return
	}
	m.DuplicateRejects.Inc()
}
