// Package metrics provides observability for the credit module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks credit issuance and destruction volumes. All methods
// tolerate a nil receiver so tests can run without a registry.
type Metrics struct {
	UnitsPurchased   prometheus.Counter
	UnitsRedeemed    prometheus.Counter
	UnitsSpent       prometheus.Counter
	PurchaseDuration prometheus.Histogram
}

// New creates a Metrics instance with all credit module metrics registered.
func New() *Metrics {
	return &Metrics{
		UnitsPurchased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_credits_purchased_units_total",
			Help: "Total credit base units minted through purchases",
		}),
		UnitsRedeemed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_credits_redeemed_units_total",
			Help: "Total credit base units burnt through redemptions",
		}),
		UnitsSpent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_credits_spent_units_total",
			Help: "Total credit base units destroyed by delegated spends",
		}),
		PurchaseDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_credits_purchase_duration_seconds",
			Help:    "Duration of Purchase operations (payment plus mint)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// AddPurchased records minted units from a purchase.
func (m *Metrics) AddPurchased(units uint64) {
	if m == nil {
		return
	}
	m.UnitsPurchased.Add(float64(units))
}

// AddRedeemed records burnt units from a redemption.
func (m *Metrics) AddRedeemed(units uint64) {
	if m == nil {
		return
	}
	m.UnitsRedeemed.Add(float64(units))
}

// AddSpent records units destroyed by a delegated spend.
func (m *Metrics) AddSpent(units uint64) {
	if m == nil {
		return
	}
	m.UnitsSpent.Add(float64(units))
}

// ObservePurchase records the duration of a Purchase operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObservePurchase(start time.Time) {
	if m == nil {
		return
	}
	m.PurchaseDuration.Observe(time.Since(start).Seconds())
}
