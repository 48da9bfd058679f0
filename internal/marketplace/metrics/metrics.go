// Package metrics provides observability for the marketplace module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks listing lifecycle counts and settlement path durations.
// All methods tolerate a nil receiver so tests can run without a registry.
type Metrics struct {
	ListingsCreated prometheus.Counter
	ListingsSold    prometheus.Counter
	ListingsRemoved prometheus.Counter
	FeesCollected   prometheus.Counter
	SettleDuration  prometheus.Histogram
	ListDuration    prometheus.Histogram
}

// New creates a Metrics instance with all marketplace metrics registered.
func New() *Metrics {
	return &Metrics{
		ListingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_marketplace_listings_created_total",
			Help: "Total number of listings created",
		}),
		ListingsSold: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_marketplace_listings_sold_total",
			Help: "Total number of listings settled by purchase",
		}),
		ListingsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_marketplace_listings_removed_total",
			Help: "Total number of listings cancelled by their seller",
		}),
		FeesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_marketplace_fees_collected_total",
			Help: "Total platform fees collected in base units",
		}),
		SettleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_marketplace_settle_duration_seconds",
			Help:    "Duration of Buy operations (settlement critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ListDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_marketplace_list_duration_seconds",
			Help:    "Duration of List operations (escrow path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementListed records a successful listing creation.
func (m *Metrics) IncrementListed() {
	if m == nil {
		return
	}
	m.ListingsCreated.Inc()
}

// IncrementSold records a settled purchase.
func (m *Metrics) IncrementSold() {
	if m == nil {
		return
	}
	m.ListingsSold.Inc()
}

// IncrementRemoved records a cancelled listing.
func (m *Metrics) IncrementRemoved() {
	if m == nil {
		return
	}
	m.ListingsRemoved.Inc()
}

// AddFees records platform fees collected during a settlement.
func (m *Metrics) AddFees(amount uint64) {
	if m == nil {
		return
	}
	m.FeesCollected.Add(float64(amount))
}

// ObserveSettle records the duration of a Buy operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSettle(start time.Time) {
	if m == nil {
		return
	}
	m.SettleDuration.Observe(time.Since(start).Seconds())
}

// ObserveList records the duration of a List operation.
func (m *Metrics) ObserveList(start time.Time) {
	if m == nil {
		return
	}
	m.ListDuration.Observe(time.Since(start).Seconds())
}
