// Package metrics provides observability for the payments module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks payment volume per currency. All methods tolerate a nil
// receiver so tests can run without a registry.
type Metrics struct {
	PaymentsReceived *prometheus.CounterVec
	CreditsGranted   prometheus.Counter
	PayDuration      prometheus.Histogram
}

// New creates a Metrics instance with all payments module metrics registered.
func New() *Metrics {
	return &Metrics{
		PaymentsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_payments_received_total",
			Help: "Completed metered-access payments by currency",
		}, []string{"currency"}),
		CreditsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_payments_credits_granted_total",
			Help: "Metered-access credits granted across all payments",
		}),
		PayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_payments_pay_duration_seconds",
			Help:    "Duration of Pay operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// AddPayment records one completed payment in the given currency.
func (m *Metrics) AddPayment(currency string) {
	if m == nil {
		return
	}
	m.PaymentsReceived.WithLabelValues(currency).Inc()
}

// AddCreditsGranted records the metered-access credits granted by a payment.
func (m *Metrics) AddCreditsGranted(credits uint64) {
	if m == nil {
		return
	}
	m.CreditsGranted.Add(float64(credits))
}

// ObservePay records the duration of a Pay operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObservePay(start time.Time) {
	if m == nil {
		return
	}
	m.PayDuration.Observe(time.Since(start).Seconds())
}
