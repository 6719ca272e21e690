package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// OrderMetrics counts checkout attempts, settlement outcomes and fulfillment
// transitions.
type OrderMetrics struct {
	checkouts   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	settlements *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"payment_method", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "Time spent in the checkout transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "settlements_total",
		Help:      "Settlement attempts by payment method and outcome.",
	}, []string{"method", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Applied order status transitions.",
	}, []string{"to"})
	reg.MustRegister(checkouts, latency, settlements, transitions)
	return &OrderMetrics{
		checkouts:   checkouts,
		latency:     latency,
		settlements: settlements,
		transitions: transitions,
	}
}

// ObserveCheckout records one checkout attempt.
func (m *OrderMetrics) ObserveCheckout(method, outcome string, duration time.Duration) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

func (m *OrderMetrics) IncSettlement(method, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) IncTransition(to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}
