package metrics

import "github.com/prometheus/client_golang/prometheus"

// SlotMetrics exposes counters/histograms for slot computation.
type SlotMetrics struct {
	queriesTotal   *prometheus.CounterVec
	slotsReturned  prometheus.Histogram
	computeLatency prometheus.Histogram
}

func NewSlotMetrics(reg prometheus.Registerer) *SlotMetrics {
	m := &SlotMetrics{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnia",
			Subsystem: "slots",
			Name:      "queries_total",
			Help:      "Total slot availability queries",
		}, []string{"status"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "turnia",
			Subsystem: "slots",
			Name:      "returned_count",
			Help:      "Number of slots returned per query",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		computeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "turnia",
			Subsystem: "slots",
			Name:      "compute_latency_seconds",
			Help:      "Latency of slot computation including calendar lookups",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.queriesTotal, m.slotsReturned, m.computeLatency)
	return m
}

func (m *SlotMetrics) ObserveQuery(status string, slots int, seconds float64) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(status).Inc()
	m.slotsReturned.Observe(float64(slots))
	m.computeLatency.Observe(seconds)
}

// BookingMetrics exposes counters for the booking lifecycle.
type BookingMetrics struct {
	createdTotal    *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	webhookTotal    *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnia",
			Subsystem: "bookings",
			Name:      "created_total",
			Help:      "Total bookings created",
		}, []string{"payment_method"}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnia",
			Subsystem: "bookings",
			Name:      "transitions_total",
			Help:      "Total booking state transitions applied",
		}, []string{"to_state"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnia",
			Subsystem: "bookings",
			Name:      "payment_webhooks_total",
			Help:      "Total payment webhooks by provider-verified status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createdTotal, m.transitionTotal, m.webhookTotal)
	return m
}

func (m *BookingMetrics) ObserveCreated(paymentMethod string) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(paymentMethod).Inc()
}

func (m *BookingMetrics) ObserveTransition(toState string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(toState).Inc()
}

func (m *BookingMetrics) ObserveWebhook(status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(status).Inc()
}
