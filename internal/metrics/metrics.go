package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"time"
)

// Metrics groups the collectors used across the order service.
type Metrics struct {
	UsecaseRequests        *prometheus.CounterVec
	UsecaseDuration        *prometheus.HistogramVec
	StockMutations         *prometheus.CounterVec
	ReconciliationFailures *prometheus.CounterVec
	HTTPRequests           *prometheus.CounterVec
	HTTPDuration           *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UsecaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_requests_total",
			Help: "Order lifecycle operations by outcome.",
		}, []string{"use_case", "outcome"}),
		UsecaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_duration_seconds",
			Help:    "Order lifecycle operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		StockMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_mutations_total",
			Help: "Stock ledger reserve/release calls by outcome.",
		}, []string{"op", "outcome"}),
		ReconciliationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reconciliation_failures_total",
			Help: "Payments that could not be reconciled with an order and need an operator.",
		}, []string{"reason"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.UsecaseRequests, m.UsecaseDuration, m.StockMutations,
			m.ReconciliationFailures, m.HTTPRequests, m.HTTPDuration,
		)
	}
	return m
}

// ObserveUsecase records one finished lifecycle operation.
func (m *Metrics) ObserveUsecase(useCase, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.UsecaseRequests.WithLabelValues(useCase, outcome).Inc()
	m.UsecaseDuration.WithLabelValues(useCase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) StockMutation(op, outcome string) {
	if m == nil {
		return
	}
	m.StockMutations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ReconciliationFailure(reason string) {
	if m == nil {
		return
	}
	m.ReconciliationFailures.WithLabelValues(reason).Inc()
}
