// Package metrics exposes the Prometheus collectors of the loan services.
// Every method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "microloan"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	payments        *prometheus.CounterVec
	replayedEntries prometheus.Histogram
	accruals        *prometheus.CounterVec
	outbox          *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		payments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_operations_total",
			Help:      "Payment registrations and deletions by outcome.",
		}, []string{"operation", "outcome"}),
		replayedEntries: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replayed_payments",
			Help:      "Payments re-applied per retroactive change.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		accruals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_entries_total",
			Help:      "Interest and fee accrual entries posted.",
		}, []string{"type"}),
		outbox: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_total",
			Help:      "Outbox messages handled by the poller by status.",
		}, []string{"status"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of portfolio batch jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PaymentOperation counts a register or delete with its outcome.
func (m *Metrics) PaymentOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(operation, outcome).Inc()
}

// Replayed records how many payments a retroactive change re-applied.
func (m *Metrics) Replayed(n int) {
	if m == nil {
		return
	}
	m.replayedEntries.Observe(float64(n))
}

// AccrualEntries counts posted accrual entries of one type.
func (m *Metrics) AccrualEntries(entryType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.accruals.WithLabelValues(entryType).Add(float64(n))
}

// OutboxMessage counts a message the poller published or gave up on.
func (m *Metrics) OutboxMessage(status string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(status).Inc()
}

// BatchDuration observes how long a batch job ran.
func (m *Metrics) BatchDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(job).Observe(d.Seconds())
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
