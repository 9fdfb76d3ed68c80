// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vitanips"

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitions     *prometheus.CounterVec
	claims          *prometheus.CounterVec
	claimedAmount   prometheus.Counter
	payments        *prometheus.CounterVec
	commission      *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	activeSockets   prometheus.Gauge
	cronRuns        *prometheus.CounterVec
	cronLastSuccess *prometheus.GaugeVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New builds a Metrics with its own registry, so tests never share state
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Status changes by entity and target status",
		}, []string{"entity", "to"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Insurance claims by status reached",
		}, []string{"status"}),
		claimedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claimed_amount_total",
			Help:      "Sum of amounts submitted in insurance claims",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verifications_total",
			Help:      "Payment verifications by kind and result",
		}, []string{"kind", "result"}),
		commission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_amount_total",
			Help:      "Platform commission earned by service",
		}, []string{"service"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result",
		}, []string{"result"}),
		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections",
		}),
		cronRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_runs_total",
			Help:      "Scheduled job runs by job and result",
		}, []string{"job", "result"}),
		cronLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cron_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run of each job",
		}, []string{"job"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.transitions,
		m.claims,
		m.claimedAmount,
		m.payments,
		m.commission,
		m.notifications,
		m.activeSockets,
		m.cronRuns,
		m.cronLastSuccess,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(method string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RecordTransition(entity, to string) {
	m.transitions.WithLabelValues(entity, to).Inc()
}

// RecordClaim counts a claim reaching status. amount is added to the claimed
// total only for new submissions.
func (m *Metrics) RecordClaim(status string, amount float64) {
	m.claims.WithLabelValues(status).Inc()
	if status == "submitted" {
		m.claimedAmount.Add(amount)
	}
}

func (m *Metrics) RecordPayment(kind, result string) {
	m.payments.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordCommission(service string, amount float64) {
	if amount < 0 {
		return
	}
	m.commission.WithLabelValues(service).Add(amount)
}

func (m *Metrics) RecordNotification(delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) SocketOpened() {
	m.activeSockets.Inc()
}

func (m *Metrics) SocketClosed() {
	m.activeSockets.Dec()
}

func (m *Metrics) RecordCronRun(job string, err error) {
	if err != nil {
		m.cronRuns.WithLabelValues(job, "error").Inc()
		return
	}
	m.cronRuns.WithLabelValues(job, "ok").Inc()
	m.cronLastSuccess.WithLabelValues(job).SetToCurrentTime()
}
