package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Payment metrics
	PaymentsTotal          *prometheus.CounterVec
	PaymentAmountTotal     *prometheus.CounterVec
	PaymentRetriesTotal    *prometheus.CounterVec
	RefundsTotal           *prometheus.CounterVec
	RefundAmountTotal      *prometheus.CounterVec
	PaymentsDueForRetry    prometheus.Gauge
	StatusTransitionsTotal *prometheus.CounterVec

	// Gateway metrics
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	GatewayHealth          *prometheus.GaugeVec
	WebhookEventsTotal     *prometheus.CounterVec

	// Database metrics
	DBQueryDuration   *prometheus.HistogramVec
	DBConnectionsOpen prometheus.Gauge

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "flowlytix"
	}

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Payment metrics
		PaymentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "payments_total",
				Help:      "Total number of payments by final status",
			},
			[]string{"gateway", "method", "status"},
		),
		PaymentAmountTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "amount_minor_units_total",
				Help:      "Total completed payment amount in minor units",
			},
			[]string{"gateway", "currency"},
		),
		PaymentRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "retries_total",
				Help:      "Total number of payment retry attempts",
			},
			[]string{"gateway", "outcome"}, // outcome: scheduled, exhausted
		),
		RefundsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "refunds_total",
				Help:      "Total number of refunds",
			},
			[]string{"gateway", "type"}, // type: refund, partial_refund
		),
		RefundAmountTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "refund_amount_minor_units_total",
				Help:      "Total refunded amount in minor units",
			},
			[]string{"gateway", "currency"},
		),
		PaymentsDueForRetry: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "due_for_retry",
				Help:      "Number of failed payments currently waiting on a retry window",
			},
		),
		StatusTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "status_transitions_total",
				Help:      "Total number of payment status transitions",
			},
			[]string{"from", "to"},
		),

		// Gateway metrics
		GatewayRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of gateway calls",
			},
			[]string{"gateway", "operation", "status"}, // status: success, declined, error
		),
		GatewayRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Gateway call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"gateway", "operation"},
		),
		GatewayHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "health",
				Help:      "Gateway circuit state (1=closed, 0=open)",
			},
			[]string{"gateway"},
		),
		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "webhook_events_total",
				Help:      "Total number of webhook events received",
			},
			[]string{"gateway", "result"}, // result: processed, duplicate, invalid, error
		),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"}, // select, insert, update, delete
		),
		DBConnectionsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "connections_open",
				Help:      "Number of open database connections",
			},
		),

		// Cache metrics
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPayment records a payment reaching a terminal or notable status.
func (m *Metrics) RecordPayment(gateway, method, status string) {
	m.PaymentsTotal.WithLabelValues(gateway, method, status).Inc()
}

// RecordPaymentAmount records a completed payment amount.
func (m *Metrics) RecordPaymentAmount(gateway, currency string, amount int64) {
	if amount > 0 {
		m.PaymentAmountTotal.WithLabelValues(gateway, currency).Add(float64(amount))
	}
}

// RecordRetry records a retry attempt outcome.
func (m *Metrics) RecordRetry(gateway, outcome string) {
	m.PaymentRetriesTotal.WithLabelValues(gateway, outcome).Inc()
}

// RecordRefund records a refund.
func (m *Metrics) RecordRefund(gateway, refundType, currency string, amount int64) {
	m.RefundsTotal.WithLabelValues(gateway, refundType).Inc()
	if amount > 0 {
		m.RefundAmountTotal.WithLabelValues(gateway, currency).Add(float64(amount))
	}
}

// RecordStatusTransition records a payment status transition.
func (m *Metrics) RecordStatusTransition(from, to string) {
	m.StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordGatewayRequest records a gateway call.
func (m *Metrics) RecordGatewayRequest(gateway, operation, status string, duration time.Duration) {
	m.GatewayRequestsTotal.WithLabelValues(gateway, operation, status).Inc()
	m.GatewayRequestDuration.WithLabelValues(gateway, operation).Observe(duration.Seconds())
}

// SetGatewayHealth sets the circuit state of a gateway.
func (m *Metrics) SetGatewayHealth(gateway string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.GatewayHealth.WithLabelValues(gateway).Set(value)
}

// RecordWebhookEvent records a received webhook event.
func (m *Metrics) RecordWebhookEvent(gateway, result string) {
	m.WebhookEventsTotal.WithLabelValues(gateway, result).Inc()
}

// RecordDBQuery records a database query.
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
