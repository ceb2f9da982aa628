package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// createTestMetrics creates metrics without touching the default registry.
// promauto registers globally, so tests build the vectors by hand.
func createTestMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "test"
	}

	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "http", Name: "requests_total"},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds"},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "http", Name: "requests_in_flight"},
		),
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "payment", Name: "payments_total"},
			[]string{"gateway", "method", "status"},
		),
		PaymentAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "payment", Name: "amount_minor_units_total"},
			[]string{"gateway", "currency"},
		),
		PaymentRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "payment", Name: "retries_total"},
			[]string{"gateway", "outcome"},
		),
		RefundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "payment", Name: "refunds_total"},
			[]string{"gateway", "type"},
		),
		RefundAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "payment", Name: "refund_amount_minor_units_total"},
			[]string{"gateway", "currency"},
		),
		PaymentsDueForRetry: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "payment", Name: "due_for_retry"},
		),
		StatusTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "payment", Name: "status_transitions_total"},
			[]string{"from", "to"},
		),
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "gateway", Name: "requests_total"},
			[]string{"gateway", "operation", "status"},
		),
		GatewayRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "gateway", Name: "request_duration_seconds"},
			[]string{"gateway", "operation"},
		),
		GatewayHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "gateway", Name: "health"},
			[]string{"gateway"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "gateway", Name: "webhook_events_total"},
			[]string{"gateway", "result"},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "db", Name: "query_duration_seconds"},
			[]string{"operation"},
		),
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "db", Name: "connections_open"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "hits_total"},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "misses_total"},
			[]string{"cache"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PaymentsTotal,
		m.PaymentAmountTotal,
		m.PaymentRetriesTotal,
		m.RefundsTotal,
		m.RefundAmountTotal,
		m.PaymentsDueForRetry,
		m.StatusTransitionsTotal,
		m.GatewayRequestsTotal,
		m.GatewayRequestDuration,
		m.GatewayHealth,
		m.WebhookEventsTotal,
		m.DBQueryDuration,
		m.DBConnectionsOpen,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

func TestNew(t *testing.T) {
	t.Run("creates with custom namespace", func(t *testing.T) {
		// Registers against the prometheus default registry, so a unique
		// namespace keeps reruns in the same process from colliding.
		m := New("test_new")
		assert.NotNil(t, m)
		assert.NotNil(t, m.HTTPRequestsTotal)
		assert.NotNil(t, m.PaymentsTotal)
		assert.NotNil(t, m.PaymentRetriesTotal)
		assert.NotNil(t, m.RefundsTotal)
		assert.NotNil(t, m.GatewayRequestsTotal)
		assert.NotNil(t, m.GatewayHealth)
		assert.NotNil(t, m.WebhookEventsTotal)
		assert.NotNil(t, m.DBQueryDuration)
		assert.NotNil(t, m.CacheHitsTotal)
	})
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m := createTestMetrics("http_test")

	t.Run("records request with 2xx status", func(t *testing.T) {
		m.RecordHTTPRequest("GET", "/api/v1/payments", 200, 100*time.Millisecond)

		count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/payments", "2xx"))
		assert.Equal(t, float64(1), count)
	})

	t.Run("records request with 4xx status", func(t *testing.T) {
		m.RecordHTTPRequest("POST", "/api/v1/payments", 409, 50*time.Millisecond)

		count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/payments", "4xx"))
		assert.Equal(t, float64(1), count)
	})

	t.Run("records request with 5xx status", func(t *testing.T) {
		m.RecordHTTPRequest("PUT", "/api/v1/payments", 500, 200*time.Millisecond)

		count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("PUT", "/api/v1/payments", "5xx"))
		assert.Equal(t, float64(1), count)
	})
}

func TestMetrics_RecordPayment(t *testing.T) {
	m := createTestMetrics("payment_test")

	m.RecordPayment("stripe", "card", "completed")
	m.RecordPayment("stripe", "card", "completed")
	m.RecordPayment("alipay", "alipay", "failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PaymentsTotal.WithLabelValues("stripe", "card", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsTotal.WithLabelValues("alipay", "alipay", "failed")))
}

func TestMetrics_RecordPaymentAmount(t *testing.T) {
	m := createTestMetrics("amount_test")

	t.Run("accumulates amounts", func(t *testing.T) {
		m.RecordPaymentAmount("stripe", "USD", 2200)
		m.RecordPaymentAmount("stripe", "USD", 800)

		total := testutil.ToFloat64(m.PaymentAmountTotal.WithLabelValues("stripe", "USD"))
		assert.Equal(t, float64(3000), total)
	})

	t.Run("skips zero amounts", func(t *testing.T) {
		m.RecordPaymentAmount("stripe", "EUR", 0)

		total := testutil.ToFloat64(m.PaymentAmountTotal.WithLabelValues("stripe", "EUR"))
		assert.Equal(t, float64(0), total)
	})
}

func TestMetrics_RecordRetry(t *testing.T) {
	m := createTestMetrics("retry_test")

	m.RecordRetry("stripe", "scheduled")
	m.RecordRetry("stripe", "scheduled")
	m.RecordRetry("stripe", "exhausted")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PaymentRetriesTotal.WithLabelValues("stripe", "scheduled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentRetriesTotal.WithLabelValues("stripe", "exhausted")))
}

func TestMetrics_RecordRefund(t *testing.T) {
	m := createTestMetrics("refund_test")

	m.RecordRefund("stripe", "partial_refund", "USD", 800)
	m.RecordRefund("stripe", "refund", "USD", 1400)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RefundsTotal.WithLabelValues("stripe", "partial_refund")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RefundsTotal.WithLabelValues("stripe", "refund")))
	assert.Equal(t, float64(2200), testutil.ToFloat64(m.RefundAmountTotal.WithLabelValues("stripe", "USD")))
}

func TestMetrics_RecordStatusTransition(t *testing.T) {
	m := createTestMetrics("transition_test")

	m.RecordStatusTransition("pending", "processing")
	m.RecordStatusTransition("processing", "completed")
	m.RecordStatusTransition("processing", "completed")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StatusTransitionsTotal.WithLabelValues("pending", "processing")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.StatusTransitionsTotal.WithLabelValues("processing", "completed")))
}

func TestMetrics_RecordGatewayRequest(t *testing.T) {
	m := createTestMetrics("gateway_test")

	m.RecordGatewayRequest("stripe", "charge", "success", 2*time.Second)
	m.RecordGatewayRequest("stripe", "charge", "declined", 1*time.Second)
	m.RecordGatewayRequest("alipay", "refund", "error", 500*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.GatewayRequestsTotal.WithLabelValues("stripe", "charge", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GatewayRequestsTotal.WithLabelValues("stripe", "charge", "declined")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GatewayRequestsTotal.WithLabelValues("alipay", "refund", "error")))
}

func TestMetrics_SetGatewayHealth(t *testing.T) {
	m := createTestMetrics("health_test")

	t.Run("sets gateway as healthy", func(t *testing.T) {
		m.SetGatewayHealth("stripe", true)

		health := testutil.ToFloat64(m.GatewayHealth.WithLabelValues("stripe"))
		assert.Equal(t, float64(1), health)
	})

	t.Run("sets gateway as unhealthy", func(t *testing.T) {
		m.SetGatewayHealth("alipay", false)

		health := testutil.ToFloat64(m.GatewayHealth.WithLabelValues("alipay"))
		assert.Equal(t, float64(0), health)
	})
}

func TestMetrics_RecordWebhookEvent(t *testing.T) {
	m := createTestMetrics("webhook_test")

	m.RecordWebhookEvent("stripe", "processed")
	m.RecordWebhookEvent("stripe", "duplicate")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("stripe", "processed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("stripe", "duplicate")))
}

func TestMetrics_RecordDBQuery(t *testing.T) {
	m := createTestMetrics("db_test")

	t.Run("records select query", func(t *testing.T) {
		m.RecordDBQuery("select", 10*time.Millisecond)

		// Histogram observations are harder to test, just verify no panic
	})

	t.Run("records insert query", func(t *testing.T) {
		m.RecordDBQuery("insert", 5*time.Millisecond)
	})
}

func TestMetrics_RecordCache(t *testing.T) {
	m := createTestMetrics("cache_test")

	t.Run("records cache hit", func(t *testing.T) {
		m.RecordCacheHit("payments")

		count := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("payments"))
		assert.Equal(t, float64(1), count)
	})

	t.Run("records cache miss", func(t *testing.T) {
		m.RecordCacheMiss("statistics")

		count := testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("statistics"))
		assert.Equal(t, float64(1), count)
	})
}

func TestStatusCodeToString(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{299, "2xx"},
		{300, "3xx"},
		{301, "3xx"},
		{399, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{499, "4xx"},
		{500, "5xx"},
		{502, "5xx"},
		{599, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			result := statusCodeToString(tt.code)
			assert.Equal(t, tt.expected, result)
		})
	}
}
