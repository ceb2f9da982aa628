package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
	"github.com/flowlytix/payment-service/internal/module/payment/provider"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter mounts the handler behind a stub tenant middleware.
func newTestRouter(f *serviceFixture) *gin.Engine {
	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if agencyID := c.GetHeader("X-Agency-ID"); agencyID != "" {
			c.Set("agency_id", agencyID)
		}
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	NewHandler(f.service).RegisterRoutes(api)

	webhooks := router.Group("/webhooks")
	NewWebhookHandler(f.service, nil).RegisterRoutes(webhooks)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agency-ID", "agency-1")
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandlerCreatePayment(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f)

	w := doJSON(t, router, "POST", "/api/v1/payments", `{
		"amount": 2200,
		"currency": "USD",
		"method": "card",
		"transaction_reference": "TXN-0001",
		"order_id": "order-1",
		"customer_id": "cust-1",
		"gateway": "stripe"
	}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "TXN-0001", body["transaction_reference"])
	assert.Equal(t, float64(2200), body["amount"])

	t.Run("missing reference is generated", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments", `{
			"amount": 900,
			"currency": "USD",
			"method": "card",
			"order_id": "order-gen",
			"customer_id": "cust-1",
			"gateway": "stripe"
		}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		body := decodeBody(t, w)
		ref, ok := body["transaction_reference"].(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(ref, "TXN-"), ref)
	})

	t.Run("duplicate reference conflicts", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments", `{
			"amount": 500,
			"currency": "USD",
			"method": "card",
			"transaction_reference": "TXN-0001",
			"order_id": "order-2",
			"customer_id": "cust-2",
			"gateway": "stripe"
		}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "duplicate_transaction_reference")
	})

	t.Run("invalid body is rejected", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments", `{"amount": -5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing tenant is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/payments", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandlerProcessAndGet(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f)
	p := createTestPayment(t, f)

	w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/process", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	payment, ok := body["payment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", payment["status"])

	t.Run("get includes audit trail", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/api/v1/payments/"+p.ID(), "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		trail, ok := body["audit_trail"].([]any)
		require.True(t, ok)
		assert.NotEmpty(t, trail)
	})

	t.Run("other agency sees not found", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/payments/"+p.ID(), nil)
		req.Header.Set("X-Agency-ID", "agency-2")
		req.Header.Set("X-User-ID", "user-9")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown payment is not found", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/api/v1/payments/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "payment_not_found")
	})
}

func TestHandlerLifecycleErrors(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f)
	p := createTestPayment(t, f)

	t.Run("complete before processing conflicts", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/complete", `{"gateway_transaction_id": "pi_x"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("fail requires a reason", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/fail", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("cancel succeeds from pending", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/cancel", `{"reason": "customer walked away"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decodeBody(t, w)
		assert.Equal(t, "cancelled", body["status"])
	})

	t.Run("retry of cancelled payment conflicts", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/retry", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandlerRefund(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f)
	p := createTestPayment(t, f)

	w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/process", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/refund", `{"amount": 800, "reason": "damaged goods"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "partial_refund", body["type"])
	assert.Equal(t, "completed", body["status"])

	t.Run("refund beyond remaining is rejected", func(t *testing.T) {
		w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/refund", `{"amount": 99999, "reason": "oops"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestHandlerListPayments(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f)
	p := createTestPayment(t, f)

	w := doJSON(t, router, "GET", "/api/v1/payments?page=1&page_size=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	payments, ok := body["payments"].([]any)
	require.True(t, ok)
	assert.Len(t, payments, 1)

	t.Run("status filter", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/api/v1/payments?status=completed", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		payments, ok := body["payments"].([]any)
		require.True(t, ok)
		assert.Empty(t, payments)
	})

	t.Run("order filter", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/api/v1/payments?order_id=order-1", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		payments, ok := body["payments"].([]any)
		require.True(t, ok)
		assert.Len(t, payments, 1)

		w = doJSON(t, router, "GET", "/api/v1/payments?order_id=order-other", "")
		require.Equal(t, http.StatusOK, w.Code)
		body = decodeBody(t, w)
		payments, ok = body["payments"].([]any)
		require.True(t, ok)
		assert.Empty(t, payments)
	})

	t.Run("by order", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/api/v1/payments/order/order-1", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		payments, ok := body["payments"].([]any)
		require.True(t, ok)
		assert.Len(t, payments, 1)
	})

	t.Run("by reference", func(t *testing.T) {
		w := doJSON(t, router, "GET", "/api/v1/payments/reference/"+p.TransactionReference(), "")
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestWebhookHandlerStripe(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(f)
	p := createTestPayment(t, f)

	f.gateway.chargeResults = []*provider.ChargeResult{{
		Response: &domain.GatewayResponse{GatewayTransactionID: "pi_async"},
		Pending:  true,
	}}
	w := doJSON(t, router, "POST", "/api/v1/payments/"+p.ID()+"/process", "")
	require.Equal(t, http.StatusOK, w.Code)

	f.gateway.notification = &provider.Notification{
		EventID:              "evt_http_1",
		Gateway:              "stripe",
		PaymentID:            p.ID(),
		GatewayTransactionID: "pi_async",
		Success:              true,
	}

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"processed"}`, rec.Body.String())

	stored, err := f.repo.FindByID(req.Context(), p.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status())
}
