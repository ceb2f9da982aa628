package payment

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookHandler handles asynchronous gateway notifications.
type WebhookHandler struct {
	service *Service
	logger  *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service *Service, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{service: service, logger: logger}
}

// RegisterRoutes registers the webhook routes. These are mounted outside the
// authenticated API group; the gateways authenticate with signatures.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/stripe", h.HandleStripeWebhook)
	r.POST("/alipay", h.HandleAlipayWebhook)
}

// HandleStripeWebhook handles incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("read stripe webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	headers := map[string]string{
		"Stripe-Signature": c.GetHeader("Stripe-Signature"),
	}

	ack, err := h.service.HandleNotification(c.Request.Context(), "stripe", payload, headers)
	if err != nil {
		h.logger.Error("process stripe webhook", zap.Error(err))
		// Stripe retries on non-2xx. An unparseable or badly signed payload
		// is a 400 so it is not redelivered forever.
		c.JSON(http.StatusBadRequest, gin.H{"error": "processing failed"})
		return
	}

	if ack == "" {
		ack = `{"status":"processed"}`
	}
	c.Data(http.StatusOK, "application/json", []byte(ack))
}

// HandleAlipayWebhook handles incoming Alipay notifications.
func (h *WebhookHandler) HandleAlipayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("read alipay webhook body", zap.Error(err))
		c.String(http.StatusBadRequest, "fail")
		return
	}

	ack, err := h.service.HandleNotification(c.Request.Context(), "alipay", payload, nil)
	if err != nil {
		h.logger.Error("process alipay webhook", zap.Error(err))
		c.String(http.StatusInternalServerError, "fail")
		return
	}

	// Alipay expects the literal string "success".
	if ack == "" {
		ack = "success"
	}
	c.String(http.StatusOK, ack)
}
