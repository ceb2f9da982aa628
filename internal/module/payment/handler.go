package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
	"github.com/flowlytix/payment-service/internal/shared/response"
	"github.com/flowlytix/payment-service/internal/utils/middleware"
	"github.com/flowlytix/payment-service/internal/utils/pagination"
)

// Handler handles HTTP requests for payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.CreatePayment)
		payments.GET("", h.ListPayments)
		payments.GET("/statistics", h.GetStatistics)
		payments.GET("/reference/:reference", h.GetPaymentByReference)
		payments.GET("/order/:orderId", h.ListPaymentsByOrder)
		payments.GET("/:id", h.GetPayment)
		payments.POST("/:id/process", h.ProcessPayment)
		payments.POST("/:id/complete", h.CompletePayment)
		payments.POST("/:id/fail", h.FailPayment)
		payments.POST("/:id/cancel", h.CancelPayment)
		payments.POST("/:id/retry", h.RetryPayment)
		payments.POST("/:id/refund", h.RefundPayment)
	}
}

// CreatePayment creates a new pending payment.
func (h *Handler) CreatePayment(c *gin.Context) {
	agencyID, actorID, ok := tenant(c)
	if !ok {
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	p, err := h.service.CreatePayment(c.Request.Context(), agencyID, actorID, &req)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusCreated, PaymentToResponse(p, false))
}

// ProcessPayment submits a pending payment to its gateway.
func (h *Handler) ProcessPayment(c *gin.Context) {
	_, actorID, ok := tenant(c)
	if !ok {
		return
	}

	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.service.ProcessPayment(c.Request.Context(), c.Param("id"), actorID, &req)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CompletePayment records a manual settlement.
func (h *Handler) CompletePayment(c *gin.Context) {
	_, actorID, ok := tenant(c)
	if !ok {
		return
	}

	var req CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}

	p, err := h.service.CompletePayment(c.Request.Context(), c.Param("id"), actorID, &req)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, PaymentToResponse(p, false))
}

// FailPayment records a manual failure.
func (h *Handler) FailPayment(c *gin.Context) {
	_, actorID, ok := tenant(c)
	if !ok {
		return
	}

	var req FailPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	p, err := h.service.FailPayment(c.Request.Context(), c.Param("id"), actorID, &req)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, PaymentToResponse(p, false))
}

// CancelPayment abandons a payment.
func (h *Handler) CancelPayment(c *gin.Context) {
	_, actorID, ok := tenant(c)
	if !ok {
		return
	}

	var req CancelPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}

	p, err := h.service.CancelPayment(c.Request.Context(), c.Param("id"), actorID, &req)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, PaymentToResponse(p, false))
}

// RetryPayment re-submits a failed payment.
func (h *Handler) RetryPayment(c *gin.Context) {
	_, actorID, ok := tenant(c)
	if !ok {
		return
	}

	resp, err := h.service.RetryPayment(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RefundPayment creates a refund against a completed payment.
func (h *Handler) RefundPayment(c *gin.Context) {
	_, actorID, ok := tenant(c)
	if !ok {
		return
	}

	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	refund, err := h.service.RefundPayment(c.Request.Context(), c.Param("id"), actorID, &req)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusCreated, PaymentToResponse(refund, false))
}

// GetPayment returns a payment with its audit trail.
func (h *Handler) GetPayment(c *gin.Context) {
	agencyID, _, ok := tenant(c)
	if !ok {
		return
	}

	p, err := h.service.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	if p.AgencyID() != agencyID {
		response.NotFound(c, "payment_not_found")
		return
	}

	c.JSON(http.StatusOK, PaymentToResponse(p, true))
}

// GetPaymentByReference returns a payment by its agency-scoped reference.
func (h *Handler) GetPaymentByReference(c *gin.Context) {
	agencyID, _, ok := tenant(c)
	if !ok {
		return
	}

	p, err := h.service.GetPaymentByReference(c.Request.Context(), agencyID, c.Param("reference"))
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, PaymentToResponse(p, true))
}

// ListPaymentsByOrder returns all payments for an order.
func (h *Handler) ListPaymentsByOrder(c *gin.Context) {
	agencyID, _, ok := tenant(c)
	if !ok {
		return
	}

	payments, err := h.service.ListPaymentsByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	responses := make([]*PaymentResponse, 0, len(payments))
	for _, p := range payments {
		if p.AgencyID() != agencyID {
			continue
		}
		responses = append(responses, PaymentToResponse(p, false))
	}
	c.JSON(http.StatusOK, gin.H{"payments": responses})
}

// ListPayments returns a page of the agency's payments.
func (h *Handler) ListPayments(c *gin.Context) {
	agencyID, _, ok := tenant(c)
	if !ok {
		return
	}

	var query ListPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if query.Page == 0 {
		query.Pagination = *pagination.New()
	}

	resp, err := h.service.ListPayments(c.Request.Context(), agencyID, &query)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetStatistics returns aggregate payment figures for the agency.
func (h *Handler) GetStatistics(c *gin.Context) {
	agencyID, _, ok := tenant(c)
	if !ok {
		return
	}

	stats, err := h.service.GetStatistics(c.Request.Context(), agencyID)
	if err != nil {
		handlePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// --- Helpers ---

// tenant extracts the authenticated agency and actor from the request
// context. It writes the error response itself when either is missing.
func tenant(c *gin.Context) (agencyID, actorID string, ok bool) {
	agencyID = middleware.GetAgencyID(c)
	actorID = middleware.GetUserID(c)
	if agencyID == "" || actorID == "" {
		response.Unauthorized(c, "")
		return "", "", false
	}
	return agencyID, actorID, true
}

// paymentErrorMappings routes service sentinel errors to their HTTP status.
var paymentErrorMappings = []response.ErrorMapping{
	{Err: ErrPaymentNotFound, Status: http.StatusNotFound, Message: "payment_not_found"},
	{Err: ErrDuplicateReference, Status: http.StatusConflict, Message: "duplicate_transaction_reference"},
	{Err: ErrStaleAggregate, Status: http.StatusConflict, Message: "concurrent_modification"},
	{Err: ErrRefundTotalsConflict, Status: http.StatusConflict, Message: "refund_totals_conflict"},
	{Err: ErrGatewayUnavailable, Status: http.StatusServiceUnavailable, Message: "gateway_unavailable"},
}

func handlePaymentError(c *gin.Context, err error) {
	var (
		validationErr *domain.ValidationError
		statusErr     *domain.StatusError
		transitionErr *domain.StatusTransitionError
		retryErr      *domain.RetryLimitExceededError
		refundErr     *domain.InvalidRefundAmountError
		gatewayErr    *domain.GatewayError
	)

	switch {
	case errors.Is(err, ErrRetryNotDue):
		response.ErrorWithDetails(c, http.StatusConflict, "retry_not_due", err.Error())
	case errors.Is(err, ErrGatewayNotFound):
		response.ErrorWithDetails(c, http.StatusBadRequest, "unknown_gateway", err.Error())
	case errors.As(err, &validationErr):
		response.ErrorWithDetails(c, http.StatusBadRequest, validationErr.Code(), gin.H{"field": validationErr.Field, "message": validationErr.Message})
	case errors.As(err, &statusErr):
		response.ErrorWithDetails(c, http.StatusConflict, statusErr.Code(), statusErr.Error())
	case errors.As(err, &transitionErr):
		response.ErrorWithDetails(c, http.StatusConflict, transitionErr.Code(), transitionErr.Error())
	case errors.As(err, &retryErr):
		response.ErrorWithDetails(c, http.StatusUnprocessableEntity, retryErr.Code(), retryErr.Error())
	case errors.As(err, &refundErr):
		response.ErrorWithDetails(c, http.StatusUnprocessableEntity, refundErr.Code(), refundErr.Error())
	case errors.As(err, &gatewayErr):
		response.ErrorWithDetails(c, http.StatusBadGateway, gatewayErr.Code(), gatewayErr.Error())
	default:
		response.HandleErrorWithDefault(c, err, paymentErrorMappings)
	}
}
