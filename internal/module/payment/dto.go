package payment

import (
	"time"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
	"github.com/flowlytix/payment-service/internal/utils/pagination"
)

// CreatePaymentRequest represents a request to create a payment.
type CreatePaymentRequest struct {
	Amount               int64             `json:"amount" binding:"required,gt=0"`
	Currency             string            `json:"currency" binding:"required,len=3"`
	Method               domain.Method     `json:"method" binding:"required,oneof=card bank_transfer cash credit alipay"`
	TransactionReference string            `json:"transaction_reference" binding:"omitempty,max=100"`
	OrderID              string            `json:"order_id" binding:"required"`
	OrderNumber          string            `json:"order_number,omitempty"`
	CustomerID           string            `json:"customer_id" binding:"required"`
	CustomerName         string            `json:"customer_name,omitempty"`
	Gateway              string            `json:"gateway" binding:"required"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// ProcessPaymentRequest represents a request to submit a payment to its gateway.
type ProcessPaymentRequest struct {
	// PaymentMethodToken is the tokenized instrument for card gateways.
	PaymentMethodToken string `json:"payment_method_token,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
}

// CompletePaymentRequest records a manual settlement result for out-of-band
// methods (cash, credit, bank transfer).
type CompletePaymentRequest struct {
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

// FailPaymentRequest records a manual failure.
type FailPaymentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelPaymentRequest represents a cancellation request.
type CancelPaymentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RefundPaymentRequest represents a refund request. A zero amount means
// refund the full remaining balance.
type RefundPaymentRequest struct {
	Amount int64  `json:"amount,omitempty" binding:"omitempty,gt=0"`
	Reason string `json:"reason" binding:"required"`
}

// ListPaymentsQuery carries filters for listing an agency's payments.
type ListPaymentsQuery struct {
	pagination.Pagination
	Status  string `form:"status"`
	OrderID string `form:"order_id"`
}

// AuditEntryResponse represents one audit trail entry in API responses.
type AuditEntryResponse struct {
	ID             string            `json:"id"`
	Action         string            `json:"action"`
	PreviousStatus string            `json:"previous_status"`
	NewStatus      string            `json:"new_status"`
	PerformedBy    string            `json:"performed_by"`
	PerformedAt    time.Time         `json:"performed_at"`
	Notes          string            `json:"notes,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RetryInfoResponse represents the retry state in API responses.
type RetryInfoResponse struct {
	AttemptNumber     int        `json:"attempt_number"`
	MaxAttempts       int        `json:"max_attempts"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
}

// PaymentResponse represents a payment in API responses.
type PaymentResponse struct {
	ID                   string               `json:"id"`
	Amount               int64                `json:"amount"`
	Currency             string               `json:"currency"`
	Method               domain.Method        `json:"method"`
	Type                 string               `json:"type"`
	Status               domain.Status        `json:"status"`
	TransactionReference string               `json:"transaction_reference"`
	Gateway              string               `json:"gateway"`
	GatewayTransactionID string               `json:"gateway_transaction_id,omitempty"`
	OrderID              string               `json:"order_id"`
	CustomerID           string               `json:"customer_id"`
	AgencyID             string               `json:"agency_id"`
	RefundedAmount       int64                `json:"refunded_amount"`
	RemainingRefundable  int64                `json:"remaining_refundable"`
	Retry                *RetryInfoResponse   `json:"retry,omitempty"`
	AuditTrail           []AuditEntryResponse `json:"audit_trail,omitempty"`
	InitiatedAt          time.Time            `json:"initiated_at"`
	ProcessedAt          *time.Time           `json:"processed_at,omitempty"`
	CompletedAt          *time.Time           `json:"completed_at,omitempty"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// ProcessPaymentResponse carries a gateway hand-off result. For asynchronous
// gateways the payment stays processing and PayURL/QRCode direct the customer.
type ProcessPaymentResponse struct {
	Payment *PaymentResponse `json:"payment"`
	Pending bool             `json:"pending"`
	PayURL  string           `json:"pay_url,omitempty"`
	QRCode  string           `json:"qr_code,omitempty"`
}

// ListPaymentsResponse represents a page of payments.
type ListPaymentsResponse struct {
	Payments []*PaymentResponse  `json:"payments"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// PaymentToResponse converts a domain Payment to PaymentResponse. The audit
// trail is included only when includeTrail is set.
func PaymentToResponse(p *domain.Payment, includeTrail bool) *PaymentResponse {
	resp := &PaymentResponse{
		ID:                   p.ID(),
		Amount:               p.Amount().Amount(),
		Currency:             p.Amount().Currency(),
		Method:               p.Method(),
		Type:                 string(p.TransactionType()),
		Status:               p.Status(),
		TransactionReference: p.TransactionReference(),
		Gateway:              p.Gateway(),
		GatewayTransactionID: p.GatewayTransactionID(),
		OrderID:              p.OrderID(),
		CustomerID:           p.CustomerID(),
		AgencyID:             p.AgencyID(),
		RefundedAmount:       p.RefundedAmount().Amount(),
		RemainingRefundable:  p.RemainingRefundable().Amount(),
		InitiatedAt:          p.InitiatedAt(),
		ProcessedAt:          p.ProcessedAt(),
		CompletedAt:          p.CompletedAt(),
		UpdatedAt:            p.UpdatedAt(),
	}

	if ri := p.RetryInfo(); ri != nil {
		resp.Retry = &RetryInfoResponse{
			AttemptNumber:     ri.AttemptNumber,
			MaxAttempts:       ri.MaxAttempts,
			NextRetryAt:       ri.NextRetryAt,
			LastFailureReason: ri.LastFailureReason,
		}
	}

	if includeTrail {
		trail := p.AuditTrail()
		resp.AuditTrail = make([]AuditEntryResponse, len(trail))
		for i, e := range trail {
			resp.AuditTrail[i] = AuditEntryResponse{
				ID:             e.ID,
				Action:         string(e.Action),
				PreviousStatus: string(e.PreviousStatus),
				NewStatus:      string(e.NewStatus),
				PerformedBy:    e.PerformedBy,
				PerformedAt:    e.PerformedAt,
				Notes:          e.Notes,
				Metadata:       e.Metadata,
			}
		}
	}

	return resp
}
