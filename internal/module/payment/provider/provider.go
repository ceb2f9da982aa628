package provider

import (
	"context"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
)

// ChargeRequest carries the inputs for a gateway charge.
type ChargeRequest struct {
	PaymentID string
	Reference string
	Amount    int64 // minor units
	Currency  string
	Customer  string
	Subject   string
	Metadata  map[string]string
}

// ChargeResult is the normalized outcome of a charge attempt. Pending means
// the gateway accepted the charge but confirmation arrives asynchronously via
// webhook; the payment stays in processing until then. PayURL and QRCode are
// set for redirect and scan flows.
type ChargeResult struct {
	Response *domain.GatewayResponse
	Pending  bool
	PayURL   string
	QRCode   string
}

// RefundRequest carries the inputs for a gateway refund.
type RefundRequest struct {
	PaymentID            string
	Reference            string
	GatewayTransactionID string
	RefundID             string
	Amount               int64
	TotalAmount          int64
	Currency             string
	Reason               string
}

// Notification is a parsed and verified asynchronous gateway notification.
// Ignore marks event types that carry no lifecycle outcome; they are
// acknowledged and recorded but change nothing.
type Notification struct {
	EventID              string
	Gateway              string
	PaymentID            string // our payment id (out_trade_no / metadata reference)
	GatewayTransactionID string
	Success              bool
	Closed               bool
	Ignore               bool
	ErrorCode            string
	Message              string
	RawData              string
	AckResponse          string // body the gateway expects on successful receipt
}

// Response converts a notification into the aggregate's normalized gateway
// response shape.
func (n *Notification) Response() *domain.GatewayResponse {
	return &domain.GatewayResponse{
		Success:              n.Success,
		TransactionID:        n.EventID,
		GatewayTransactionID: n.GatewayTransactionID,
		Message:              n.Message,
		ErrorCode:            n.ErrorCode,
	}
}

// Gateway is the adapter port for an external payment processor. Adapters
// perform the actual network calls and translate processor responses into the
// domain's normalized GatewayResponse; declines come back as unsuccessful
// responses, not errors. An error return means the call itself could not be
// made or understood (transport failure, bad credentials).
type Gateway interface {
	// Name returns the processor identifier, e.g. "stripe".
	Name() string

	// Charge attempts to collect the payment.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)

	// Refund returns funds for a previously completed charge.
	Refund(ctx context.Context, req *RefundRequest) (*domain.GatewayResponse, error)

	// VerifyWebhookSignature checks the authenticity of a webhook payload.
	VerifyWebhookSignature(payload []byte, signature string) error

	// ParseNotification parses and verifies an asynchronous notification.
	ParseNotification(ctx context.Context, body []byte, headers map[string]string) (*Notification, error)
}
