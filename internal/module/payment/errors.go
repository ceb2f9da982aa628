package payment

import "errors"

// Module errors.
var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicateReference   = errors.New("transaction reference already exists for agency")
	ErrStaleAggregate       = errors.New("payment was modified concurrently")
	ErrWebhookEventExists   = errors.New("webhook event already processed")
	ErrGatewayNotFound      = errors.New("payment gateway not found")
	ErrRetryNotDue          = errors.New("retry window has not opened yet")
	ErrGatewayUnavailable   = errors.New("payment gateway temporarily unavailable")
	ErrRefundTotalsConflict = errors.New("refund totals diverge from recorded refunds")
)
