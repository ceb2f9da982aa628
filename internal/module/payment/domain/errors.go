package domain

import "fmt"

// Machine-readable error codes surfaced to orchestrators and API clients.
const (
	CodeValidation         = "PAYMENT_VALIDATION"
	CodeStatus             = "PAYMENT_STATUS"
	CodeStatusTransition   = "STATUS_TRANSITION"
	CodeGateway            = "PAYMENT_GATEWAY"
	CodeRetryLimitExceeded = "RETRY_LIMIT_EXCEEDED"
	CodeInvalidRefund      = "INVALID_REFUND_AMOUNT"
)

// ValidationError reports a structural or field-level violation. The caller
// must fix the input; retrying the same request cannot succeed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Code returns the machine-readable error code.
func (e *ValidationError) Code() string { return CodeValidation }

// StatusError reports an operation attempted against a payment whose current
// status does not permit it.
type StatusError struct {
	Operation string
	Current   Status
	Required  []Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s payment in status %q", e.Operation, e.Current)
}

// Code returns the machine-readable error code.
func (e *StatusError) Code() string { return CodeStatus }

// StatusTransitionError reports a transition outside the legal status graph.
type StatusTransitionError struct {
	From Status
	To   Status
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition from %q to %q", e.From, e.To)
}

// Code returns the machine-readable error code.
func (e *StatusTransitionError) Code() string { return CodeStatusTransition }

// RetryLimitExceededError reports a retry attempted after all attempts were
// exhausted. Terminal; requires manual intervention.
type RetryLimitExceededError struct {
	Attempts    int
	MaxAttempts int
}

func (e *RetryLimitExceededError) Error() string {
	return fmt.Sprintf("retry limit exceeded: %d of %d attempts used", e.Attempts, e.MaxAttempts)
}

// Code returns the machine-readable error code.
func (e *RetryLimitExceededError) Code() string { return CodeRetryLimitExceeded }

// InvalidRefundAmountError reports a refund that exceeds the remaining
// refundable balance or is otherwise malformed.
type InvalidRefundAmountError struct {
	Requested       Money
	Original        Money
	AlreadyRefunded Money
}

func (e *InvalidRefundAmountError) Error() string {
	return fmt.Sprintf("invalid refund amount %s: original %s, already refunded %s",
		e.Requested, e.Original, e.AlreadyRefunded)
}

// Code returns the machine-readable error code.
func (e *InvalidRefundAmountError) Code() string { return CodeInvalidRefund }

// GatewayError wraps a failed call to an external payment gateway.
type GatewayError struct {
	Gateway string
	ErrCode string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s", e.Gateway, e.Message)
	}
	return fmt.Sprintf("gateway %s call failed", e.Gateway)
}

// Unwrap returns the underlying transport error, if any.
func (e *GatewayError) Unwrap() error { return e.Err }

// Code returns the machine-readable error code.
func (e *GatewayError) Code() string { return CodeGateway }
