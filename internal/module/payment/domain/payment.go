package domain

import (
	"time"
)

// MaxTransactionReferenceLen bounds the merchant-facing reference string.
const MaxTransactionReferenceLen = 100

// Payment is the aggregate root for a payment transaction. It is immutable:
// every business operation validates its preconditions, builds a copy, applies
// the change to the copy, appends one audit entry and returns the copy. The
// receiver is never modified, so concurrent callers only race on which result
// gets persisted; the repository's optimistic version check decides that race.
type Payment struct {
	id                   string
	orderID              string
	orderNumber          string
	customerID           string
	customerName         string
	agencyID             string
	amount               Money
	method               Method
	gateway              string
	transactionReference string
	gatewayTransactionID string
	status               Status
	transactionType      TransactionType
	refundedAmount       int64
	retryInfo            *RetryInfo
	auditTrail           []AuditEntry
	initiatedAt          time.Time
	processedAt          *time.Time
	completedAt          *time.Time
	updatedAt            time.Time
	updatedBy            string
	version              int64

	clock Clock
	ids   IDGenerator
}

// NewPaymentParams carries the inputs for creating a payment.
type NewPaymentParams struct {
	OrderID              string
	OrderNumber          string
	CustomerID           string
	CustomerName         string
	AgencyID             string
	Amount               Money
	Method               Method
	Gateway              string
	TransactionReference string
	CreatedBy            string
}

// NewPayment creates a payment in status pending with an empty audit trail and
// no retry state. The transaction reference must be unique within the agency;
// uniqueness is enforced by the repository.
func NewPayment(p NewPaymentParams, clock Clock, ids IDGenerator) (*Payment, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if !p.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if p.TransactionReference == "" {
		return nil, &ValidationError{Field: "transactionReference", Message: "transaction reference is required"}
	}
	if len(p.TransactionReference) > MaxTransactionReferenceLen {
		return nil, &ValidationError{Field: "transactionReference", Message: "transaction reference exceeds 100 characters"}
	}
	if p.OrderID == "" {
		return nil, &ValidationError{Field: "orderId", Message: "order id is required"}
	}
	if p.CustomerID == "" {
		return nil, &ValidationError{Field: "customerId", Message: "customer id is required"}
	}
	if p.AgencyID == "" {
		return nil, &ValidationError{Field: "agencyId", Message: "agency id is required"}
	}
	if p.Gateway == "" {
		return nil, &ValidationError{Field: "gateway", Message: "gateway is required"}
	}

	now := clock.Now()
	return &Payment{
		id:                   ids.NewID(),
		orderID:              p.OrderID,
		orderNumber:          p.OrderNumber,
		customerID:           p.CustomerID,
		customerName:         p.CustomerName,
		agencyID:             p.AgencyID,
		amount:               p.Amount,
		method:               p.Method,
		gateway:              p.Gateway,
		transactionReference: p.TransactionReference,
		status:               StatusPending,
		transactionType:      TypePayment,
		initiatedAt:          now,
		updatedAt:            now,
		updatedBy:            p.CreatedBy,
		clock:                clock,
		ids:                  ids,
	}, nil
}

// RestoreParams carries a payment's persisted state verbatim.
type RestoreParams struct {
	ID                   string
	OrderID              string
	OrderNumber          string
	CustomerID           string
	CustomerName         string
	AgencyID             string
	Amount               Money
	Method               Method
	Gateway              string
	TransactionReference string
	GatewayTransactionID string
	Status               Status
	TransactionType      TransactionType
	RefundedAmount       int64
	RetryInfo            *RetryInfo
	AuditTrail           []AuditEntry
	InitiatedAt          time.Time
	ProcessedAt          *time.Time
	CompletedAt          *time.Time
	UpdatedAt            time.Time
	UpdatedBy            string
	Version              int64
}

// RestorePayment recreates a payment from persisted data. Status and history
// are taken as stored; business invariants are not re-validated beyond the
// structural shape of the status value.
func RestorePayment(p RestoreParams, clock Clock, ids IDGenerator) (*Payment, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if p.ID == "" {
		return nil, &ValidationError{Field: "id", Message: "id is required"}
	}
	if !p.Status.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(p.Status)}
	}
	return &Payment{
		id:                   p.ID,
		orderID:              p.OrderID,
		orderNumber:          p.OrderNumber,
		customerID:           p.CustomerID,
		customerName:         p.CustomerName,
		agencyID:             p.AgencyID,
		amount:               p.Amount,
		method:               p.Method,
		gateway:              p.Gateway,
		transactionReference: p.TransactionReference,
		gatewayTransactionID: p.GatewayTransactionID,
		status:               p.Status,
		transactionType:      p.TransactionType,
		refundedAmount:       p.RefundedAmount,
		retryInfo:            p.RetryInfo.clone(),
		auditTrail:           cloneTrail(p.AuditTrail),
		initiatedAt:          p.InitiatedAt,
		processedAt:          cloneTime(p.ProcessedAt),
		completedAt:          cloneTime(p.CompletedAt),
		updatedAt:            p.UpdatedAt,
		updatedBy:            p.UpdatedBy,
		version:              p.Version,
		clock:                clock,
		ids:                  ids,
	}, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// clone returns a deep copy of the payment. Operations mutate the copy only.
func (p *Payment) clone() *Payment {
	c := *p
	c.retryInfo = p.retryInfo.clone()
	c.auditTrail = cloneTrail(p.auditTrail)
	c.processedAt = cloneTime(p.processedAt)
	c.completedAt = cloneTime(p.completedAt)
	return &c
}

// appendAudit records one audit entry on the clone and advances updatedAt.
func (c *Payment) appendAudit(action AuditAction, prev Status, actorID string, resp *GatewayResponse, notes string, metadata map[string]string, at time.Time) {
	c.auditTrail = append(c.auditTrail, AuditEntry{
		ID:              c.ids.NewID(),
		Action:          action,
		PreviousStatus:  prev,
		NewStatus:       c.status,
		PerformedBy:     actorID,
		PerformedAt:     at,
		GatewayResponse: resp.clone(),
		Notes:           notes,
		Metadata:        metadata,
	})
	c.updatedAt = at
	c.updatedBy = actorID
}

func requireActor(actorID string) error {
	if actorID == "" {
		return &ValidationError{Field: "actorId", Message: "actor id is required"}
	}
	return nil
}

// --- Getters ---

func (p *Payment) ID() string                   { return p.id }
func (p *Payment) OrderID() string              { return p.orderID }
func (p *Payment) OrderNumber() string          { return p.orderNumber }
func (p *Payment) CustomerID() string           { return p.customerID }
func (p *Payment) CustomerName() string         { return p.customerName }
func (p *Payment) AgencyID() string             { return p.agencyID }
func (p *Payment) Amount() Money                { return p.amount }
func (p *Payment) Method() Method               { return p.method }
func (p *Payment) Gateway() string              { return p.gateway }
func (p *Payment) TransactionReference() string { return p.transactionReference }
func (p *Payment) GatewayTransactionID() string { return p.gatewayTransactionID }
func (p *Payment) Status() Status               { return p.status }
func (p *Payment) TransactionType() TransactionType {
	return p.transactionType
}
func (p *Payment) InitiatedAt() time.Time  { return p.initiatedAt }
func (p *Payment) ProcessedAt() *time.Time { return cloneTime(p.processedAt) }
func (p *Payment) CompletedAt() *time.Time { return cloneTime(p.completedAt) }
func (p *Payment) UpdatedAt() time.Time    { return p.updatedAt }
func (p *Payment) UpdatedBy() string       { return p.updatedBy }
func (p *Payment) Version() int64          { return p.version }

// RefundedAmount returns the cumulative refunded amount in the payment's
// currency.
func (p *Payment) RefundedAmount() Money {
	return Money{amount: p.refundedAmount, currency: p.amount.currency}
}

// RemainingRefundable returns the balance still eligible for refund.
func (p *Payment) RemainingRefundable() Money {
	return Money{amount: p.amount.amount - p.refundedAmount, currency: p.amount.currency}
}

// OriginalPaymentID returns the id of the payment a refund transaction was
// created against, or empty for regular payments.
func (p *Payment) OriginalPaymentID() string {
	if p.transactionType != TypeRefund && p.transactionType != TypePartialRefund {
		return ""
	}
	for _, entry := range p.auditTrail {
		if id, ok := entry.Metadata["original_payment_id"]; ok {
			return id
		}
	}
	return ""
}

// RetryInfo returns a copy of the retry state, or nil before the first failure.
func (p *Payment) RetryInfo() *RetryInfo { return p.retryInfo.clone() }

// AuditTrail returns a copy of the append-only audit trail in order.
func (p *Payment) AuditTrail() []AuditEntry { return cloneTrail(p.auditTrail) }

// --- Predicates ---

// CanProcess reports whether StartProcessing is currently legal.
func (p *Payment) CanProcess() bool { return p.status == StatusPending }

// CanCancel reports whether Cancel is currently legal.
func (p *Payment) CanCancel() bool {
	return p.status == StatusPending || p.status == StatusProcessing
}

// CanRefund reports whether a refund may be initiated. Partially refunded
// payments stay refundable until the balance is exhausted.
func (p *Payment) CanRefund() bool {
	return p.status == StatusCompleted || p.status == StatusPartiallyRefunded
}

// CanRetry reports whether a retry is currently eligible: the payment is
// failed and attempts remain.
func (p *Payment) CanRetry() bool {
	if p.status != StatusFailed {
		return false
	}
	return p.retryInfo == nil || p.retryInfo.AttemptNumber < p.retryInfo.MaxAttempts
}

// --- Operations ---

// StartProcessing moves a pending payment into processing, recording the
// gateway transaction id when already known.
func (p *Payment) StartProcessing(actorID, gatewayTransactionID, notes string) (*Payment, error) {
	if p.status != StatusPending {
		return nil, &StatusError{Operation: "process", Current: p.status, Required: []Status{StatusPending}}
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	c := p.clone()
	now := c.clock.Now()
	prev := c.status
	c.status = StatusProcessing
	if c.processedAt == nil {
		c.processedAt = &now
	}
	if gatewayTransactionID != "" {
		c.gatewayTransactionID = gatewayTransactionID
	}
	c.appendAudit(ActionProcessPayment, prev, actorID, nil, notes, nil, now)
	return c, nil
}

// Complete marks a processing payment as completed, adopting the gateway's
// transaction id from the response when present.
func (p *Payment) Complete(actorID string, resp *GatewayResponse, notes string) (*Payment, error) {
	if p.status != StatusProcessing {
		return nil, &StatusError{Operation: "complete", Current: p.status, Required: []Status{StatusProcessing}}
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	c := p.clone()
	now := c.clock.Now()
	prev := c.status
	c.status = StatusCompleted
	c.completedAt = &now
	if resp != nil && resp.GatewayTransactionID != "" {
		c.gatewayTransactionID = resp.GatewayTransactionID
	}
	c.appendAudit(ActionCompletePayment, prev, actorID, resp, notes, nil, now)
	return c, nil
}

// Fail marks a processing payment as failed and records the failure against
// the retry state: the first failure initializes it, later ones increment the
// attempt counter. A backoff window is scheduled only while attempts remain.
func (p *Payment) Fail(actorID string, resp *GatewayResponse, notes string) (*Payment, error) {
	if p.status != StatusProcessing {
		return nil, &StatusError{Operation: "fail", Current: p.status, Required: []Status{StatusProcessing}}
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	c := p.clone()
	now := c.clock.Now()
	prev := c.status
	c.status = StatusFailed
	c.retryInfo = c.retryInfo.recordFailure(resp.FailureReason(), now)
	c.appendAudit(ActionFailPayment, prev, actorID, resp, notes, nil, now)
	return c, nil
}

// Cancel cancels a pending or processing payment.
func (p *Payment) Cancel(actorID, reason string) (*Payment, error) {
	if !p.CanCancel() {
		return nil, &StatusError{Operation: "cancel", Current: p.status, Required: []Status{StatusPending, StatusProcessing}}
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	c := p.clone()
	now := c.clock.Now()
	prev := c.status
	c.status = StatusCancelled
	c.appendAudit(ActionCancelPayment, prev, actorID, nil, reason, nil, now)
	return c, nil
}

// Retry moves a retry-eligible failed payment back into processing. The
// attempt counter is preserved; only the scheduled retry window is cleared.
func (p *Payment) Retry(actorID, notes string) (*Payment, error) {
	if p.status == StatusFailed && p.retryInfo.Exhausted() {
		return nil, &RetryLimitExceededError{
			Attempts:    p.retryInfo.AttemptNumber,
			MaxAttempts: p.retryInfo.MaxAttempts,
		}
	}
	if !p.CanRetry() {
		return nil, &StatusError{Operation: "retry", Current: p.status, Required: []Status{StatusFailed}}
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	c := p.clone()
	now := c.clock.Now()
	prev := c.status
	c.status = StatusProcessing
	c.processedAt = &now
	if c.retryInfo != nil {
		c.retryInfo.NextRetryAt = nil
	}
	c.appendAudit(ActionRetryPayment, prev, actorID, nil, notes, nil, now)
	return c, nil
}

// CreateRefund derives a new refund transaction from a completed or partially
// refunded payment. The requested amount is bounded by the remaining refundable
// balance, so repeated partial refunds can never exceed the original amount. The refund starts at
// pending with a single audit entry and references the original via metadata;
// the original payment is not mutated here. Callers transition the original
// with MarkRefunded once the refund completes.
func (p *Payment) CreateRefund(refundAmount Money, actorID, reason string, metadata map[string]string) (*Payment, error) {
	if !p.CanRefund() {
		return nil, &StatusError{Operation: "refund", Current: p.status, Required: []Status{StatusCompleted, StatusPartiallyRefunded}}
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if !refundAmount.SameCurrency(p.amount) || !refundAmount.IsPositive() {
		return nil, &InvalidRefundAmountError{
			Requested:       refundAmount,
			Original:        p.amount,
			AlreadyRefunded: p.RefundedAmount(),
		}
	}
	remaining := p.RemainingRefundable()
	if refundAmount.amount > remaining.amount {
		return nil, &InvalidRefundAmountError{
			Requested:       refundAmount,
			Original:        p.amount,
			AlreadyRefunded: p.RefundedAmount(),
		}
	}

	txType := TypePartialRefund
	if refundAmount.amount == remaining.amount {
		txType = TypeRefund
	}

	md := map[string]string{
		"original_payment_id": p.id,
		"original_reference":  p.transactionReference,
	}
	for k, v := range metadata {
		md[k] = v
	}

	now := p.clock.Now()
	refund := &Payment{
		id:                   p.ids.NewID(),
		orderID:              p.orderID,
		orderNumber:          p.orderNumber,
		customerID:           p.customerID,
		customerName:         p.customerName,
		agencyID:             p.agencyID,
		amount:               refundAmount,
		method:               p.method,
		gateway:              p.gateway,
		transactionReference: refundReference(p.transactionReference, p.ids.NewID()),
		status:               StatusPending,
		transactionType:      txType,
		initiatedAt:          now,
		updatedAt:            now,
		updatedBy:            actorID,
		clock:                p.clock,
		ids:                  p.ids,
	}
	refund.appendAudit(ActionInitiateRefund, StatusPending, actorID, nil, reason, md, now)
	return refund, nil
}

// refundReference derives a reference for a refund transaction from the
// original's reference, staying within the length bound.
func refundReference(original, id string) string {
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	ref := original + "-R" + suffix
	if len(ref) > MaxTransactionReferenceLen {
		ref = ref[:MaxTransactionReferenceLen]
	}
	return ref
}

// MarkRefunded applies a completed refund's amount to the original payment,
// accumulating the refunded total. Full accumulation moves the payment to
// refunded, anything less to partially refunded; applying a further refund to
// an already partially refunded payment keeps the status until the balance is
// exhausted.
func (p *Payment) MarkRefunded(actorID string, refundAmount Money, notes string) (*Payment, error) {
	if p.status != StatusCompleted && p.status != StatusPartiallyRefunded {
		return nil, &StatusError{Operation: "apply refund", Current: p.status, Required: []Status{StatusCompleted, StatusPartiallyRefunded}}
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if !refundAmount.SameCurrency(p.amount) || !refundAmount.IsPositive() ||
		refundAmount.amount > p.RemainingRefundable().amount {
		return nil, &InvalidRefundAmountError{
			Requested:       refundAmount,
			Original:        p.amount,
			AlreadyRefunded: p.RefundedAmount(),
		}
	}

	target := StatusPartiallyRefunded
	if p.refundedAmount+refundAmount.amount >= p.amount.amount {
		target = StatusRefunded
	}
	if target != p.status {
		if err := checkTransition(p.status, target); err != nil {
			return nil, err
		}
	}

	c := p.clone()
	now := c.clock.Now()
	prev := c.status
	c.status = target
	c.refundedAmount += refundAmount.amount
	c.appendAudit(ActionApplyRefund, prev, actorID, nil, notes, map[string]string{
		"refund_amount": refundAmount.String(),
	}, now)
	return c, nil
}

// HandleGatewayCallback records an out-of-band gateway notification. It is
// status-preserving: only the gateway transaction id may change, and one audit
// entry is appended.
func (p *Payment) HandleGatewayCallback(actorID string, resp *GatewayResponse, notes string) (*Payment, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	c := p.clone()
	now := c.clock.Now()
	if resp != nil && resp.GatewayTransactionID != "" {
		c.gatewayTransactionID = resp.GatewayTransactionID
	}
	c.appendAudit(ActionGatewayCallback, c.status, actorID, resp, notes, nil, now)
	return c, nil
}
