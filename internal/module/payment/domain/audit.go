package domain

import "time"

// AuditAction identifies what kind of mutation an audit entry records.
type AuditAction string

const (
	ActionProcessPayment  AuditAction = "PROCESS_PAYMENT"
	ActionCompletePayment AuditAction = "COMPLETE_PAYMENT"
	ActionFailPayment     AuditAction = "FAIL_PAYMENT"
	ActionCancelPayment   AuditAction = "CANCEL_PAYMENT"
	ActionRetryPayment    AuditAction = "RETRY_PAYMENT"
	ActionInitiateRefund  AuditAction = "INITIATE_REFUND"
	ActionApplyRefund     AuditAction = "APPLY_REFUND"
	ActionGatewayCallback AuditAction = "GATEWAY_CALLBACK"
)

// AuditEntry is one immutable record in a payment's append-only trail. Every
// mutating operation appends exactly one entry; past entries are never edited
// or removed. Metadata values are restricted to strings so the trail stays
// serializable.
type AuditEntry struct {
	ID              string
	Action          AuditAction
	PreviousStatus  Status
	NewStatus       Status
	PerformedBy     string
	PerformedAt     time.Time
	GatewayResponse *GatewayResponse
	Notes           string
	Metadata        map[string]string
}

// clone deep-copies an entry, including its metadata map and gateway response.
func (e AuditEntry) clone() AuditEntry {
	c := e
	c.GatewayResponse = e.GatewayResponse.clone()
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// cloneTrail copies an audit trail entry by entry.
func cloneTrail(trail []AuditEntry) []AuditEntry {
	if trail == nil {
		return nil
	}
	out := make([]AuditEntry, len(trail))
	for i, e := range trail {
		out[i] = e.clone()
	}
	return out
}
