package domain

import "time"

// GatewayResponse is the normalized outcome of a gateway call. Adapters for
// concrete processors translate their wire formats into this shape before the
// aggregate ever sees them.
type GatewayResponse struct {
	Success              bool
	TransactionID        string
	GatewayTransactionID string
	Message              string
	ErrorCode            string
	ProcessedAt          time.Time
}

// FailureReason returns a human-readable reason for a failed response.
func (r *GatewayResponse) FailureReason() string {
	switch {
	case r == nil:
		return "no gateway response"
	case r.Message != "":
		return r.Message
	case r.ErrorCode != "":
		return r.ErrorCode
	default:
		return "gateway declined"
	}
}

// clone returns a copy so that audit entries never alias caller-owned state.
func (r *GatewayResponse) clone() *GatewayResponse {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
