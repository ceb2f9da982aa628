package domain

// Status represents the lifecycle status of a payment transaction.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// transitions is the legal status graph. A status mapped to an empty slice is
// terminal; a status missing from the map is unknown.
var transitions = map[Status][]Status{
	StatusPending:           {StatusProcessing, StatusCancelled},
	StatusProcessing:        {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusFailed:            {StatusProcessing, StatusCancelled},
	StatusPartiallyRefunded: {StatusRefunded},
	StatusCancelled:         {},
	StatusRefunded:          {},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// CanTransitionTo reports whether the transition s -> target is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the legal transitions out of s.
func (s Status) AllowedTransitions() []Status {
	allowed := transitions[s]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// checkTransition validates a requested transition and returns a typed error
// naming both statuses when it is illegal.
func checkTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &StatusTransitionError{From: from, To: to}
	}
	return nil
}

// TransactionType classifies what kind of transaction a payment record is.
type TransactionType string

const (
	TypePayment       TransactionType = "payment"
	TypeRefund        TransactionType = "refund"
	TypePartialRefund TransactionType = "partial_refund"
	TypeAuthorization TransactionType = "authorization"
	TypeCapture       TransactionType = "capture"
	TypeVoid          TransactionType = "void"
)

// Method represents how the customer pays.
type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodCash         Method = "cash"
	MethodCredit       Method = "credit"
	MethodAlipay       Method = "alipay"
)

// UsesGateway reports whether the method is collected through an external
// processor. Cash, credit and bank transfers settle out of band.
func (m Method) UsesGateway() bool {
	return m == MethodCard || m == MethodAlipay
}
