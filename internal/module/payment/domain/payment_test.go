package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type seqIDs struct {
	n int
}

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", g.n)
}

func testParams() NewPaymentParams {
	return NewPaymentParams{
		OrderID:              "order-1",
		OrderNumber:          "ORD-1001",
		CustomerID:           "cust-1",
		CustomerName:         "Acme Wholesale",
		AgencyID:             "agency-1",
		Amount:               MustMoney(2200, "USD"),
		Method:               MethodCard,
		Gateway:              "stripe",
		TransactionReference: "TXN-0001",
		CreatedBy:            "user-1",
	}
}

func newTestPayment(t *testing.T) (*Payment, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)}
	p, err := NewPayment(testParams(), clock, &seqIDs{})
	require.NoError(t, err)
	return p, clock
}

// paymentInStatus drives a fresh payment to the requested status.
func paymentInStatus(t *testing.T, status Status) *Payment {
	t.Helper()
	p, _ := newTestPayment(t)

	var err error
	switch status {
	case StatusPending:
	case StatusProcessing:
		p, err = p.StartProcessing("user-1", "", "")
	case StatusCompleted:
		p, err = p.StartProcessing("user-1", "", "")
		require.NoError(t, err)
		p, err = p.Complete("user-1", &GatewayResponse{Success: true}, "")
	case StatusFailed:
		p, err = p.StartProcessing("user-1", "", "")
		require.NoError(t, err)
		p, err = p.Fail("user-1", &GatewayResponse{Success: false, Message: "declined"}, "")
	case StatusCancelled:
		p, err = p.Cancel("user-1", "test")
	case StatusPartiallyRefunded:
		p = paymentInStatus(t, StatusCompleted)
		p, err = p.MarkRefunded("user-1", MustMoney(500, "USD"), "")
	case StatusRefunded:
		p = paymentInStatus(t, StatusCompleted)
		p, err = p.MarkRefunded("user-1", MustMoney(2200, "USD"), "")
	default:
		t.Fatalf("unhandled status %s", status)
	}
	require.NoError(t, err)
	require.Equal(t, status, p.Status())
	return p
}

func TestNewPayment_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewPaymentParams)
		field  string
	}{
		{"zero amount", func(p *NewPaymentParams) { p.Amount = MustMoney(0, "USD") }, "amount"},
		{"negative amount", func(p *NewPaymentParams) { p.Amount = MustMoney(-100, "USD") }, "amount"},
		{"missing reference", func(p *NewPaymentParams) { p.TransactionReference = "" }, "transactionReference"},
		{"overlong reference", func(p *NewPaymentParams) {
			for len(p.TransactionReference) <= MaxTransactionReferenceLen {
				p.TransactionReference += "X"
			}
		}, "transactionReference"},
		{"missing order", func(p *NewPaymentParams) { p.OrderID = "" }, "orderId"},
		{"missing customer", func(p *NewPaymentParams) { p.CustomerID = "" }, "customerId"},
		{"missing agency", func(p *NewPaymentParams) { p.AgencyID = "" }, "agencyId"},
		{"missing gateway", func(p *NewPaymentParams) { p.Gateway = "" }, "gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			tt.mutate(&params)
			_, err := NewPayment(params, &fakeClock{}, &seqIDs{})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, CodeValidation, verr.Code())
		})
	}
}

func TestNewPayment_InitialState(t *testing.T) {
	p, clock := newTestPayment(t)

	assert.Equal(t, StatusPending, p.Status())
	assert.Equal(t, TypePayment, p.TransactionType())
	assert.Empty(t, p.AuditTrail())
	assert.Nil(t, p.RetryInfo())
	assert.Nil(t, p.ProcessedAt())
	assert.Nil(t, p.CompletedAt())
	assert.Equal(t, clock.Now(), p.InitiatedAt())
	assert.Equal(t, int64(0), p.RefundedAmount().Amount())
	assert.True(t, p.CanProcess())
	assert.True(t, p.CanCancel())
	assert.False(t, p.CanRefund())
	assert.False(t, p.CanRetry())
}

func TestPayment_HappyPath(t *testing.T) {
	p, clock := newTestPayment(t)

	processing, err := p.StartProcessing("user-1", "", "sending to gateway")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, processing.Status())
	require.NotNil(t, processing.ProcessedAt())
	assert.Equal(t, clock.Now(), *processing.ProcessedAt())

	clock.Advance(2 * time.Second)
	resp := &GatewayResponse{
		Success:              true,
		TransactionID:        "tx-1",
		GatewayTransactionID: "pi_123",
		ProcessedAt:          clock.Now(),
	}
	completed, err := processing.Complete("user-1", resp, "")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, completed.Status())
	require.NotNil(t, completed.CompletedAt())
	assert.Equal(t, clock.Now(), *completed.CompletedAt())
	assert.Equal(t, "pi_123", completed.GatewayTransactionID())

	trail := completed.AuditTrail()
	require.Len(t, trail, 2)
	assert.Equal(t, ActionProcessPayment, trail[0].Action)
	assert.Equal(t, ActionCompletePayment, trail[1].Action)
	require.NotNil(t, trail[1].GatewayResponse)
	assert.Equal(t, "pi_123", trail[1].GatewayResponse.GatewayTransactionID)
}

func TestPayment_TransitionTotality(t *testing.T) {
	statuses := []Status{
		StatusPending, StatusProcessing, StatusCompleted, StatusFailed,
		StatusCancelled, StatusRefunded, StatusPartiallyRefunded,
	}

	ops := map[string]struct {
		legalFrom map[Status]bool
		invoke    func(*Payment) (*Payment, error)
	}{
		"startProcessing": {
			legalFrom: map[Status]bool{StatusPending: true},
			invoke:    func(p *Payment) (*Payment, error) { return p.StartProcessing("user-1", "", "") },
		},
		"complete": {
			legalFrom: map[Status]bool{StatusProcessing: true},
			invoke: func(p *Payment) (*Payment, error) {
				return p.Complete("user-1", &GatewayResponse{Success: true}, "")
			},
		},
		"fail": {
			legalFrom: map[Status]bool{StatusProcessing: true},
			invoke: func(p *Payment) (*Payment, error) {
				return p.Fail("user-1", &GatewayResponse{Success: false}, "")
			},
		},
		"cancel": {
			legalFrom: map[Status]bool{StatusPending: true, StatusProcessing: true},
			invoke:    func(p *Payment) (*Payment, error) { return p.Cancel("user-1", "") },
		},
		"createRefund": {
			legalFrom: map[Status]bool{StatusCompleted: true},
			invoke: func(p *Payment) (*Payment, error) {
				return p.CreateRefund(MustMoney(100, "USD"), "user-1", "", nil)
			},
		},
	}

	for name, op := range ops {
		for _, status := range statuses {
			if op.legalFrom[status] {
				continue
			}
			t.Run(name+"_from_"+string(status), func(t *testing.T) {
				p := paymentInStatus(t, status)
				before := p.Status()
				trailLen := len(p.AuditTrail())

				_, err := op.invoke(p)
				var serr *StatusError
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, status, serr.Current)
				assert.Equal(t, CodeStatus, serr.Code())

				// Original is untouched by the failed operation.
				assert.Equal(t, before, p.Status())
				assert.Len(t, p.AuditTrail(), trailLen)
			})
		}
	}
}

func TestPayment_Immutability(t *testing.T) {
	p, _ := newTestPayment(t)

	first, err := p.StartProcessing("user-1", "", "")
	require.NoError(t, err)
	second, err := p.StartProcessing("user-2", "", "")
	require.NoError(t, err)

	// The original is unchanged by either call.
	assert.Equal(t, StatusPending, p.Status())
	assert.Empty(t, p.AuditTrail())
	assert.Nil(t, p.ProcessedAt())

	// The two results are independent values.
	assert.Equal(t, "user-1", first.AuditTrail()[0].PerformedBy)
	assert.Equal(t, "user-2", second.AuditTrail()[0].PerformedBy)

	// Mutating a returned trail copy does not leak into the aggregate.
	trail := first.AuditTrail()
	trail[0].Notes = "tampered"
	assert.Empty(t, first.AuditTrail()[0].Notes)
}

func TestPayment_AuditCompleteness(t *testing.T) {
	p, _ := newTestPayment(t)

	steps := []func(*Payment) (*Payment, error){
		func(p *Payment) (*Payment, error) { return p.StartProcessing("user-1", "", "") },
		func(p *Payment) (*Payment, error) {
			return p.Fail("user-1", &GatewayResponse{Success: false, Message: "declined"}, "")
		},
		func(p *Payment) (*Payment, error) { return p.Retry("user-1", "") },
		func(p *Payment) (*Payment, error) {
			return p.Complete("user-1", &GatewayResponse{Success: true}, "")
		},
		func(p *Payment) (*Payment, error) { return p.HandleGatewayCallback("system", &GatewayResponse{GatewayTransactionID: "pi_9"}, "") },
	}

	for _, step := range steps {
		var err error
		p, err = step(p)
		require.NoError(t, err)
	}

	trail := p.AuditTrail()
	require.Len(t, trail, len(steps))

	// Entries chain: each previousStatus equals the prior entry's newStatus,
	// and the first entry starts from pending.
	assert.Equal(t, StatusPending, trail[0].PreviousStatus)
	for i := 1; i < len(trail); i++ {
		assert.Equal(t, trail[i-1].NewStatus, trail[i].PreviousStatus,
			"entry %d does not chain", i)
	}
}

func TestPayment_BackoffSequence(t *testing.T) {
	p, clock := newTestPayment(t)
	start := clock.Now()

	fail := func(p *Payment) *Payment {
		t.Helper()
		failed, err := p.Fail("user-1", &GatewayResponse{Success: false, Message: "card declined"}, "")
		require.NoError(t, err)
		return failed
	}
	retry := func(p *Payment) *Payment {
		t.Helper()
		retried, err := p.Retry("user-1", "")
		require.NoError(t, err)
		return retried
	}

	p, err := p.StartProcessing("user-1", "", "")
	require.NoError(t, err)

	// First failure: attempt 1, next retry in 5 minutes.
	p = fail(p)
	info := p.RetryInfo()
	require.NotNil(t, info)
	assert.Equal(t, 1, info.AttemptNumber)
	assert.Equal(t, DefaultMaxAttempts, info.MaxAttempts)
	assert.Equal(t, DefaultBackoffMultiplier, info.BackoffMultiplier)
	assert.Equal(t, "card declined", info.LastFailureReason)
	require.NotNil(t, info.NextRetryAt)
	assert.Equal(t, start.Add(5*time.Minute), *info.NextRetryAt)
	assert.True(t, p.CanRetry())

	// Second failure: attempt 2, next retry in 10 minutes.
	p = fail(retry(p))
	info = p.RetryInfo()
	assert.Equal(t, 2, info.AttemptNumber)
	require.NotNil(t, info.NextRetryAt)
	assert.Equal(t, start.Add(10*time.Minute), *info.NextRetryAt)
	assert.True(t, p.CanRetry())

	// Third failure reaches maxAttempts: no further window is scheduled.
	p = fail(retry(p))
	info = p.RetryInfo()
	assert.Equal(t, 3, info.AttemptNumber)
	assert.Nil(t, info.NextRetryAt)
	assert.False(t, p.CanRetry())

	// A fourth retry fails with the terminal retry-limit error.
	_, err = p.Retry("user-1", "")
	var rerr *RetryLimitExceededError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Equal(t, 3, rerr.MaxAttempts)
	assert.Equal(t, CodeRetryLimitExceeded, rerr.Code())
}

func TestPayment_RetryPreservesAttemptCounter(t *testing.T) {
	p := paymentInStatus(t, StatusFailed)
	require.Equal(t, 1, p.RetryInfo().AttemptNumber)

	retried, err := p.Retry("user-1", "manual retry")
	require.NoError(t, err)

	assert.Equal(t, StatusProcessing, retried.Status())
	info := retried.RetryInfo()
	require.NotNil(t, info)
	assert.Equal(t, 1, info.AttemptNumber)
	assert.Nil(t, info.NextRetryAt)
}

func TestPayment_Cancel(t *testing.T) {
	p := paymentInStatus(t, StatusProcessing)

	cancelled, err := p.Cancel("user-1", "customer withdrew order")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status())
	assert.True(t, cancelled.Status().IsTerminal())
	trail := cancelled.AuditTrail()
	last := trail[len(trail)-1]
	assert.Equal(t, ActionCancelPayment, last.Action)
	assert.Equal(t, "customer withdrew order", last.Notes)
}

func TestPayment_CreateRefund(t *testing.T) {
	t.Run("full refund is tagged refund", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)
		refund, err := p.CreateRefund(MustMoney(2200, "USD"), "user-1", "damaged goods", nil)
		require.NoError(t, err)

		assert.Equal(t, TypeRefund, refund.TransactionType())
		assert.Equal(t, StatusPending, refund.Status())
		assert.Equal(t, MustMoney(2200, "USD"), refund.Amount())

		trail := refund.AuditTrail()
		require.Len(t, trail, 1)
		assert.Equal(t, ActionInitiateRefund, trail[0].Action)
		assert.Equal(t, p.ID(), trail[0].Metadata["original_payment_id"])

		// Deriving a refund does not mutate the original.
		assert.Equal(t, StatusCompleted, p.Status())
	})

	t.Run("partial refund is tagged partial_refund", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)
		refund, err := p.CreateRefund(MustMoney(500, "USD"), "user-1", "", nil)
		require.NoError(t, err)
		assert.Equal(t, TypePartialRefund, refund.TransactionType())
	})

	t.Run("over-refund is rejected with the cap", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)
		_, err := p.CreateRefund(MustMoney(15000, "USD"), "user-1", "", nil)
		var rerr *InvalidRefundAmountError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, MustMoney(2200, "USD"), rerr.Original)
		assert.Equal(t, int64(0), rerr.AlreadyRefunded.Amount())
	})

	t.Run("non-positive amounts are rejected", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)
		for _, amount := range []int64{0, -100} {
			_, err := p.CreateRefund(MustMoney(amount, "USD"), "user-1", "", nil)
			var rerr *InvalidRefundAmountError
			require.ErrorAs(t, err, &rerr)
		}
	})

	t.Run("currency mismatch is rejected", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)
		_, err := p.CreateRefund(MustMoney(500, "EUR"), "user-1", "", nil)
		var rerr *InvalidRefundAmountError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("partially refunded payment accepts a second refund", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)
		p, err := p.MarkRefunded("user-1", MustMoney(2000, "USD"), "")
		require.NoError(t, err)
		require.Equal(t, StatusPartiallyRefunded, p.Status())
		require.True(t, p.CanRefund())

		// 200 remains and stays refundable from partially_refunded.
		refund, err := p.CreateRefund(MustMoney(200, "USD"), "user-1", "", nil)
		require.NoError(t, err)
		assert.Equal(t, TypeRefund, refund.TransactionType())
	})

	t.Run("bound shrinks as refunds accumulate", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)
		p, err := p.MarkRefunded("user-1", MustMoney(2000, "USD"), "")
		require.NoError(t, err)

		_, err = p.CreateRefund(MustMoney(300, "USD"), "user-1", "", nil)
		var rerr *InvalidRefundAmountError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, int64(2000), rerr.AlreadyRefunded.Amount())
	})
}

func TestPayment_MarkRefunded(t *testing.T) {
	t.Run("partial then full accumulates to refunded", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)

		p, err := p.MarkRefunded("user-1", MustMoney(500, "USD"), "first refund")
		require.NoError(t, err)
		assert.Equal(t, StatusPartiallyRefunded, p.Status())
		assert.Equal(t, int64(500), p.RefundedAmount().Amount())
		assert.Equal(t, int64(1700), p.RemainingRefundable().Amount())

		p, err = p.MarkRefunded("user-1", MustMoney(1700, "USD"), "second refund")
		require.NoError(t, err)
		assert.Equal(t, StatusRefunded, p.Status())
		assert.Equal(t, int64(2200), p.RefundedAmount().Amount())
		assert.True(t, p.Status().IsTerminal())
	})

	t.Run("accumulation below the total keeps partially refunded", func(t *testing.T) {
		p := paymentInStatus(t, StatusCompleted)

		p, err := p.MarkRefunded("user-1", MustMoney(500, "USD"), "")
		require.NoError(t, err)
		p, err = p.MarkRefunded("user-1", MustMoney(600, "USD"), "")
		require.NoError(t, err)

		assert.Equal(t, StatusPartiallyRefunded, p.Status())
		assert.Equal(t, int64(1100), p.RefundedAmount().Amount())
	})
}

func TestPayment_HandleGatewayCallback(t *testing.T) {
	p := paymentInStatus(t, StatusCompleted)
	trailLen := len(p.AuditTrail())

	updated, err := p.HandleGatewayCallback("system", &GatewayResponse{
		GatewayTransactionID: "pi_late",
		Success:              true,
	}, "late webhook")
	require.NoError(t, err)

	// Status-preserving: only the gateway id changes, plus one audit entry.
	assert.Equal(t, p.Status(), updated.Status())
	assert.Equal(t, "pi_late", updated.GatewayTransactionID())
	trail := updated.AuditTrail()
	require.Len(t, trail, trailLen+1)
	last := trail[len(trail)-1]
	assert.Equal(t, ActionGatewayCallback, last.Action)
	assert.Equal(t, last.PreviousStatus, last.NewStatus)
}

func TestPayment_MissingActor(t *testing.T) {
	p := paymentInStatus(t, StatusProcessing)

	_, err := p.Complete("", &GatewayResponse{Success: true}, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "actorId", verr.Field)
}

func TestRestorePayment(t *testing.T) {
	t.Run("round trip preserves state", func(t *testing.T) {
		p := paymentInStatus(t, StatusFailed)

		restored, err := RestorePayment(RestoreParams{
			ID:                   p.ID(),
			OrderID:              p.OrderID(),
			OrderNumber:          p.OrderNumber(),
			CustomerID:           p.CustomerID(),
			CustomerName:         p.CustomerName(),
			AgencyID:             p.AgencyID(),
			Amount:               p.Amount(),
			Method:               p.Method(),
			Gateway:              p.Gateway(),
			TransactionReference: p.TransactionReference(),
			Status:               p.Status(),
			TransactionType:      p.TransactionType(),
			RetryInfo:            p.RetryInfo(),
			AuditTrail:           p.AuditTrail(),
			InitiatedAt:          p.InitiatedAt(),
			ProcessedAt:          p.ProcessedAt(),
			UpdatedAt:            p.UpdatedAt(),
			UpdatedBy:            p.UpdatedBy(),
			Version:              3,
		}, nil, nil)
		require.NoError(t, err)

		assert.Equal(t, p.Status(), restored.Status())
		assert.Equal(t, p.RetryInfo().AttemptNumber, restored.RetryInfo().AttemptNumber)
		assert.Len(t, restored.AuditTrail(), len(p.AuditTrail()))
		assert.Equal(t, int64(3), restored.Version())
		assert.True(t, restored.CanRetry())
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := RestorePayment(RestoreParams{ID: "p1", Status: Status("half-paid")}, nil, nil)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("rejects missing id", func(t *testing.T) {
		_, err := RestorePayment(RestoreParams{Status: StatusPending}, nil, nil)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}
