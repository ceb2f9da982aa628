package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
	"github.com/flowlytix/payment-service/internal/module/payment/provider"
	"github.com/flowlytix/payment-service/internal/utils/metrics"
	"github.com/flowlytix/payment-service/internal/utils/random"
)

// gatewayCallTimeout bounds a single charge or refund call to a processor.
const gatewayCallTimeout = 30 * time.Second

// Service implements payment operations.
type Service struct {
	repo     Repository
	registry *GatewayRegistry
	breakers *gatewayBreakers
	clock    domain.Clock
	ids      domain.IDGenerator
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewService creates a new payment service.
func NewService(
	repo Repository,
	registry *GatewayRegistry,
	breakerConfig *BreakerConfig,
	clock domain.Clock,
	ids domain.IDGenerator,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if ids == nil {
		ids = domain.UUIDGenerator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		registry: registry,
		breakers: newGatewayBreakers(breakerConfig, m),
		clock:    clock,
		ids:      ids,
		logger:   logger,
		metrics:  m,
	}
}

// CreatePayment validates the request and persists a new pending payment.
// A missing transaction reference is generated. A duplicate reference within
// the agency returns ErrDuplicateReference.
func (s *Service) CreatePayment(ctx context.Context, agencyID, actorID string, req *CreatePaymentRequest) (*domain.Payment, error) {
	amount, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	reference := req.TransactionReference
	if reference == "" {
		reference = "TXN-" + random.UpperAlphaNum(16)
	}

	p, err := domain.NewPayment(domain.NewPaymentParams{
		OrderID:              req.OrderID,
		OrderNumber:          req.OrderNumber,
		CustomerID:           req.CustomerID,
		CustomerName:         req.CustomerName,
		AgencyID:             agencyID,
		Amount:               amount,
		Method:               req.Method,
		Gateway:              req.Gateway,
		TransactionReference: reference,
		CreatedBy:            actorID,
	}, s.clock, s.ids)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("payment created",
		zap.String("payment_id", p.ID()),
		zap.String("agency_id", agencyID),
		zap.String("reference", p.TransactionReference()),
		zap.String("gateway", p.Gateway()),
		zap.Int64("amount", p.Amount().Amount()),
		zap.String("currency", p.Amount().Currency()),
	)
	return p, nil
}

// ProcessPayment moves a pending payment into processing and submits it to
// its gateway. Gateway declines and transport failures both land the payment
// in failed with retry state; only precondition violations return an error
// without a state change.
func (s *Service) ProcessPayment(ctx context.Context, paymentID, actorID string, req *ProcessPaymentRequest) (*ProcessPaymentResponse, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	processing, err := p.StartProcessing(actorID, "", "")
	if err != nil {
		return nil, err
	}
	processing, err = s.update(ctx, processing, p.Status())
	if err != nil {
		return nil, err
	}

	return s.charge(ctx, processing, actorID, req)
}

// charge submits a processing payment to its gateway and settles the result.
// Out-of-band methods (cash, credit, bank transfer) have no gateway and stay
// in processing until settled through CompletePayment or FailPayment.
func (s *Service) charge(ctx context.Context, p *domain.Payment, actorID string, req *ProcessPaymentRequest) (*ProcessPaymentResponse, error) {
	gateway, err := s.registry.Get(p.Gateway())
	if err != nil {
		if !p.Method().UsesGateway() {
			return &ProcessPaymentResponse{Payment: PaymentToResponse(p, false), Pending: true}, nil
		}
		// The recorded gateway name may predate a config rename; fall back
		// to routing by method.
		gateway, err = s.registry.GetByMethod(p.Method())
		if err != nil {
			return nil, err
		}
	}

	chargeReq := &provider.ChargeRequest{
		PaymentID: p.ID(),
		Reference: p.TransactionReference(),
		Amount:    p.Amount().Amount(),
		Currency:  p.Amount().Currency(),
		Customer:  p.CustomerID(),
		Subject:   fmt.Sprintf("Order %s", p.OrderNumber()),
		Metadata: map[string]string{
			"payment_id": p.ID(),
			"agency_id":  p.AgencyID(),
			"order_id":   p.OrderID(),
		},
	}
	if req != nil && req.PaymentMethodToken != "" {
		chargeReq.Metadata["payment_method_token"] = req.PaymentMethodToken
	}

	start := s.clock.Now()
	raw, err := s.breakers.Execute(gateway.Name(), func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
		defer cancel()
		return gateway.Charge(callCtx, chargeReq)
	})

	var result *provider.ChargeResult
	if err != nil {
		// A transport failure is a failed attempt, not an exception: the
		// payment takes the fail path and becomes eligible for retry.
		s.logger.Warn("gateway charge failed",
			zap.String("payment_id", p.ID()),
			zap.String("gateway", gateway.Name()),
			zap.Error(err),
		)
		s.recordGatewayCall(gateway.Name(), "charge", "error", start)
		result = &provider.ChargeResult{Response: &domain.GatewayResponse{
			Success:   false,
			ErrorCode: "gateway_error",
			Message:   err.Error(),
		}}
	} else {
		result = raw.(*provider.ChargeResult)
		status := "success"
		if !result.Pending && !result.Response.Success {
			status = "declined"
		}
		s.recordGatewayCall(gateway.Name(), "charge", status, start)
	}

	if result.Pending {
		updated, err := p.HandleGatewayCallback(actorID, result.Response, "awaiting gateway confirmation")
		if err != nil {
			return nil, err
		}
		updated, err = s.update(ctx, updated, p.Status())
		if err != nil {
			return nil, err
		}
		return &ProcessPaymentResponse{
			Payment: PaymentToResponse(updated, false),
			Pending: true,
			PayURL:  result.PayURL,
			QRCode:  result.QRCode,
		}, nil
	}

	settled, err := s.settle(ctx, p, actorID, result.Response)
	if err != nil {
		return nil, err
	}
	return &ProcessPaymentResponse{Payment: PaymentToResponse(settled, false)}, nil
}

// settle applies a final gateway response to a processing payment.
func (s *Service) settle(ctx context.Context, p *domain.Payment, actorID string, resp *domain.GatewayResponse) (*domain.Payment, error) {
	var (
		updated *domain.Payment
		err     error
	)
	if resp.Success {
		updated, err = p.Complete(actorID, resp, "")
	} else {
		updated, err = p.Fail(actorID, resp, "")
	}
	if err != nil {
		return nil, err
	}

	updated, err = s.update(ctx, updated, p.Status())
	if err != nil {
		return nil, err
	}

	if resp.Success {
		s.recordCompleted(updated)
		if updated.TransactionType() != domain.TypePayment {
			s.applyRefundToOriginal(ctx, updated, actorID)
		}
	} else {
		if s.metrics != nil {
			s.metrics.RecordPayment(updated.Gateway(), string(updated.Method()), string(updated.Status()))
			if ri := updated.RetryInfo(); ri != nil {
				outcome := "scheduled"
				if ri.Exhausted() {
					outcome = "exhausted"
				}
				s.metrics.RecordRetry(updated.Gateway(), outcome)
			}
		}
		s.logger.Warn("payment failed",
			zap.String("payment_id", updated.ID()),
			zap.String("reason", resp.FailureReason()),
		)
	}
	return updated, nil
}

// CompletePayment records a successful out-of-band settlement.
func (s *Service) CompletePayment(ctx context.Context, paymentID, actorID string, req *CompletePaymentRequest) (*domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	resp := &domain.GatewayResponse{
		Success:              true,
		TransactionID:        s.ids.NewID(),
		GatewayTransactionID: req.GatewayTransactionID,
		Message:              "settled manually",
		ProcessedAt:          s.clock.Now(),
	}
	updated, err := p.Complete(actorID, resp, req.Notes)
	if err != nil {
		return nil, err
	}
	updated, err = s.update(ctx, updated, p.Status())
	if err != nil {
		return nil, err
	}

	s.recordCompleted(updated)
	if updated.TransactionType() != domain.TypePayment {
		s.applyRefundToOriginal(ctx, updated, actorID)
	}
	return updated, nil
}

// FailPayment records a manual failure for a processing payment.
func (s *Service) FailPayment(ctx context.Context, paymentID, actorID string, req *FailPaymentRequest) (*domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	resp := &domain.GatewayResponse{
		Success:     false,
		Message:     req.Reason,
		ProcessedAt: s.clock.Now(),
	}
	updated, err := p.Fail(actorID, resp, "")
	if err != nil {
		return nil, err
	}
	return s.update(ctx, updated, p.Status())
}

// CancelPayment abandons a payment before completion.
func (s *Service) CancelPayment(ctx context.Context, paymentID, actorID string, req *CancelPaymentRequest) (*domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	reason := ""
	if req != nil {
		reason = req.Reason
	}
	updated, err := p.Cancel(actorID, reason)
	if err != nil {
		return nil, err
	}
	updated, err = s.update(ctx, updated, p.Status())
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordPayment(updated.Gateway(), string(updated.Method()), string(updated.Status()))
	}
	s.logger.Info("payment cancelled",
		zap.String("payment_id", updated.ID()),
		zap.String("actor", actorID),
	)
	return updated, nil
}

// RetryPayment re-submits a failed payment to its gateway. A retry before the
// backoff window has opened returns ErrRetryNotDue; an exhausted payment
// returns RetryLimitExceededError from the aggregate.
func (s *Service) RetryPayment(ctx context.Context, paymentID, actorID string) (*ProcessPaymentResponse, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if ri := p.RetryInfo(); ri != nil && ri.NextRetryAt != nil && s.clock.Now().Before(*ri.NextRetryAt) {
		return nil, fmt.Errorf("%w: next retry at %s", ErrRetryNotDue, ri.NextRetryAt.Format(time.RFC3339))
	}

	retrying, err := p.Retry(actorID, "")
	if err != nil {
		return nil, err
	}
	retrying, err = s.update(ctx, retrying, p.Status())
	if err != nil {
		return nil, err
	}

	return s.charge(ctx, retrying, actorID, nil)
}

// RefundPayment creates a refund transaction against a completed payment and
// drives it through the gateway. A zero amount refunds the full remaining
// balance. On success the original payment's refunded total is advanced under
// its optimistic lock.
func (s *Service) RefundPayment(ctx context.Context, paymentID, actorID string, req *RefundPaymentRequest) (*domain.Payment, error) {
	original, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	// Cross-check the aggregate's refunded total against completed refund
	// transactions before authorizing more money out.
	persisted, err := s.repo.SumCompletedRefunds(ctx, original.ID())
	if err != nil {
		return nil, err
	}
	if persisted != original.RefundedAmount().Amount() {
		s.logger.Error("refund totals diverge",
			zap.String("payment_id", original.ID()),
			zap.Int64("aggregate_total", original.RefundedAmount().Amount()),
			zap.Int64("persisted_total", persisted),
		)
		return nil, ErrRefundTotalsConflict
	}

	amount := req.Amount
	if amount == 0 {
		amount = original.RemainingRefundable().Amount()
	}
	refundAmount, err := domain.NewMoney(amount, original.Amount().Currency())
	if err != nil {
		return nil, err
	}

	refund, err := original.CreateRefund(refundAmount, actorID, req.Reason, nil)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, refund); err != nil {
		return nil, err
	}

	s.logger.Info("refund created",
		zap.String("refund_id", refund.ID()),
		zap.String("original_payment_id", original.ID()),
		zap.Int64("amount", refundAmount.Amount()),
		zap.String("type", string(refund.TransactionType())),
	)

	processing, err := refund.StartProcessing(actorID, "", "")
	if err != nil {
		return nil, err
	}
	processing, err = s.update(ctx, processing, refund.Status())
	if err != nil {
		return nil, err
	}

	gateway, err := s.registry.Get(original.Gateway())
	if err != nil {
		if !original.Method().UsesGateway() {
			// Out-of-band refunds settle through CompletePayment.
			return processing, nil
		}
		return nil, err
	}

	refundReq := &provider.RefundRequest{
		PaymentID:            original.ID(),
		Reference:            original.TransactionReference(),
		GatewayTransactionID: original.GatewayTransactionID(),
		RefundID:             processing.ID(),
		Amount:               refundAmount.Amount(),
		TotalAmount:          original.Amount().Amount(),
		Currency:             refundAmount.Currency(),
		Reason:               req.Reason,
	}

	start := s.clock.Now()
	raw, err := s.breakers.Execute(gateway.Name(), func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
		defer cancel()
		return gateway.Refund(callCtx, refundReq)
	})

	var resp *domain.GatewayResponse
	if err != nil {
		s.recordGatewayCall(gateway.Name(), "refund", "error", start)
		resp = &domain.GatewayResponse{Success: false, ErrorCode: "gateway_error", Message: err.Error()}
	} else {
		resp = raw.(*domain.GatewayResponse)
		status := "success"
		if !resp.Success {
			status = "declined"
		}
		s.recordGatewayCall(gateway.Name(), "refund", status, start)
	}

	return s.settle(ctx, processing, actorID, resp)
}

// applyRefundToOriginal advances the original payment's refunded total after
// a refund transaction completes. The write runs under the original's
// optimistic lock; a concurrent refund surfaces as ErrStaleAggregate and the
// totals cross-check in RefundPayment catches the divergence next time.
func (s *Service) applyRefundToOriginal(ctx context.Context, refund *domain.Payment, actorID string) {
	originalID := refund.OriginalPaymentID()
	if originalID == "" {
		s.logger.Error("refund has no original payment reference",
			zap.String("refund_id", refund.ID()),
		)
		return
	}

	original, err := s.repo.FindByID(ctx, originalID)
	if err != nil {
		s.logger.Error("load original payment for refund",
			zap.String("refund_id", refund.ID()),
			zap.String("original_payment_id", originalID),
			zap.Error(err),
		)
		return
	}

	updated, err := original.MarkRefunded(actorID, refund.Amount(), "refund "+refund.TransactionReference())
	if err != nil {
		s.logger.Error("mark original payment refunded",
			zap.String("original_payment_id", originalID),
			zap.Error(err),
		)
		return
	}

	if _, err := s.update(ctx, updated, original.Status()); err != nil {
		s.logger.Error("persist refunded total",
			zap.String("original_payment_id", originalID),
			zap.Error(err),
		)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordRefund(
			refund.Gateway(),
			string(refund.TransactionType()),
			refund.Amount().Currency(),
			refund.Amount().Amount(),
		)
	}
}

// GetPayment returns a payment by ID.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.repo.FindByID(ctx, paymentID)
}

// GetPaymentByReference returns a payment by its agency-scoped reference.
func (s *Service) GetPaymentByReference(ctx context.Context, agencyID, reference string) (*domain.Payment, error) {
	return s.repo.FindByTransactionReference(ctx, agencyID, reference)
}

// GetPaymentByGatewayTransactionID returns a payment by the processor's
// transaction identifier.
func (s *Service) GetPaymentByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error) {
	return s.repo.FindByGatewayTransactionID(ctx, gatewayTransactionID)
}

// ListPaymentsByOrder returns all payments recorded against an order.
func (s *Service) ListPaymentsByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// ListPayments returns a page of an agency's payments.
func (s *Service) ListPayments(ctx context.Context, agencyID string, query *ListPaymentsQuery) (*ListPaymentsResponse, error) {
	page := &query.Pagination
	filter := ListFilter{Status: query.Status, OrderID: query.OrderID}
	payments, total, err := s.repo.ListByAgency(ctx, agencyID, filter, page)
	if err != nil {
		return nil, err
	}

	responses := make([]*PaymentResponse, len(payments))
	for i, p := range payments {
		responses[i] = PaymentToResponse(p, false)
	}
	return &ListPaymentsResponse{
		Payments: responses,
		PageInfo: page.Info(total),
	}, nil
}

// GetStatistics returns aggregate payment figures for an agency.
func (s *Service) GetStatistics(ctx context.Context, agencyID string) (*Statistics, error) {
	return s.repo.GetStatistics(ctx, agencyID)
}

// --- Webhooks ---

// webhookActor attributes webhook-driven transitions in the audit trail.
const webhookActor = "gateway-webhook"

// HandleNotification processes a verified asynchronous gateway notification.
// Duplicate events are acknowledged without reprocessing. The returned string
// is the acknowledgement body the gateway expects.
func (s *Service) HandleNotification(ctx context.Context, gatewayName string, body []byte, headers map[string]string) (string, error) {
	gateway, err := s.registry.Get(gatewayName)
	if err != nil {
		return "", err
	}

	notif, err := gateway.ParseNotification(ctx, body, headers)
	if err != nil {
		s.recordWebhook(gatewayName, "invalid")
		return "", fmt.Errorf("parse notification: %w", err)
	}

	event := &WebhookEvent{
		Gateway:   gatewayName,
		EventID:   notif.EventID,
		EventType: "payment",
		PaymentID: notif.PaymentID,
		Data:      notif.RawData,
	}
	if err := s.repo.CreateWebhookEvent(ctx, event); err != nil {
		if errors.Is(err, ErrWebhookEventExists) {
			s.recordWebhook(gatewayName, "duplicate")
			s.logger.Info("webhook event already processed",
				zap.String("gateway", gatewayName),
				zap.String("event_id", notif.EventID),
			)
			return notif.AckResponse, nil
		}
		return "", err
	}

	processErr := s.applyNotification(ctx, notif)
	if markErr := s.repo.MarkWebhookEventProcessed(ctx, gatewayName, notif.EventID, processErr); markErr != nil {
		s.logger.Error("mark webhook event processed", zap.Error(markErr))
	}

	if processErr != nil {
		s.recordWebhook(gatewayName, "error")
		return "", processErr
	}
	s.recordWebhook(gatewayName, "processed")
	return notif.AckResponse, nil
}

// applyNotification folds a notification into the referenced payment.
func (s *Service) applyNotification(ctx context.Context, notif *provider.Notification) error {
	if notif.Ignore {
		s.logger.Debug("ignoring notification without lifecycle outcome",
			zap.String("gateway", notif.Gateway),
			zap.String("event_id", notif.EventID),
			zap.String("detail", notif.Message),
		)
		return nil
	}

	p, err := s.findNotificationTarget(ctx, notif)
	if err != nil {
		return err
	}

	// A payment already settled by a previous delivery is left alone.
	if p.Status().IsTerminal() && p.Status() != domain.StatusFailed {
		s.logger.Info("notification for settled payment ignored",
			zap.String("payment_id", p.ID()),
			zap.String("status", string(p.Status())),
		)
		return nil
	}

	switch {
	case notif.Success:
		if _, err := s.settle(ctx, p, webhookActor, notif.Response()); err != nil {
			return err
		}
	case notif.Closed:
		updated, err := p.Cancel(webhookActor, "closed by gateway")
		if err != nil {
			return err
		}
		if _, err := s.update(ctx, updated, p.Status()); err != nil {
			return err
		}
	default:
		if _, err := s.settle(ctx, p, webhookActor, notif.Response()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) findNotificationTarget(ctx context.Context, notif *provider.Notification) (*domain.Payment, error) {
	if notif.PaymentID != "" {
		p, err := s.repo.FindByID(ctx, notif.PaymentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}
	if notif.GatewayTransactionID != "" {
		return s.repo.FindByGatewayTransactionID(ctx, notif.GatewayTransactionID)
	}
	return nil, ErrPaymentNotFound
}

// VerifyWebhookSignature verifies a webhook payload for the named gateway.
func (s *Service) VerifyWebhookSignature(gatewayName string, payload []byte, signature string) error {
	gateway, err := s.registry.Get(gatewayName)
	if err != nil {
		return err
	}
	return gateway.VerifyWebhookSignature(payload, signature)
}

// --- internal helpers ---

// update persists a new aggregate state and records the status transition.
func (s *Service) update(ctx context.Context, p *domain.Payment, previous domain.Status) (*domain.Payment, error) {
	updated, err := s.repo.Update(ctx, p)
	if err != nil {
		return nil, err
	}
	if previous != updated.Status() && s.metrics != nil {
		s.metrics.RecordStatusTransition(string(previous), string(updated.Status()))
	}
	return updated, nil
}

func (s *Service) recordCompleted(p *domain.Payment) {
	if s.metrics != nil {
		s.metrics.RecordPayment(p.Gateway(), string(p.Method()), string(p.Status()))
		s.metrics.RecordPaymentAmount(p.Gateway(), p.Amount().Currency(), p.Amount().Amount())
	}
	s.logger.Info("payment completed",
		zap.String("payment_id", p.ID()),
		zap.String("gateway_transaction_id", p.GatewayTransactionID()),
	)
}

func (s *Service) recordGatewayCall(gateway, operation, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordGatewayRequest(gateway, operation, status, s.clock.Now().Sub(start))
	}
}

func (s *Service) recordWebhook(gateway, result string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(gateway, result)
	}
}
