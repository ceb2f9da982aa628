package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeGateway implements Gateway for Stripe.
type StripeGateway struct {
	webhookSecret string
}

// NewStripeGateway creates a Stripe gateway adapter.
func NewStripeGateway(cfg *StripeConfig) *StripeGateway {
	stripe.Key = cfg.APIKey
	return &StripeGateway{webhookSecret: cfg.WebhookSecret}
}

// Name returns the processor identifier.
func (g *StripeGateway) Name() string { return "stripe" }

// Charge creates and confirms a PaymentIntent for the payment. Card declines
// come back as unsuccessful responses; transport and API errors are returned
// as errors.
func (g *StripeGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		Confirm:  stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Metadata: map[string]string{
			"payment_id": req.PaymentID,
			"reference":  req.Reference,
		},
	}
	params.Context = ctx
	if req.Customer != "" {
		params.Customer = stripe.String(req.Customer)
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		if declined, resp := stripeDecline(err); declined {
			return &ChargeResult{Response: resp}, nil
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return &ChargeResult{Response: intentResponse(pi)}, nil
}

// Refund refunds part or all of a confirmed PaymentIntent.
func (g *StripeGateway) Refund(ctx context.Context, req *RefundRequest) (*domain.GatewayResponse, error) {
	if req.GatewayTransactionID == "" {
		return nil, errors.New("missing gateway transaction id for refund")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.GatewayTransactionID),
		Amount:        stripe.Int64(req.Amount),
		Metadata: map[string]string{
			"payment_id": req.PaymentID,
			"refund_id":  req.RefundID,
		},
	}
	params.Context = ctx
	if req.Reason != "" {
		params.Reason = stripe.String(string(stripe.RefundReasonRequestedByCustomer))
	}

	r, err := refund.New(params)
	if err != nil {
		if declined, resp := stripeDecline(err); declined {
			return resp, nil
		}
		return nil, fmt.Errorf("create refund: %w", err)
	}

	return &domain.GatewayResponse{
		Success:              r.Status == stripe.RefundStatusSucceeded || r.Status == stripe.RefundStatusPending,
		TransactionID:        r.ID,
		GatewayTransactionID: req.GatewayTransactionID,
		ProcessedAt:          time.Unix(r.Created, 0),
	}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header against the
// endpoint secret.
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature string) error {
	_, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	return err
}

// ParseNotification parses a verified Stripe event into the normalized shape.
func (g *StripeGateway) ParseNotification(ctx context.Context, body []byte, headers map[string]string) (*Notification, error) {
	event, err := webhook.ConstructEvent(body, headers["Stripe-Signature"], g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify event: %w", err)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}

	n := &Notification{
		EventID:              event.ID,
		Gateway:              g.Name(),
		PaymentID:            pi.Metadata["payment_id"],
		GatewayTransactionID: pi.ID,
		RawData:              string(body),
		AckResponse:          `{"received": true}`,
	}

	switch event.Type {
	case "payment_intent.succeeded":
		n.Success = true
	case "payment_intent.payment_failed":
		if pi.LastPaymentError != nil {
			n.ErrorCode = string(pi.LastPaymentError.Code)
			n.Message = pi.LastPaymentError.Msg
		}
	case "payment_intent.canceled":
		n.Closed = true
	default:
		n.Ignore = true
		n.Message = string(event.Type)
	}

	return n, nil
}

// intentResponse maps a PaymentIntent to the normalized gateway response.
func intentResponse(pi *stripe.PaymentIntent) *domain.GatewayResponse {
	resp := &domain.GatewayResponse{
		TransactionID:        pi.ID,
		GatewayTransactionID: pi.ID,
		ProcessedAt:          time.Unix(pi.Created, 0),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		resp.Success = true
	default:
		resp.Message = "payment intent status " + string(pi.Status)
		if pi.LastPaymentError != nil {
			resp.ErrorCode = string(pi.LastPaymentError.Code)
			resp.Message = pi.LastPaymentError.Msg
		}
	}
	return resp
}

// stripeDecline distinguishes card declines from transport errors. Declines
// are part of the normal fail/retry pathway, not exceptional.
func stripeDecline(err error) (bool, *domain.GatewayResponse) {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return false, nil
	}
	if sErr.Type != stripe.ErrorTypeCard {
		return false, nil
	}
	resp := &domain.GatewayResponse{
		Success:     false,
		ErrorCode:   string(sErr.Code),
		Message:     sErr.Msg,
		ProcessedAt: time.Now(),
	}
	if sErr.PaymentIntent != nil {
		resp.GatewayTransactionID = sErr.PaymentIntent.ID
	}
	return true, resp
}
