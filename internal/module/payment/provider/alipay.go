package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/alipay"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
)

const alipaySuccessCode = "10000"

// AlipayConfig holds Alipay credentials.
type AlipayConfig struct {
	AppID           string
	PrivateKey      string // RSA2 private key, PEM
	AlipayPublicKey string // Alipay public key for notify verification, PEM
	IsProd          bool
	NotifyURL       string // where Alipay posts async trade notifications
}

// AlipayGateway implements Gateway for Alipay scan-to-pay. Charges are
// asynchronous: the charge call precreates a trade and returns a pending
// result with a QR code; confirmation arrives via the async notification.
type AlipayGateway struct {
	client    *alipay.Client
	publicKey string
}

// NewAlipayGateway creates an Alipay gateway adapter.
func NewAlipayGateway(cfg *AlipayConfig) (*AlipayGateway, error) {
	client, err := alipay.NewClient(cfg.AppID, cfg.PrivateKey, cfg.IsProd)
	if err != nil {
		return nil, fmt.Errorf("create alipay client: %w", err)
	}
	client.AutoVerifySign([]byte(cfg.AlipayPublicKey))
	if cfg.NotifyURL != "" {
		client.SetNotifyUrl(cfg.NotifyURL)
	}

	return &AlipayGateway{client: client, publicKey: cfg.AlipayPublicKey}, nil
}

// Name returns the processor identifier.
func (g *AlipayGateway) Name() string { return "alipay" }

// Charge precreates an Alipay trade for scan payment. The result is pending;
// the payment completes or fails on the async notification.
func (g *AlipayGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	bm := make(gopay.BodyMap)
	bm.Set("out_trade_no", req.PaymentID)
	bm.Set("total_amount", yuan(req.Amount))
	bm.Set("subject", req.Subject)
	bm.Set("product_code", "FACE_TO_FACE_PAYMENT")
	bm.Set("timeout_express", "30m")
	if len(req.Metadata) > 0 {
		passback, _ := json.Marshal(req.Metadata)
		bm.Set("passback_params", string(passback))
	}

	resp, err := g.client.TradePrecreate(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("precreate trade: %w", err)
	}
	if resp.Response.Code != alipaySuccessCode {
		// Business rejection from Alipay, normalized as a declined charge.
		return &ChargeResult{
			Response: &domain.GatewayResponse{
				Success:     false,
				ErrorCode:   resp.Response.Code,
				Message:     resp.Response.Msg,
				ProcessedAt: time.Now(),
			},
		}, nil
	}

	return &ChargeResult{
		Response: &domain.GatewayResponse{
			Success:       false,
			TransactionID: resp.Response.OutTradeNo,
			ProcessedAt:   time.Now(),
		},
		Pending: true,
		QRCode:  resp.Response.QrCode,
	}, nil
}

// Refund refunds a paid trade. Alipay refunds settle synchronously.
func (g *AlipayGateway) Refund(ctx context.Context, req *RefundRequest) (*domain.GatewayResponse, error) {
	bm := make(gopay.BodyMap)
	if req.GatewayTransactionID != "" {
		bm.Set("trade_no", req.GatewayTransactionID)
	} else {
		bm.Set("out_trade_no", req.PaymentID)
	}
	bm.Set("out_request_no", req.RefundID)
	bm.Set("refund_amount", yuan(req.Amount))
	if req.Reason != "" {
		bm.Set("refund_reason", req.Reason)
	}

	resp, err := g.client.TradeRefund(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("refund trade: %w", err)
	}
	if resp.Response.Code != alipaySuccessCode {
		return &domain.GatewayResponse{
			Success:     false,
			ErrorCode:   resp.Response.Code,
			Message:     resp.Response.Msg,
			ProcessedAt: time.Now(),
		}, nil
	}

	return &domain.GatewayResponse{
		Success:              true,
		TransactionID:        resp.Response.TradeNo,
		GatewayTransactionID: resp.Response.TradeNo,
		ProcessedAt:          time.Now(),
	}, nil
}

// VerifyWebhookSignature is a no-op for Alipay; verification happens inside
// ParseNotification against the form-encoded body.
func (g *AlipayGateway) VerifyWebhookSignature(payload []byte, signature string) error {
	return nil
}

// ParseNotification parses and verifies an Alipay async notification.
func (g *AlipayGateway) ParseNotification(ctx context.Context, body []byte, headers map[string]string) (*Notification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	bm, err := alipay.ParseNotifyToBodyMap(req)
	if err != nil {
		return nil, fmt.Errorf("parse notify: %w", err)
	}

	ok, err := alipay.VerifySign(g.publicKey, bm)
	if err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	if !ok {
		return nil, errors.New("invalid notify signature")
	}

	raw, _ := json.Marshal(bm)
	n := &Notification{
		EventID:              g.Name() + ":" + bm.Get("trade_no"),
		Gateway:              g.Name(),
		PaymentID:            bm.Get("out_trade_no"),
		GatewayTransactionID: bm.Get("trade_no"),
		RawData:              string(raw),
		AckResponse:          "success",
	}

	switch bm.Get("trade_status") {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		n.Success = true
	case "TRADE_CLOSED":
		n.Closed = true
		n.Message = "trade closed"
	default:
		// WAIT_BUYER_PAY and other intermediate states change nothing.
		n.Ignore = true
		n.Message = bm.Get("trade_status")
	}

	return n, nil
}

// yuan renders a minor-unit amount as a yuan string with two decimals.
func yuan(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
