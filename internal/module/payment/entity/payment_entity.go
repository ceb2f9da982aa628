package entity

import (
	"encoding/json"
	"time"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
)

// PaymentEntity is the GORM entity for a payment transaction. The version
// column backs the repository's optimistic concurrency check; the transaction
// reference is unique per agency.
type PaymentEntity struct {
	ID                   string `gorm:"primaryKey"`
	OrderID              string `gorm:"not null;index"`
	OrderNumber          string
	CustomerID           string `gorm:"not null;index"`
	CustomerName         string
	AgencyID             string `gorm:"not null;index;uniqueIndex:idx_agency_reference"`
	Amount               int64  `gorm:"not null"`
	Currency             string `gorm:"not null"`
	Method               string
	Gateway              string `gorm:"not null"`
	TransactionReference string `gorm:"not null;uniqueIndex:idx_agency_reference"`
	GatewayTransactionID string `gorm:"index"`
	Status               string `gorm:"not null;index;default:pending"`
	TransactionType      string `gorm:"not null;default:payment"`
	OriginalPaymentID    string `gorm:"index"` // set on refund transactions
	RefundedAmount       int64  `gorm:"default:0"`

	// Retry state; MaxAttempts > 0 marks presence.
	RetryAttemptNumber     int
	RetryMaxAttempts       int
	RetryBackoffMultiplier int
	NextRetryAt            *time.Time `gorm:"index"`
	LastFailureReason      string

	AuditTrail []AuditEntryEntity `gorm:"foreignKey:PaymentID;references:ID"`

	InitiatedAt time.Time `gorm:"not null"`
	ProcessedAt *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
	UpdatedBy   string
	Version     int64 `gorm:"not null;default:0"`
}

// TableName returns the database table name.
func (PaymentEntity) TableName() string {
	return "payments"
}

// AuditEntryEntity is one append-only audit trail row. Rows are only ever
// inserted, ordered by Seq within a payment.
type AuditEntryEntity struct {
	ID              string `gorm:"primaryKey"`
	PaymentID       string `gorm:"not null;index:idx_audit_payment_seq"`
	Seq             int    `gorm:"not null;index:idx_audit_payment_seq"`
	Action          string `gorm:"not null"`
	PreviousStatus  string `gorm:"not null"`
	NewStatus       string `gorm:"not null"`
	PerformedBy     string `gorm:"not null"`
	PerformedAt     time.Time
	GatewayResponse string `gorm:"type:jsonb"`
	Notes           string
	Metadata        string `gorm:"type:jsonb"`
}

// TableName returns the database table name.
func (AuditEntryEntity) TableName() string {
	return "payment_audit_entries"
}

// WebhookEventEntity stores processed gateway webhook events for idempotent
// ingestion.
type WebhookEventEntity struct {
	ID          string `gorm:"primaryKey"`
	Gateway     string `gorm:"not null;uniqueIndex:idx_gateway_event"`
	EventID     string `gorm:"not null;uniqueIndex:idx_gateway_event"`
	EventType   string
	PaymentID   string `gorm:"index"`
	Data        string `gorm:"type:jsonb"`
	Processed   bool   `gorm:"default:false"`
	ProcessedAt *time.Time
	Error       *string
	CreatedAt   time.Time
}

// TableName returns the database table name.
func (WebhookEventEntity) TableName() string {
	return "payment_webhook_events"
}

// gatewayResponseRecord is the serialized form of a gateway response inside an
// audit entry.
type gatewayResponseRecord struct {
	Success              bool      `json:"success"`
	TransactionID        string    `json:"transaction_id,omitempty"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	Message              string    `json:"message,omitempty"`
	ErrorCode            string    `json:"error_code,omitempty"`
	ProcessedAt          time.Time `json:"processed_at,omitempty"`
}

// FromDomain converts a domain payment into its entity form.
func FromDomain(p *domain.Payment) *PaymentEntity {
	e := &PaymentEntity{
		ID:                   p.ID(),
		OrderID:              p.OrderID(),
		OrderNumber:          p.OrderNumber(),
		CustomerID:           p.CustomerID(),
		CustomerName:         p.CustomerName(),
		AgencyID:             p.AgencyID(),
		Amount:               p.Amount().Amount(),
		Currency:             p.Amount().Currency(),
		Method:               string(p.Method()),
		Gateway:              p.Gateway(),
		TransactionReference: p.TransactionReference(),
		GatewayTransactionID: p.GatewayTransactionID(),
		Status:               string(p.Status()),
		TransactionType:      string(p.TransactionType()),
		RefundedAmount:       p.RefundedAmount().Amount(),
		InitiatedAt:          p.InitiatedAt(),
		ProcessedAt:          p.ProcessedAt(),
		CompletedAt:          p.CompletedAt(),
		UpdatedAt:            p.UpdatedAt(),
		UpdatedBy:            p.UpdatedBy(),
		Version:              p.Version(),
	}

	if info := p.RetryInfo(); info != nil {
		e.RetryAttemptNumber = info.AttemptNumber
		e.RetryMaxAttempts = info.MaxAttempts
		e.RetryBackoffMultiplier = info.BackoffMultiplier
		e.NextRetryAt = info.NextRetryAt
		e.LastFailureReason = info.LastFailureReason
	}

	trail := p.AuditTrail()
	e.AuditTrail = make([]AuditEntryEntity, len(trail))
	for i, entry := range trail {
		e.AuditTrail[i] = fromDomainAuditEntry(p.ID(), i, entry)
	}

	// Refund transactions carry their origin in the initiating audit entry;
	// lift it into a column so refund totals can be queried.
	switch p.TransactionType() {
	case domain.TypeRefund, domain.TypePartialRefund:
		if len(trail) > 0 {
			e.OriginalPaymentID = trail[0].Metadata["original_payment_id"]
		}
	}

	return e
}

func fromDomainAuditEntry(paymentID string, seq int, entry domain.AuditEntry) AuditEntryEntity {
	e := AuditEntryEntity{
		ID:             entry.ID,
		PaymentID:      paymentID,
		Seq:            seq,
		Action:         string(entry.Action),
		PreviousStatus: string(entry.PreviousStatus),
		NewStatus:      string(entry.NewStatus),
		PerformedBy:    entry.PerformedBy,
		PerformedAt:    entry.PerformedAt,
		Notes:          entry.Notes,
	}
	if entry.GatewayResponse != nil {
		data, _ := json.Marshal(gatewayResponseRecord{
			Success:              entry.GatewayResponse.Success,
			TransactionID:        entry.GatewayResponse.TransactionID,
			GatewayTransactionID: entry.GatewayResponse.GatewayTransactionID,
			Message:              entry.GatewayResponse.Message,
			ErrorCode:            entry.GatewayResponse.ErrorCode,
			ProcessedAt:          entry.GatewayResponse.ProcessedAt,
		})
		e.GatewayResponse = string(data)
	}
	if len(entry.Metadata) > 0 {
		data, _ := json.Marshal(entry.Metadata)
		e.Metadata = string(data)
	}
	return e
}

// ToDomain reconstructs the domain payment from its entity form.
func (e *PaymentEntity) ToDomain(clock domain.Clock, ids domain.IDGenerator) (*domain.Payment, error) {
	amount, err := domain.NewMoney(e.Amount, e.Currency)
	if err != nil {
		return nil, err
	}

	var retryInfo *domain.RetryInfo
	if e.RetryMaxAttempts > 0 {
		retryInfo = &domain.RetryInfo{
			AttemptNumber:     e.RetryAttemptNumber,
			MaxAttempts:       e.RetryMaxAttempts,
			BackoffMultiplier: e.RetryBackoffMultiplier,
			NextRetryAt:       e.NextRetryAt,
			LastFailureReason: e.LastFailureReason,
		}
	}

	trail := make([]domain.AuditEntry, len(e.AuditTrail))
	for i, row := range e.AuditTrail {
		trail[i] = row.toDomain()
	}

	return domain.RestorePayment(domain.RestoreParams{
		ID:                   e.ID,
		OrderID:              e.OrderID,
		OrderNumber:          e.OrderNumber,
		CustomerID:           e.CustomerID,
		CustomerName:         e.CustomerName,
		AgencyID:             e.AgencyID,
		Amount:               amount,
		Method:               domain.Method(e.Method),
		Gateway:              e.Gateway,
		TransactionReference: e.TransactionReference,
		GatewayTransactionID: e.GatewayTransactionID,
		Status:               domain.Status(e.Status),
		TransactionType:      domain.TransactionType(e.TransactionType),
		RefundedAmount:       e.RefundedAmount,
		RetryInfo:            retryInfo,
		AuditTrail:           trail,
		InitiatedAt:          e.InitiatedAt,
		ProcessedAt:          e.ProcessedAt,
		CompletedAt:          e.CompletedAt,
		UpdatedAt:            e.UpdatedAt,
		UpdatedBy:            e.UpdatedBy,
		Version:              e.Version,
	}, clock, ids)
}

func (e *AuditEntryEntity) toDomain() domain.AuditEntry {
	entry := domain.AuditEntry{
		ID:             e.ID,
		Action:         domain.AuditAction(e.Action),
		PreviousStatus: domain.Status(e.PreviousStatus),
		NewStatus:      domain.Status(e.NewStatus),
		PerformedBy:    e.PerformedBy,
		PerformedAt:    e.PerformedAt,
		Notes:          e.Notes,
	}
	if e.GatewayResponse != "" {
		var rec gatewayResponseRecord
		if err := json.Unmarshal([]byte(e.GatewayResponse), &rec); err == nil {
			entry.GatewayResponse = &domain.GatewayResponse{
				Success:              rec.Success,
				TransactionID:        rec.TransactionID,
				GatewayTransactionID: rec.GatewayTransactionID,
				Message:              rec.Message,
				ErrorCode:            rec.ErrorCode,
				ProcessedAt:          rec.ProcessedAt,
			}
		}
	}
	if e.Metadata != "" {
		var md map[string]string
		if err := json.Unmarshal([]byte(e.Metadata), &md); err == nil {
			entry.Metadata = md
		}
	}
	return entry
}
