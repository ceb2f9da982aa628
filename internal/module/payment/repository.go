package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
	"github.com/flowlytix/payment-service/internal/module/payment/entity"
	"github.com/flowlytix/payment-service/internal/utils/pagination"
)

// Statistics aggregates payment figures for one agency.
type Statistics struct {
	AgencyID        string           `json:"agency_id"`
	TotalCount      int64            `json:"total_count"`
	CountByStatus   map[string]int64 `json:"count_by_status"`
	CompletedAmount int64            `json:"completed_amount"`
	RefundedAmount  int64            `json:"refunded_amount"`
	FailedCount     int64            `json:"failed_count"`
}

// Repository is the persistence port for payments. Implementations own
// optimistic concurrency enforcement and the per-agency uniqueness of
// transaction references.
type Repository interface {
	Create(ctx context.Context, p *domain.Payment) error
	// Update persists a new aggregate state produced by a domain operation.
	// It succeeds at most once per loaded version: if the stored version no
	// longer matches the version the caller started from, ErrStaleAggregate
	// is returned and nothing is written.
	Update(ctx context.Context, p *domain.Payment) (*domain.Payment, error)

	FindByID(ctx context.Context, id string) (*domain.Payment, error)
	FindByTransactionReference(ctx context.Context, agencyID, reference string) (*domain.Payment, error)
	FindByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error)
	ListByAgency(ctx context.Context, agencyID string, filter ListFilter, page *pagination.Pagination) ([]*domain.Payment, int64, error)

	// FindDueForRetry returns failed payments whose retry window has opened.
	FindDueForRetry(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error)

	// SumCompletedRefunds returns the total completed refund amount recorded
	// against the given original payment, in minor units.
	SumCompletedRefunds(ctx context.Context, originalPaymentID string) (int64, error)

	GetStatistics(ctx context.Context, agencyID string) (*Statistics, error)

	// Webhook event dedup store.
	CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error
	MarkWebhookEventProcessed(ctx context.Context, gateway, eventID string, processErr error) error
}

// ListFilter narrows an agency listing. Empty fields match everything.
type ListFilter struct {
	Status  string
	OrderID string
}

// WebhookEvent records one received gateway notification.
type WebhookEvent struct {
	ID        string
	Gateway   string
	EventID   string
	EventType string
	PaymentID string
	Data      string
}

type repository struct {
	db    *gorm.DB
	clock domain.Clock
	ids   domain.IDGenerator
}

// NewRepository creates a GORM-backed payment repository.
func NewRepository(db *gorm.DB, clock domain.Clock, ids domain.IDGenerator) Repository {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if ids == nil {
		ids = domain.UUIDGenerator{}
	}
	return &repository{db: db, clock: clock, ids: ids}
}

func (r *repository) Create(ctx context.Context, p *domain.Payment) error {
	ent := entity.FromDomain(p)
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	ent := entity.FromDomain(p)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.PaymentEntity{}).
			Where("id = ? AND version = ?", ent.ID, ent.Version).
			Updates(map[string]any{
				"status":                   ent.Status,
				"gateway_transaction_id":   ent.GatewayTransactionID,
				"refunded_amount":          ent.RefundedAmount,
				"retry_attempt_number":     ent.RetryAttemptNumber,
				"retry_max_attempts":       ent.RetryMaxAttempts,
				"retry_backoff_multiplier": ent.RetryBackoffMultiplier,
				"next_retry_at":            ent.NextRetryAt,
				"last_failure_reason":      ent.LastFailureReason,
				"processed_at":             ent.ProcessedAt,
				"completed_at":             ent.CompletedAt,
				"updated_at":               ent.UpdatedAt,
				"updated_by":               ent.UpdatedBy,
				"version":                  ent.Version + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("update payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleAggregate
		}

		// The trail is append-only: re-inserting already persisted entries is
		// a no-op keyed on the entry id.
		if len(ent.AuditTrail) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&ent.AuditTrail).Error; err != nil {
				return fmt.Errorf("append audit entries: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.FindByID(ctx, p.ID())
}

func (r *repository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByTransactionReference(ctx context.Context, agencyID, reference string) (*domain.Payment, error) {
	return r.findOne(ctx, "agency_id = ? AND transaction_reference = ?", agencyID, reference)
}

func (r *repository) FindByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error) {
	return r.findOne(ctx, "gateway_transaction_id = ?", gatewayTransactionID)
}

func (r *repository) findOne(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	var ent entity.PaymentEntity
	err := r.db.WithContext(ctx).
		Preload("AuditTrail", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&ent, append([]any{query}, args...)...).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return ent.ToDomain(r.clock, r.ids)
}

func (r *repository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	var entities []*entity.PaymentEntity
	err := r.db.WithContext(ctx).
		Preload("AuditTrail", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("order_id = ?", orderID).
		Order("initiated_at DESC").
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("list payments by order: %w", err)
	}
	return r.toDomainAll(entities)
}

func (r *repository) ListByAgency(ctx context.Context, agencyID string, f ListFilter, page *pagination.Pagination) ([]*domain.Payment, int64, error) {
	if page == nil {
		page = pagination.New()
	}

	filter := func(db *gorm.DB) *gorm.DB {
		db = db.Where("agency_id = ?", agencyID)
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if f.OrderID != "" {
			db = db.Where("order_id = ?", f.OrderID)
		}
		return db
	}

	var total int64
	if err := filter(r.db.WithContext(ctx).Model(&entity.PaymentEntity{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	var entities []*entity.PaymentEntity
	err := filter(r.db.WithContext(ctx).
		Preload("AuditTrail", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") })).
		Order("initiated_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&entities).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list payments by agency: %w", err)
	}

	payments, err := r.toDomainAll(entities)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *repository) FindDueForRetry(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error) {
	var entities []*entity.PaymentEntity
	err := r.db.WithContext(ctx).
		Preload("AuditTrail", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", string(domain.StatusFailed), before).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("find payments due for retry: %w", err)
	}
	return r.toDomainAll(entities)
}

func (r *repository) SumCompletedRefunds(ctx context.Context, originalPaymentID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&entity.PaymentEntity{}).
		Where("original_payment_id = ? AND status = ?", originalPaymentID, string(domain.StatusCompleted)).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum completed refunds: %w", err)
	}
	return total, nil
}

func (r *repository) GetStatistics(ctx context.Context, agencyID string) (*Statistics, error) {
	type statusRow struct {
		Status string
		Count  int64
		Amount int64
	}
	var rows []statusRow
	err := r.db.WithContext(ctx).
		Model(&entity.PaymentEntity{}).
		Where("agency_id = ?", agencyID).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("payment statistics: %w", err)
	}

	stats := &Statistics{
		AgencyID:      agencyID,
		CountByStatus: make(map[string]int64, len(rows)),
	}
	for _, row := range rows {
		stats.TotalCount += row.Count
		stats.CountByStatus[row.Status] = row.Count
		switch domain.Status(row.Status) {
		case domain.StatusCompleted, domain.StatusPartiallyRefunded:
			stats.CompletedAmount += row.Amount
		case domain.StatusRefunded:
			stats.RefundedAmount += row.Amount
		case domain.StatusFailed:
			stats.FailedCount = row.Count
		}
	}
	return stats, nil
}

// --- Webhook events ---

func (r *repository) CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	ent := &entity.WebhookEventEntity{
		ID:        r.ids.NewID(),
		Gateway:   event.Gateway,
		EventID:   event.EventID,
		EventType: event.EventType,
		PaymentID: event.PaymentID,
		Data:      event.Data,
		CreatedAt: r.clock.Now(),
	}
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrWebhookEventExists
		}
		return fmt.Errorf("create webhook event: %w", err)
	}
	event.ID = ent.ID
	return nil
}

func (r *repository) MarkWebhookEventProcessed(ctx context.Context, gateway, eventID string, processErr error) error {
	updates := map[string]any{
		"processed":    true,
		"processed_at": r.clock.Now(),
	}
	if processErr != nil {
		msg := processErr.Error()
		updates["error"] = msg
	}
	err := r.db.WithContext(ctx).
		Model(&entity.WebhookEventEntity{}).
		Where("gateway = ? AND event_id = ?", gateway, eventID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

func (r *repository) toDomainAll(entities []*entity.PaymentEntity) ([]*domain.Payment, error) {
	payments := make([]*domain.Payment, len(entities))
	for i, ent := range entities {
		p, err := ent.ToDomain(r.clock, r.ids)
		if err != nil {
			return nil, fmt.Errorf("restore payment %s: %w", ent.ID, err)
		}
		payments[i] = p
	}
	return payments, nil
}

// isUniqueViolation detects a unique constraint error from Postgres.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key value") ||
		strings.Contains(err.Error(), "23505")
}
