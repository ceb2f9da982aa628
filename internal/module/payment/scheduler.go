package payment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
	"github.com/flowlytix/payment-service/internal/utils/metrics"
)

// schedulerActor attributes scheduler-driven retries in the audit trail.
const schedulerActor = "retry-scheduler"

// SchedulerConfig contains retry scheduler configuration.
type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:  time.Minute,
		BatchSize: 50,
	}
}

// RetryScheduler periodically re-submits failed payments whose backoff
// window has opened. The next retry time is data on the payment; the
// scheduler is only the job runner that acts on it.
type RetryScheduler struct {
	service  *Service
	repo     Repository
	clock    domain.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
	stop     chan struct{}
}

// NewRetryScheduler creates a retry scheduler.
func NewRetryScheduler(service *Service, repo Repository, config *SchedulerConfig, clock domain.Clock, logger *zap.Logger, m *metrics.Metrics) *RetryScheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryScheduler{
		service:  service,
		repo:     repo,
		clock:    clock,
		logger:   logger,
		metrics:  m,
		interval: config.Interval,
		batch:    config.BatchSize,
		stop:     make(chan struct{}),
	}
}

// Start starts the scheduler loop in the background.
func (s *RetryScheduler) Start() {
	go s.loop()
}

// Stop stops the scheduler loop.
func (s *RetryScheduler) Stop() {
	close(s.stop)
}

func (s *RetryScheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce drains one batch of due retries. Exposed so operators and tests
// can trigger a pass directly.
func (s *RetryScheduler) RunOnce(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.repo.FindDueForRetry(ctx, now, s.batch)
	if err != nil {
		s.logger.Error("query payments due for retry", zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.PaymentsDueForRetry.Set(float64(len(due)))
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("retrying due payments", zap.Int("count", len(due)))
	for _, p := range due {
		if _, err := s.service.RetryPayment(ctx, p.ID(), schedulerActor); err != nil {
			// Another worker may have picked the same payment; a stale
			// version or an ineligible status is not a scheduler failure.
			if errors.Is(err, ErrStaleAggregate) || errors.Is(err, ErrRetryNotDue) {
				continue
			}
			s.logger.Warn("scheduled retry failed",
				zap.String("payment_id", p.ID()),
				zap.Error(err),
			)
		}
	}
}
