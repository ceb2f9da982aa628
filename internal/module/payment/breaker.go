package payment

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/flowlytix/payment-service/internal/utils/metrics"
)

// BreakerConfig contains gateway circuit breaker configuration.
type BreakerConfig struct {
	FailureThreshold    uint32
	Interval            time.Duration
	Timeout             time.Duration
	MaxHalfOpenRequests uint32
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold:    5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// gatewayBreakers guards calls to external processors. One circuit per
// gateway name; a tripped circuit fails fast with ErrGatewayUnavailable so a
// flapping processor does not hold payments in flight.
type gatewayBreakers struct {
	mu       sync.Mutex
	config   *BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker[any]
	metrics  *metrics.Metrics
}

func newGatewayBreakers(config *BreakerConfig, m *metrics.Metrics) *gatewayBreakers {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &gatewayBreakers{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		metrics:  m,
	}
}

// Execute runs fn under the named gateway's circuit breaker. Only transport
// errors trip the circuit; declines are successful calls as far as the
// breaker is concerned.
func (b *gatewayBreakers) Execute(gateway string, fn func() (any, error)) (any, error) {
	breaker := b.getOrCreate(gateway)
	result, err := breaker.Execute(fn)
	if b.metrics != nil {
		b.metrics.SetGatewayHealth(gateway, breaker.State() != gobreaker.StateOpen)
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, ErrGatewayUnavailable
	}
	return result, err
}

func (b *gatewayBreakers) getOrCreate(gateway string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok := b.breakers[gateway]; ok {
		return breaker
	}

	threshold := b.config.FailureThreshold
	settings := gobreaker.Settings{
		Name:        gateway,
		MaxRequests: b.config.MaxHalfOpenRequests,
		Interval:    b.config.Interval,
		Timeout:     b.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	b.breakers[gateway] = breaker
	return breaker
}
