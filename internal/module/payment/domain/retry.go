package domain

import "time"

// Default retry policy constants.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffMultiplier = 2
	baseRetryDelay           = 5 * time.Minute
)

// RetryInfo tracks retry state for a failed payment. It is only present after
// at least one failure.
type RetryInfo struct {
	AttemptNumber     int
	MaxAttempts       int
	BackoffMultiplier int
	NextRetryAt       *time.Time
	LastFailureReason string
}

// Exhausted reports whether all attempts have been used.
func (r *RetryInfo) Exhausted() bool {
	return r != nil && r.AttemptNumber >= r.MaxAttempts
}

// clone copies the retry info, including the NextRetryAt pointer target.
func (r *RetryInfo) clone() *RetryInfo {
	if r == nil {
		return nil
	}
	c := *r
	if r.NextRetryAt != nil {
		t := *r.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}

// backoffDelay computes the delay before the given attempt may be retried:
// multiplier^(attempt-1) * 5 minutes. Attempts 1, 2, 3 with the default
// multiplier yield 5, 10 and 20 minutes.
func backoffDelay(multiplier, attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(multiplier)
	}
	return delay
}

// recordFailure returns the retry state after one more failure. The first
// failure initializes the counter; later failures increment it. NextRetryAt is
// only set while attempts remain.
func (r *RetryInfo) recordFailure(reason string, now time.Time) *RetryInfo {
	next := r.clone()
	if next == nil {
		next = &RetryInfo{
			AttemptNumber:     1,
			MaxAttempts:       DefaultMaxAttempts,
			BackoffMultiplier: DefaultBackoffMultiplier,
		}
	} else {
		next.AttemptNumber++
	}
	next.LastFailureReason = reason

	if next.AttemptNumber < next.MaxAttempts {
		at := now.Add(backoffDelay(next.BackoffMultiplier, next.AttemptNumber))
		next.NextRetryAt = &at
	} else {
		next.NextRetryAt = nil
	}
	return next
}
