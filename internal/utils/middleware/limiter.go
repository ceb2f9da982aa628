package middleware

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// redisRateLimiter implements RateLimiter on Redis using a sliding window counter.
type redisRateLimiter struct {
	client goredis.UniversalClient
}

// NewRedisRateLimiter creates a Redis-backed rate limiter.
func NewRedisRateLimiter(client goredis.UniversalClient) RateLimiter {
	return &redisRateLimiter{client: client}
}

func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := rateLimitKeyPrefix + key
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, fullKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if countCmd.Val() >= int64(limit) {
		return false, nil
	}

	pipe2 := r.client.Pipeline()
	pipe2.ZAdd(ctx, fullKey, goredis.Z{
		Score:  float64(now),
		Member: fmt.Sprintf("%d", now),
	})
	pipe2.Expire(ctx, fullKey, window)
	_, err := pipe2.Exec(ctx)

	return err == nil, err
}

func (r *redisRateLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	fullKey := rateLimitKeyPrefix + key
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, fullKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	remaining := limit - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

var _ RateLimiter = (*redisRateLimiter)(nil)
