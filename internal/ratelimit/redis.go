package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps a fixed-window counter per key so that every API
// instance shares the same budget.
type RedisLimiter struct {
	redis   redis.UniversalClient
	prefix  string
	maxHits int
	window  time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, maxHits int, window time.Duration) *RedisLimiter {
	if maxHits <= 0 {
		maxHits = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisLimiter{redis: client, prefix: prefix, maxHits: maxHits, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", l.prefix, key)

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	count, ttl := incr.Val(), pttl.Val()
	// A key without an expiry is either the first hit of a window or a
	// counter whose earlier EXPIRE never landed; both get the full window.
	if ttl < 0 {
		if err := l.redis.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
		ttl = l.window
	}

	if count <= int64(l.maxHits) {
		return true, 0, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return false, ttl, nil
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
