package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// Limiter counts hits per key inside a window of fixed length.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

// MemoryLimiter is an in-process sliding window. It is only accurate for a
// single instance; RedisLimiter should be used when running more than one.
type MemoryLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hitsByKey map[string][]time.Time
	maxMemory int
}

func NewMemoryLimiter(maxHits int, window time.Duration) *MemoryLimiter {
	if maxHits <= 0 {
		maxHits = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	return &MemoryLimiter{
		maxHits:   maxHits,
		window:    window,
		hitsByKey: make(map[string][]time.Time),
		maxMemory: 5000,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitsByKey[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		retryAfter := filtered[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.hitsByKey[key] = filtered
		return false, retryAfter, nil
	}

	filtered = append(filtered, now)
	l.hitsByKey[key] = filtered

	if len(l.hitsByKey) > l.maxMemory {
		for k, value := range l.hitsByKey {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(l.hitsByKey, k)
			}
		}
	}

	return true, 0, nil
}
