package core

import (
	"context"
	"math"
	"sync"
	"time"
)

// Default admission policy.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter admits or rejects a request for a key. A rejection is a
// *RateLimitError.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// SlidingWindowLimiter keeps the timestamps of admitted requests per key and
// admits a request when fewer than limit of them fall inside the window.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSlidingWindowLimiter creates an in-process limiter.
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a request for key or rejects it.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := prune(l.hits[key], now.Add(-l.window))
	if len(hits) >= l.limit {
		l.hits[key] = hits
		return &RateLimitError{
			Limit:      l.limit,
			Window:     l.window,
			RetryAfter: retryAfter(l.window, now.Sub(hits[0])),
		}
	}
	l.hits[key] = append(hits, now)
	return nil
}

// Sweep forgets keys with no request inside the window and returns how many
// were dropped.
func (l *SlidingWindowLimiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for key, hits := range l.hits {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(l.hits, key)
			dropped++
			continue
		}
		l.hits[key] = hits
	}
	return dropped
}

// Keys returns the number of tracked keys.
func (l *SlidingWindowLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append([]time.Time(nil), hits[i:]...)
}

// retryAfter is window minus the age of the oldest request, in whole seconds
// rounded up, at least 1.
func retryAfter(window, oldestAge time.Duration) int {
	secs := int(math.Ceil((window - oldestAge).Seconds()))
	return max(secs, 1)
}
