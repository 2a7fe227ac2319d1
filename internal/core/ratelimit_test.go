package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(clock *fakeClock) *SlidingWindowLimiter {
	l := NewSlidingWindowLimiter(DefaultRateLimit, DefaultRateWindow)
	l.now = clock.Now
	return l
}

func TestSlidingWindow_HundredOneRequests(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(ctx, "Bearer abc"), "request %d", i+1)
		clock.Advance(100 * time.Millisecond)
	}

	err := l.Allow(ctx, "Bearer abc")
	var limited *RateLimitError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 100, limited.Limit)
	assert.Equal(t, time.Minute, limited.Window)
	// oldest request is 10s old, so 50s remain
	assert.Equal(t, 50, limited.RetryAfter)
}

func TestSlidingWindow_ReadmitsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(ctx, "k"))
	}
	require.Error(t, l.Allow(ctx, "k"))

	clock.Advance(60*time.Second + time.Millisecond)
	assert.NoError(t, l.Allow(ctx, "k"))
}

func TestSlidingWindow_RequestAtExactBoundaryIsPurged(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindowLimiter(1, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "k"))
	clock.Advance(time.Minute)
	assert.NoError(t, l.Allow(ctx, "k"))
}

func TestSlidingWindow_RejectionsDoNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindowLimiter(2, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "k"))
	require.NoError(t, l.Allow(ctx, "k"))
	for i := 0; i < 5; i++ {
		require.Error(t, l.Allow(ctx, "k"))
	}

	clock.Advance(61 * time.Second)
	assert.NoError(t, l.Allow(ctx, "k"))
	assert.NoError(t, l.Allow(ctx, "k"))
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	l := NewSlidingWindowLimiter(1, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "10.0.0.1"))
	require.Error(t, l.Allow(ctx, "10.0.0.1"))
	assert.NoError(t, l.Allow(ctx, "10.0.0.2"))
}

func TestSlidingWindow_RetryAfterMinimumOne(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindowLimiter(1, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "k"))
	clock.Advance(59*time.Second + 900*time.Millisecond)

	var limited *RateLimitError
	require.ErrorAs(t, l.Allow(ctx, "k"), &limited)
	assert.Equal(t, 1, limited.RetryAfter)
}

func TestSlidingWindow_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "old"))
	clock.Advance(45 * time.Second)
	require.NoError(t, l.Allow(ctx, "recent"))
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Keys())
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	l := NewSlidingWindowLimiter(50, time.Minute)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(ctx, "shared") == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 60, retryAfter(time.Minute, 0))
	assert.Equal(t, 30, retryAfter(time.Minute, 30*time.Second))
	assert.Equal(t, 30, retryAfter(time.Minute, 30500*time.Millisecond))
	assert.Equal(t, 1, retryAfter(time.Minute, time.Minute))
}
