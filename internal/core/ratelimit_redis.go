package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the key's sorted set to the window, then either
// admits the request (returns {1, 0}) or reports the oldest timestamp in
// milliseconds (returns {0, oldest}).
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisLimiter is a sliding-window limiter shared by every instance pointed
// at the same Redis. Keys are stored as digests.
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client redis.Scripter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "fieldsync:ratelimit:",
		now:    time.Now,
	}
}

// Allow records a request for key or rejects it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	now := l.now()
	sum := sha256.Sum256([]byte(key))

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + hex.EncodeToString(sum[:])},
		now.UnixMilli(), l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return nil
	}

	oldest := time.UnixMilli(res[1])
	return &RateLimitError{
		Limit:      l.limit,
		Window:     l.window,
		RetryAfter: retryAfter(l.window, now.Sub(oldest)),
	}
}
