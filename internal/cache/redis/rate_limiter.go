package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// slidingWindowLua counts requests in a sorted set scored by microsecond
// timestamp. It returns {allowed, count}.
//
// KEYS[1] set key, ARGV[1] now (µs), ARGV[2] window (µs), ARGV[3] limit.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
    return {0, count}
end
redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, count + 1}
`

// RateLimiter implements domain.RateLimiter with a sliding window kept in
// a Redis sorted set.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow reports whether one more request for key fits in the window, and
// counts it when it does.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		rl.now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
