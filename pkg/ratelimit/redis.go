package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// tokenBucketScript refills and consumes one actor's bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = current unix time (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter shares one token bucket per actor across processes. Selected
// when a Redis address is configured.
type RedisLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
	clock  func() time.Time
}

// NewRedisLimiter connects to Redis and returns the limiter.
func NewRedisLimiter(addr string, rps float64, burst int) *RedisLimiter {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisLimiter{client: client, rps: rps, burst: burst, clock: time.Now}
}

// WithClock overrides the time source for tests.
func (l *RedisLimiter) WithClock(clock func() time.Time) *RedisLimiter {
	l.clock = clock
	return l
}

// Allow implements Limiter. A Redis failure surfaces as RATE_LIMITED with a
// wrapped cause; the caller decides whether to fail open.
func (l *RedisLimiter) Allow(ctx context.Context, actor string) (bool, error) {
	key := fmt.Sprintf("dissonance:limiter:%s", actor)
	now := float64(l.clock().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, l.rps, l.burst, 1, now).Result()
	if err != nil {
		return false, contracts.WrapCoded(contracts.CodeRateLimited, err, "redis limiter for %s", actor)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, contracts.NewCodedError(contracts.CodeRateLimited, "unexpected limiter reply %T", res)
	}
	return allowed == 1, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
