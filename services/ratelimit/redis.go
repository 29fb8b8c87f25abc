package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
// ARGV[4] = ttl in seconds
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return {allowed, tostring(tokens)}
`)

// RedisStore shares token buckets between replicas
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:", now: time.Now}
}

// NewRedisClient parses a redis:// URL
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Take consumes one token when available
func (s *RedisStore) Take(ctx context.Context, key string, policy Policy) (*RateLimitResult, error) {
	perSecond := policy.perSecond()
	capacity := policy.capacity()
	ttl := int(math.Ceil(float64(capacity)/perSecond)) + 1
	now := float64(s.now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key}, perSecond, capacity, now, ttl).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis limiter error: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("invalid response from token bucket script")
	}

	allowed, _ := res[0].(int64)
	var tokens float64
	if str, ok := res[1].(string); ok {
		if _, err := fmt.Sscanf(str, "%g", &tokens); err != nil {
			return nil, fmt.Errorf("invalid token count %q: %w", str, err)
		}
	}
	return bucketResult(allowed == 1, tokens, capacity, perSecond), nil
}

func bucketResult(allowed bool, tokens float64, capacity int, perSecond float64) *RateLimitResult {
	result := &RateLimitResult{Allowed: allowed, Limit: capacity, Remaining: int(tokens)}
	if !allowed {
		result.Remaining = 0
		missing := 1 - tokens
		result.RetryAfter = time.Duration(math.Ceil(missing / perSecond * float64(time.Second)))
	}
	return result
}
