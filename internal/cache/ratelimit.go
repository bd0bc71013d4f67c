package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// sessionBucketScript refills and takes one token atomically. Times are in
// milliseconds so rates below one per second refill smoothly.
//
// KEYS[1] bucket; ARGV rate per ms, burst, now ms, ttl ms.
// Returns {allowed, tokens left, ms until next token}.
var sessionBucketScript = redis.NewScript(`
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
	local tokens = tonumber(state[1]) or burst
	local ts = tonumber(state[2]) or now

	tokens = math.min(burst, tokens + math.max(0, now - ts) * rate)

	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end

	local wait = 0
	if tokens < 1 then
		wait = math.ceil((1 - tokens) / rate)
	end

	redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
	redis.call('PEXPIRE', KEYS[1], ttl)

	return {allowed, math.floor(tokens), wait}
`)

// CheckSessionRateLimit takes a token from the session-start bucket of ip.
// Addresses are stored hashed.
func (c *Cache) CheckSessionRateLimit(ctx context.Context, ip string, ratePerSecond float64, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 || burst < 1 {
		return nil, fmt.Errorf("invalid rate limit %v/s burst %d", ratePerSecond, burst)
	}

	now := time.Now()
	perMs := ratePerSecond / 1000
	// Idle buckets expire once they would be full again.
	ttl := int64(math.Ceil(float64(burst)/perMs)) + 1000

	res, err := sessionBucketScript.Run(ctx, c.client,
		[]string{key("ratelimit", "session", hashIP(ip))},
		perMs, burst, now.UnixMilli(), ttl,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("session rate limit script: %w", err)
	}

	wait := time.Duration(res[2]) * time.Millisecond
	result := &RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: res[1],
		ResetAt:   now.Add(wait),
	}
	if !result.Allowed {
		result.RetryAfter = wait
	}
	return result, nil
}

// hashIP returns the first 8 bytes of SHA-256(ip) as hex.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
