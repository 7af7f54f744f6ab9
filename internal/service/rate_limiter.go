package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/model"
	redisclient "github.com/openclaw/wagate-server-go/internal/redis"
)

// rateLimitScript is a Lua script for sliding window rate limiting.
// Times are in milliseconds. Returns {allowed, remaining, resetAt}.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

local resetAt = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #oldest >= 2 then
    resetAt = tonumber(oldest[2]) + window
end

if count >= limit then
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 10000)

return {1, limit - count - 1, resetAt}
`)

const sendWindow = time.Minute

type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter provides generic rate limiting functionality
type RateLimiter struct {
	client *redisclient.Client
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redisclient.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// CheckLimit checks if a request is allowed under the rate limit and records
// it when it is.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) RateLimitResult {
	now := rl.now()
	denied := RateLimitResult{Limit: limit, ResetAt: now.Add(window)}

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request for safety")
		return denied
	}

	if len(result) != 3 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying request for safety")
		return denied
	}

	return RateLimitResult{
		Allowed:   result[0] == 1,
		Limit:     limit,
		Remaining: int(result[1]),
		ResetAt:   time.UnixMilli(result[2]),
	}
}

// AllowSend consumes one unit of the owner's per-minute send budget.
func (rl *RateLimiter) AllowSend(ctx context.Context, owner *model.Owner) RateLimitResult {
	limit := owner.Plan.Limits().MessagesPerMinute
	return rl.CheckLimit(ctx, redisclient.RateLimitKey(owner.ID, string(owner.Plan)), limit, sendWindow)
}
