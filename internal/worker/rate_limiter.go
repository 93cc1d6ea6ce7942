package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tavari/mail-engine/internal/pkg/logger"
	"github.com/tavari/mail-engine/internal/service/sending"
)

// RateGuard implements sending.AdmissionGuard on Redis. A Lua token bucket
// enforces the provider's sustained send rate and a day-keyed counter
// enforces the daily quota. Both are atomic server-side, so any number of
// dispatcher instances share one budget without read-then-write races.
type RateGuard struct {
	redis      *redis.Client
	perSecond  int
	burst      int
	dailyQuota int

	bucketScript *redis.Script
	now          func() time.Time
}

// Token bucket: refill from elapsed time, consume one token if available,
// otherwise report the wait until the next token. All state lives in one
// Redis key so check-and-consume is a single atomic operation.
const bucketLuaScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local tokens = burst
local last = now_ms
local state = redis.call("GET", key)
if state then
    local data = cjson.decode(state)
    tokens = data.tokens
    last = data.last
end

local elapsed = (now_ms - last) / 1000
if elapsed > 0 then
    tokens = math.min(burst, tokens + elapsed * rate)
end

if tokens >= 1 then
    tokens = tokens - 1
    redis.call("SET", key, cjson.encode({tokens=tokens, last=now_ms}), "EX", 120)
    return {1, 0}
end

redis.call("SET", key, cjson.encode({tokens=tokens, last=now_ms}), "EX", 120)
local wait_ms = math.ceil((1 - tokens) / rate * 1000)
return {0, wait_ms}
`

// NewRateGuard creates a guard sized to the provider plan.
func NewRateGuard(client *redis.Client, perSecond, burst, dailyQuota int) *RateGuard {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < perSecond {
		burst = perSecond
	}
	return &RateGuard{
		redis:        client,
		perSecond:    perSecond,
		burst:        burst,
		dailyQuota:   dailyQuota,
		bucketScript: redis.NewScript(bucketLuaScript),
		now:          time.Now,
	}
}

// NewRateGuardFromURL connects to Redis and returns a guard.
func NewRateGuardFromURL(redisURL string, perSecond, burst, dailyQuota int) (*RateGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("rate guard connected", "redis", redisURL)
	return NewRateGuard(client, perSecond, burst, dailyQuota), nil
}

func (g *RateGuard) bucketKey() string { return "ratelimit:send:bucket" }

func (g *RateGuard) quotaKey(t time.Time) string {
	return "ratelimit:send:quota:" + t.UTC().Format("2006-01-02")
}

// Admit decides whether one send may proceed right now. Quota exhaustion is
// reported as a long wait until the day window rolls, never as a failure:
// the task is deferred, not errored. A granted admission consumes one bucket
// token; the daily counter is advanced separately by RecordAttempt.
func (g *RateGuard) Admit(ctx context.Context) (sending.Admission, error) {
	now := g.now()

	if g.dailyQuota > 0 {
		used, err := g.redis.Get(ctx, g.quotaKey(now)).Int64()
		if err != nil && err != redis.Nil {
			return sending.Admission{}, fmt.Errorf("read daily quota: %w", err)
		}
		if used >= int64(g.dailyQuota) {
			return sending.Admission{Allowed: false, Wait: untilNextUTCDay(now)}, nil
		}
	}

	result, err := g.bucketScript.Run(ctx, g.redis,
		[]string{g.bucketKey()},
		g.perSecond, g.burst, now.UnixMilli(),
	).Slice()
	if err != nil {
		return sending.Admission{}, fmt.Errorf("token bucket check: %w", err)
	}

	allowed := result[0].(int64) == 1
	if allowed {
		return sending.Admission{Allowed: true}, nil
	}
	waitMs := result[1].(int64)
	if waitMs < 1 {
		waitMs = 1
	}
	return sending.Admission{Allowed: false, Wait: time.Duration(waitMs) * time.Millisecond}, nil
}

// RecordAttempt counts one attempt that actually reached the transport,
// success or failure alike. The key carries a 25h TTL so yesterday's window
// expires on its own.
func (g *RateGuard) RecordAttempt(ctx context.Context) error {
	key := g.quotaKey(g.now())
	n, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("increment daily quota: %w", err)
	}
	if n == 1 {
		g.redis.Expire(ctx, key, 25*time.Hour)
	}
	return nil
}

// Usage returns current counters for observability.
func (g *RateGuard) Usage(ctx context.Context) (map[string]int64, error) {
	used, err := g.redis.Get(ctx, g.quotaKey(g.now())).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read daily quota: %w", err)
	}
	return map[string]int64{
		"daily_used":  used,
		"daily_quota": int64(g.dailyQuota),
		"per_second":  int64(g.perSecond),
		"burst":       int64(g.burst),
	}, nil
}

// Close closes the Redis connection.
func (g *RateGuard) Close() error { return g.redis.Close() }

func untilNextUTCDay(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now.UTC())
}
