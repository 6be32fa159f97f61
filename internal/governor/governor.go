// Package governor implements the per-subscriber governor of spec.md §4.8:
// a token-bucket rate limit and a rolling failure-count circuit breaker,
// each race-free via a Redis Lua script. Grounded on the pack's
// wangtao9604-afk-lab fetcher (atomic Redis CAS-via-script pattern) and
// this module's own internal/queue promoteLua convention.
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flyoverhead/core/internal/errs"
	"github.com/flyoverhead/core/internal/telemetry"
)

// BreakerState mirrors the closed/open/half-open state machine of spec.md
// §4.8.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Governor gates requests for one subscriber kind (a feeder or a webhook
// subscription) via a shared Redis-backed token bucket and failure
// breaker, namespaced "{kind}:{subscriberID}:{bucket|breaker}" per
// spec.md §6.
type Governor struct {
	client redis.UniversalClient

	checkScript  *redis.Script
	recordScript *redis.Script

	threshold     int
	resetSeconds  int64
}

// New builds a Governor. threshold is the failure count that trips the
// breaker (default 5); resetSeconds is how long the breaker stays open
// before allowing a half-open probe (default 300).
func New(client redis.UniversalClient, threshold int, resetSeconds int64) *Governor {
	return &Governor{
		client:        client,
		checkScript:   redis.NewScript(checkLua),
		recordScript:  redis.NewScript(recordLua),
		threshold:     threshold,
		resetSeconds:  resetSeconds,
	}
}

func bucketKey(kind, subscriberID string) string  { return fmt.Sprintf("flyoverhead:governor:%s:%s:bucket", kind, subscriberID) }
func breakerKey(kind, subscriberID string) string { return fmt.Sprintf("flyoverhead:governor:%s:%s:breaker", kind, subscriberID) }

// checkLua atomically evaluates both the token bucket and the breaker for
// one subscriber, refilling the bucket lazily based on elapsed time since
// its last touch. KEYS: [1]=bucket hash key [2]=breaker hash key.
// ARGV: [1]=now_ms [2]=capacity [3]=refill_per_sec [4]=threshold [5]=reset_ms
//
// Returns a 3-element array: {allowed(0/1), retry_at_ms, reason(0=ok,
// 1=breaker_open, 2=bucket_empty)}. The breaker is checked first: an open
// breaker denies outright without touching the bucket. A half-open
// breaker allows exactly one probe through (tracked via a "probing" flag)
// and otherwise denies.
const checkLua = `
local bucketKey = KEYS[1]
local breakerKey = KEYS[2]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refillPerSec = tonumber(ARGV[3])
local threshold = tonumber(ARGV[4])
local resetMs = tonumber(ARGV[5])

local failures = tonumber(redis.call('HGET', breakerKey, 'failures') or '0')
local openedAt = tonumber(redis.call('HGET', breakerKey, 'opened_at') or '0')
local probing = redis.call('HGET', breakerKey, 'probing')

if failures >= threshold then
  local retryAt = openedAt + resetMs
  if now < retryAt then
    return {0, retryAt, 1}
  end
  if probing == '1' then
    return {0, retryAt, 1}
  end
  redis.call('HSET', breakerKey, 'probing', '1')
end

local tokens = tonumber(redis.call('HGET', bucketKey, 'tokens') or tostring(capacity))
local lastRefill = tonumber(redis.call('HGET', bucketKey, 'last_refill_ms') or tostring(now))

local elapsedSec = (now - lastRefill) / 1000.0
if elapsedSec > 0 then
  tokens = math.min(capacity, tokens + elapsedSec * refillPerSec)
  lastRefill = now
end

if tokens < 1 then
  local deficit = 1 - tokens
  local waitSec = deficit / refillPerSec
  local retryAt = now + math.ceil(waitSec * 1000)
  redis.call('HSET', bucketKey, 'tokens', tokens, 'last_refill_ms', lastRefill)
  return {0, retryAt, 2}
end

tokens = tokens - 1
redis.call('HSET', bucketKey, 'tokens', tokens, 'last_refill_ms', lastRefill)
return {1, 0, 0}
`

// recordLua records a delivery outcome against the breaker. ARGV:
// [1]=success(0/1) [2]=now_ms. Every failure stamps opened_at, so an open
// breaker (including one reopened by a failed half-open probe) stays open
// for reset_ms from its latest failure.
const recordLua = `
local breakerKey = KEYS[1]
local success = tonumber(ARGV[1])
local now = tonumber(ARGV[2])

if success == 1 then
  redis.call('HSET', breakerKey, 'failures', 0)
  redis.call('HDEL', breakerKey, 'opened_at', 'probing')
else
  local failures = tonumber(redis.call('HGET', breakerKey, 'failures') or '0') + 1
  redis.call('HSET', breakerKey, 'failures', failures)
  redis.call('HDEL', breakerKey, 'probing')
  redis.call('HSET', breakerKey, 'opened_at', now)
end
return 1
`

// Check consults the token bucket and failure breaker for (kind,
// subscriberID). rateLimitPerMinute is the bucket's capacity per spec.md
// §4.8. It returns nil if allowed, or a *errs.BreakerOpen /
// *errs.GovernorDenied describing when to retry.
func (g *Governor) Check(ctx context.Context, kind, subscriberID string, rateLimitPerMinute int) error {
	now := time.Now().UnixMilli()
	refillPerSec := float64(rateLimitPerMinute) / 60.0

	res, err := g.checkScript.Run(ctx, g.client,
		[]string{bucketKey(kind, subscriberID), breakerKey(kind, subscriberID)},
		now, rateLimitPerMinute, refillPerSec, g.threshold, g.resetSeconds*1000,
	).Slice()
	if err != nil {
		return fmt.Errorf("governor check: %w", err)
	}
	if len(res) != 3 {
		return fmt.Errorf("governor check: unexpected script result %v", res)
	}

	allowed, _ := res[0].(int64)
	retryAt, _ := res[1].(int64)
	reason, _ := res[2].(int64)

	if allowed == 1 {
		telemetry.GovernorDecisions.WithLabelValues("allowed").Inc()
		return nil
	}

	switch reason {
	case 1:
		telemetry.GovernorDecisions.WithLabelValues("breaker_open").Inc()
		return &errs.BreakerOpen{RetryAt: retryAt}
	default:
		telemetry.GovernorDecisions.WithLabelValues("rate_limited").Inc()
		return &errs.GovernorDenied{RetryAt: retryAt}
	}
}

// RecordSuccess resets the failure breaker's counter for (kind,
// subscriberID), per spec.md §4.8's "recorded success while closed resets
// the counter to 0" and the half-open-probe-succeeds-closes rule.
func (g *Governor) RecordSuccess(ctx context.Context, kind, subscriberID string) error {
	return g.record(ctx, kind, subscriberID, true)
}

// RecordFailure increments the failure breaker's counter for (kind,
// subscriberID), opening the breaker once it reaches threshold.
func (g *Governor) RecordFailure(ctx context.Context, kind, subscriberID string) error {
	return g.record(ctx, kind, subscriberID, false)
}

func (g *Governor) record(ctx context.Context, kind, subscriberID string, success bool) error {
	successArg := 0
	if success {
		successArg = 1
	}
	_, err := g.recordScript.Run(ctx, g.client,
		[]string{breakerKey(kind, subscriberID)},
		successArg, time.Now().UnixMilli(),
	).Result()
	if err != nil {
		return fmt.Errorf("governor record: %w", err)
	}
	return nil
}
