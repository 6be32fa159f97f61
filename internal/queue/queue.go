// Package queue implements the durable queue of spec.md §4.1: a main FIFO
// list, a delayed sorted set, and a dead-letter list, backed by Redis.
// Grounded on the pack's wangtao9604-afk-lab Redis-fetcher file (CAS/Lua
// script pattern) and mohammed-shakir-h3-spatial-cache's redisstore client.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flyoverhead/core/internal/telemetry"
)

// Queue is one named durable queue (either the "ingest" or the "webhook"
// queue of spec.md §6).
type Queue struct {
	name   string
	client redis.UniversalClient

	mainKey    string
	delayedKey string
	dlqKey     string

	promoteScript *redis.Script
}

// New constructs a Queue rooted at the given Redis key prefix (e.g.
// "flyoverhead:aircraft_ingest" or "flyoverhead:webhooks").
func New(client redis.UniversalClient, name, keyPrefix string) *Queue {
	return &Queue{
		name:          name,
		client:        client,
		mainKey:       keyPrefix,
		delayedKey:    keyPrefix + ":delayed",
		dlqKey:        keyPrefix + ":dlq",
		promoteScript: redis.NewScript(promoteLua),
	}
}

// Enqueue pushes msg (already JSON-encoded) onto the head of the main list.
func (q *Queue) Enqueue(ctx context.Context, msg []byte) error {
	if err := q.client.LPush(ctx, q.mainKey, msg).Err(); err != nil {
		return fmt.Errorf("queue %s: enqueue: %w", q.name, err)
	}
	return nil
}

// EnqueueJSON marshals v and enqueues it.
func (q *Queue) EnqueueJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue %s: marshal: %w", q.name, err)
	}
	return q.Enqueue(ctx, b)
}

// Reserve blocking-pops one message from the tail of the main list, or
// returns (nil, nil) if timeout elapses with nothing available.
func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, q.mainKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue %s: reserve: %w", q.name, err)
	}
	// BRPop returns [key, value].
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Schedule adds msg to the delayed set with score availableAt (as unix
// millis), for later promotion back to the main list.
func (q *Queue) Schedule(ctx context.Context, msg []byte, availableAt time.Time) error {
	score := float64(availableAt.UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayedKey, redis.Z{Score: score, Member: msg}).Err(); err != nil {
		return fmt.Errorf("queue %s: schedule: %w", q.name, err)
	}
	return nil
}

// promoteLua atomically moves up to ARGV[2] delayed members whose score is
// <= ARGV[1] from the delayed zset to the head of the main list, returning
// how many were moved. A single script keeps this race-free across
// concurrent promoters.
const promoteLua = `
local delayedKey = KEYS[1]
local mainKey = KEYS[2]
local now = ARGV[1]
local limit = tonumber(ARGV[2])
local members = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', now, 'LIMIT', 0, limit)
if #members == 0 then
  return 0
end
for i = 1, #members do
  redis.call('LPUSH', mainKey, members[i])
  redis.call('ZREM', delayedKey, members[i])
end
return #members
`

// Promote atomically moves up to n messages whose available_at has passed
// from the delayed set into the main list. Returns the number moved.
func (q *Queue) Promote(ctx context.Context, now time.Time, n int) (int64, error) {
	res, err := q.promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.mainKey}, now.UnixMilli(), n).Result()
	if err != nil {
		return 0, fmt.Errorf("queue %s: promote: %w", q.name, err)
	}
	count, _ := res.(int64)
	return count, nil
}

// Park pushes msg onto the dead-letter list; it is expected to be manually
// inspected, per spec.md §4.1.
func (q *Queue) Park(ctx context.Context, msg []byte, reason string) error {
	depth, err := q.client.LPush(ctx, q.dlqKey, msg).Result()
	if err != nil {
		return fmt.Errorf("queue %s: park: %w", q.name, err)
	}
	telemetry.DLQDepth.WithLabelValues(q.name).Set(float64(depth))
	return nil
}

// Depth returns the current length of the main list, for metrics/monitoring.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.mainKey).Result()
}

// NextBackoff computes backoff = base * 2^(attempts-1) + random(0, jitter),
// per spec.md §4.1's retry policy.
func NextBackoff(attempts int, base, jitter time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	exp := time.Duration(1) << uint(attempts-1)
	backoff := base * exp
	if jitter > 0 {
		backoff += time.Duration(rand.Int63n(int64(jitter) + 1))
	}
	return backoff
}
