package queue_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return queue.New(client, "ingest", "flyoverhead:test_queue")
}

func TestEnqueueReserve(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte(`{"icao24":"a12b34"}`)))

	msg, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"icao24":"a12b34"}`, string(msg))
}

func TestReserveTimesOutOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	msg, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestScheduleAndPromote(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	require.NoError(t, q.Schedule(ctx, []byte("ready"), past))
	require.NoError(t, q.Schedule(ctx, []byte("not-ready"), future))

	moved, err := q.Promote(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), moved)

	msg, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "ready", string(msg))

	// the not-ready message should still be absent from the main list.
	empty, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestPromoteRespectsLimit(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Schedule(ctx, []byte{byte('a' + i)}, now.Add(-time.Second)))
	}

	moved, err := q.Promote(ctx, now, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), moved)
}

func TestPark(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Park(ctx, []byte("dead"), "max attempts reached"))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)
}

func TestNextBackoffGrowsExponentially(t *testing.T) {
	base := 100 * time.Millisecond
	d1 := queue.NextBackoff(1, base, 0)
	d2 := queue.NextBackoff(2, base, 0)
	d3 := queue.NextBackoff(3, base, 0)

	require.Equal(t, base, d1)
	require.Equal(t, 2*base, d2)
	require.Equal(t, 4*base, d3)
}

func TestNextBackoffAddsJitterWithinBound(t *testing.T) {
	base := 100 * time.Millisecond
	jitter := 50 * time.Millisecond
	for i := 0; i < 20; i++ {
		d := queue.NextBackoff(1, base, jitter)
		require.GreaterOrEqual(t, d, base)
		require.LessOrEqual(t, d, base+jitter)
	}
}
