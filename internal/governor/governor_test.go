package governor_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/errs"
	"github.com/flyoverhead/core/internal/governor"
)

func newTestGovernor(t *testing.T, threshold int, resetSeconds int64) (*governor.Governor, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return governor.New(client, threshold, resetSeconds), mr
}

func TestCheckAllowsWithinRateLimit(t *testing.T) {
	g, _ := newTestGovernor(t, 5, 300)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.NoError(t, g.Check(ctx, "webhook", "sub-1", 60))
	}
}

func TestCheckDeniesOnceBucketExhausted(t *testing.T) {
	g, _ := newTestGovernor(t, 5, 300)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.NoError(t, g.Check(ctx, "webhook", "sub-1", 60))
	}

	err := g.Check(ctx, "webhook", "sub-1", 60)
	require.Error(t, err)
	var denied *errs.GovernorDenied
	require.ErrorAs(t, err, &denied)
	require.Greater(t, denied.RetryAt, int64(0))
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	g, _ := newTestGovernor(t, 3, 300)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))
	}

	err := g.Check(ctx, "webhook", "sub-1", 60)
	require.Error(t, err)
	var open *errs.BreakerOpen
	require.ErrorAs(t, err, &open)
}

func TestBreakerRemainsClosedBelowThreshold(t *testing.T) {
	g, _ := newTestGovernor(t, 5, 300)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))
	}

	require.NoError(t, g.Check(ctx, "webhook", "sub-1", 60))
}

func TestRecordSuccessResetsFailureCounter(t *testing.T) {
	g, _ := newTestGovernor(t, 3, 300)
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))
	require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))
	require.NoError(t, g.RecordSuccess(ctx, "webhook", "sub-1"))
	require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))
	require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))

	// only 2 consecutive failures since the reset; breaker (threshold 3)
	// should still be closed.
	require.NoError(t, g.Check(ctx, "webhook", "sub-1", 60))
}

func TestBreakerAllowsHalfOpenProbeAfterReset(t *testing.T) {
	// the breaker's retry_at is computed from Go-side wall-clock time
	// (ARGV[1]), not Redis server time, so a real sleep is needed here
	// rather than miniredis.FastForward.
	g, _ := newTestGovernor(t, 2, 1)
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))
	require.NoError(t, g.RecordFailure(ctx, "webhook", "sub-1"))

	err := g.Check(ctx, "webhook", "sub-1", 60)
	require.Error(t, err)

	time.Sleep(1100 * time.Millisecond)

	require.NoError(t, g.Check(ctx, "webhook", "sub-1", 60))

	require.NoError(t, g.RecordSuccess(ctx, "webhook", "sub-1"))
	require.NoError(t, g.Check(ctx, "webhook", "sub-1", 60))
}
