package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/logging"
)

func TestDrainReturnsTrueWhenComponentsFinishInTime(t *testing.T) {
	c, ctx := New(context.Background(), logging.New("shutdown-test"), time.Second)

	c.Go(func() {
		<-ctx.Done()
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.cancel()
	}()

	require.True(t, c.Drain())
}

func TestDrainReturnsFalseWhenGraceElapses(t *testing.T) {
	c, _ := New(context.Background(), logging.New("shutdown-test"), 10*time.Millisecond)

	c.Go(func() {
		time.Sleep(time.Hour)
	})

	require.False(t, c.Drain())
}

func TestContextCanceledAfterExplicitCancel(t *testing.T) {
	c, ctx := New(context.Background(), logging.New("shutdown-test"), time.Second)
	require.NoError(t, ctx.Err())
	c.cancel()
	require.Error(t, ctx.Err())
}
