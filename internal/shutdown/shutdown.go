// Package shutdown coordinates graceful drain across the ingestion worker,
// dispatcher, source adapters, and read API. Grounded on the teacher's
// absence of any such coordination and on harbor_hook's
// cmd/worker/main.go, which installs signal.Notify(stop, SIGTERM, SIGINT)
// and blocks on <-stop before stopping its consumer and HTTP server.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flyoverhead/core/internal/logging"
)

// Coordinator cancels a shared context on SIGTERM/SIGINT and waits for
// registered components to finish draining, up to a grace period, before
// returning control to the caller (who then forces exit if it times out).
type Coordinator struct {
	log   *logging.Logger
	grace time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New builds a Coordinator deriving a cancelable context from parent. The
// returned context is what Run-loop components (the ingestion worker, the
// dispatcher, each source adapter, the API server) should take as their
// ctx argument.
func New(parent context.Context, log *logging.Logger, grace time.Duration) (*Coordinator, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{log: log, grace: grace, ctx: ctx, cancel: cancel}, ctx
}

// Go runs fn in a tracked goroutine. Drain blocks until every fn launched
// this way has returned, or the grace period elapses.
func (c *Coordinator) Go(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// WaitForSignal blocks until SIGTERM or SIGINT arrives, then cancels the
// coordinator's context so every component sharing it observes ctx.Done().
func (c *Coordinator) WaitForSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	sig := <-stop
	signal.Stop(stop)

	c.log.WithField("signal", sig.String()).Info("shutdown signal received, draining")
	c.cancel()
}

// Drain waits for every component registered via Go to finish, up to the
// configured grace period. It returns true if everything drained cleanly
// and false if the grace period elapsed first.
func (c *Coordinator) Drain() bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info("all components drained")
		return true
	case <-time.After(c.grace):
		c.log.Warn("shutdown grace period elapsed, forcing exit")
		return false
	}
}
