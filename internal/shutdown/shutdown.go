// Package shutdown turns OS signals into the crawl's two-step stop: the first
// signal asks for a graceful drain, the second cancels everything.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"

	"go.uber.org/zap"
)

// Controller carries the graceful stop flag.
type Controller struct {
	stopped atomic.Bool
}

// New returns a Controller with the flag cleared.
func New() *Controller {
	return &Controller{}
}

// Stop sets the flag. It reports whether this call was the one that set it.
func (c *Controller) Stop() bool {
	return c.stopped.CompareAndSwap(false, true)
}

// Stopped reports whether a graceful stop was requested.
func (c *Controller) Stopped() bool {
	return c.stopped.Load()
}

// Watch sets the flag on the first signal and calls cancel on the second. It
// returns when ctx is done.
func (c *Controller) Watch(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, sigs ...os.Signal) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt}
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)
	c.watch(ctx, cancel, logger, ch)
}

func (c *Controller) watch(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, ch <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			if c.Stop() {
				logger.Warn("Stop requested, finishing in-flight work (signal again to abort)",
					zap.Stringer("signal", sig))
				continue
			}
			logger.Warn("Second signal, aborting", zap.Stringer("signal", sig))
			if cancel != nil {
				cancel()
			}
			return
		}
	}
}
