// Package drain coordinates graceful shutdown: the first signal marks the
// server as draining and waits for open streams, the second terminates.
package drain

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/gaspardpetit/chatrelay/internal/inflight"
	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/serverstate"
)

// Controller reacts to shutdown signals.
type Controller struct {
	// Timeout bounds the wait for open streams. Zero terminates on the first
	// signal; a negative value waits indefinitely.
	Timeout   time.Duration
	Streams   *inflight.Counter
	Terminate context.CancelFunc
}

// Watch handles signals from sigs until it terminates or ctx is done.
func (c *Controller) Watch(ctx context.Context, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			if c.Signal(ctx) {
				return
			}
		}
	}
}

// Signal handles one shutdown request. It reports whether termination was
// requested immediately.
func (c *Controller) Signal(ctx context.Context) bool {
	if serverstate.IsDraining() || c.Timeout == 0 {
		logx.Log.Warn().Msg("termination requested")
		c.Terminate()
		return true
	}
	serverstate.StartDrain()
	waitCtx := ctx
	var stop context.CancelFunc = func() {}
	if c.Timeout > 0 {
		waitCtx, stop = context.WithTimeout(ctx, c.Timeout)
	}
	logx.Log.Info().Dur("timeout", c.Timeout).Int64("inflight", c.Streams.Load()).Msg("draining; send SIGTERM again to terminate immediately")
	go func() {
		defer stop()
		if c.Streams.WaitForZero(waitCtx) {
			logx.Log.Info().Msg("drain complete; terminating")
			c.Terminate()
			return
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			logx.Log.Warn().Int64("inflight", c.Streams.Load()).Msg("drain timeout exceeded; terminating")
			c.Terminate()
		}
	}()
	return false
}
