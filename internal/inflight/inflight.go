// Package inflight counts open chat streams so shutdown can wait for them.
package inflight

import (
	"context"
	"sync"
)

// Counter tracks in-flight streams. The zero value is ready to use.
type Counter struct {
	mu     sync.Mutex
	count  int64
	zeroCh chan struct{}
}

// lockedZero returns the channel closed when count next reaches zero.
// c.mu must be held.
func (c *Counter) lockedZero() chan struct{} {
	if c.zeroCh == nil {
		c.zeroCh = make(chan struct{})
		if c.count == 0 {
			close(c.zeroCh)
		}
	}
	return c.zeroCh
}

// Inc increments the counter.
func (c *Counter) Inc() {
	c.mu.Lock()
	c.lockedZero()
	if c.count == 0 {
		c.zeroCh = make(chan struct{})
	}
	c.count++
	c.mu.Unlock()
}

// Dec decrements the counter. It never goes below zero.
func (c *Counter) Dec() {
	c.mu.Lock()
	c.lockedZero()
	if c.count > 0 {
		c.count--
		if c.count == 0 {
			close(c.zeroCh)
		}
	}
	c.mu.Unlock()
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// WaitForZero blocks until the count is zero or ctx is done. It reports
// whether zero was reached.
func (c *Counter) WaitForZero(ctx context.Context) bool {
	c.mu.Lock()
	ch := c.lockedZero()
	c.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

var streams Counter

// Streams returns the process-wide counter of open chat streams.
func Streams() *Counter { return &streams }
