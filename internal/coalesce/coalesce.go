// Package coalesce implements per-key request coalescing: trailing
// debounce (only the latest intent survives the quiet window) and leading
// throttle (a hard lower bound on the per-key request rate).
package coalesce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sao-lang/lania-tools/request/core"
)

// Coalescer tracks per-key debounce and throttle state. All rejections are
// first-class tagged cancellations, never synthetic network failures, so
// earlier intents observe an intentional-abandonment outcome.
type Coalescer struct {
	mu        sync.Mutex
	debounces map[string]*pending
	throttles map[string]*rate.Limiter
	closed    bool

	logger *zap.Logger
}

// pending is the single in-flight debounce waiter for a key.
type pending struct {
	timer *time.Timer
	done  chan error
}

// New creates an empty coalescer.
func New(logger *zap.Logger) *Coalescer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coalescer{
		debounces: make(map[string]*pending),
		throttles: make(map[string]*rate.Limiter),
		logger:    logger,
	}
}

// Debounce blocks until the key has been quiet for delay, then admits the
// caller. If a newer request with the same key arrives first, the caller
// fails with Cancelled(debounce). Arrival order is preserved: each new
// submission rejects the previous waiter synchronously.
func (c *Coalescer) Debounce(ctx context.Context, key string, delay time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.NewCancelled(core.CancelManagerCleared, key)
	}

	if prev, ok := c.debounces[key]; ok {
		prev.timer.Stop()
		prev.done <- core.NewCancelled(core.CancelDebounce, key)
		c.logger.Debug("debounce superseded", zap.String("key", key))
	}

	p := &pending{done: make(chan error, 1)}
	p.timer = time.AfterFunc(delay, func() {
		// Fire only while still owning the key: a superseding arrival or a
		// shutdown may have delivered this waiter's outcome already.
		c.mu.Lock()
		owned := c.debounces[key] == p
		if owned {
			delete(c.debounces, key)
		}
		c.mu.Unlock()
		if owned {
			p.done <- nil
		}
	})
	c.debounces[key] = p
	c.mu.Unlock()

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		if c.debounces[key] == p {
			p.timer.Stop()
			delete(c.debounces, key)
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Throttle admits the caller if at least interval has elapsed since the
// last admission for this key, and rejects with Cancelled(throttle)
// otherwise. Leading-edge: the first caller always passes.
func (c *Coalescer) Throttle(key string, interval time.Duration) error {
	c.mu.Lock()
	lim, ok := c.throttles[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		c.throttles[key] = lim
	}
	c.mu.Unlock()

	if !lim.Allow() {
		c.logger.Debug("throttle rejected", zap.String("key", key))
		return core.NewCancelled(core.CancelThrottle, key)
	}
	return nil
}

// Close rejects every pending debounce waiter with
// Cancelled(manager-cleared) and refuses further debounce submissions.
// Throttle is not affected by Close.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for key, p := range c.debounces {
		p.timer.Stop()
		p.done <- core.NewCancelled(core.CancelManagerCleared, key)
	}
	c.debounces = make(map[string]*pending)

	c.logger.Info("coalescer closed")
}

// PendingDebounces returns the number of keys with an in-flight debounce.
func (c *Coalescer) PendingDebounces() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.debounces)
}
