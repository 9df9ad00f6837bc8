// Package limiter implements the global concurrency admission gate: at
// most N operations run at once, with pending submissions served in FIFO
// order. A non-positive limit disables the gate entirely.
package limiter

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Limiter bounds the number of concurrently admitted operations.
//
// Admission is fair: a new arrival never barges past queued waiters, and a
// released slot is handed to the oldest waiter. An operation that fails
// releases its slot exactly like a successful one, so task errors cannot
// corrupt the counters.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters []*waiter

	logger *zap.Logger
}

type waiter struct {
	ready chan struct{}
}

// New creates a limiter admitting up to limit concurrent operations.
// limit <= 0 yields an unconstrained pass-through.
func New(limit int, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{limit: limit, logger: logger}
}

// Acquire blocks until a slot is available or ctx is done. On success the
// caller owns one slot and must call Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.limit <= 0 {
		return nil
	}

	l.mu.Lock()
	if l.active < l.limit && len(l.waiters) == 0 {
		l.active++
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	queued := len(l.waiters)
	l.mu.Unlock()

	l.logger.Debug("admission queued",
		zap.Int("queue_depth", queued),
		zap.Int("limit", l.limit),
	)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-w.ready:
			// The slot was granted while we were cancelling; hand it back
			// so the next waiter is not starved.
			l.mu.Unlock()
			l.Release()
		default:
			l.removeLocked(w)
			l.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release returns a slot. If waiters are queued the slot transfers
// directly to the oldest one.
func (l *Limiter) Release() {
	if l.limit <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next.ready)
		return
	}
	if l.active > 0 {
		l.active--
	}
}

// Do runs fn inside one admission slot.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Active returns the number of currently admitted operations.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Waiting returns the number of queued submissions.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

func (l *Limiter) removeLocked(target *waiter) {
	for i, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}
