// Package retrier implements the bounded fixed-delay retry policy applied
// to non-cancelled failures. Retries re-enter the pipeline through the
// concurrency gate; the attempt counter lives on the request descriptor.
package retrier

import (
	"context"
	"errors"
	"time"

	"github.com/sao-lang/lania-tools/request/core"
)

// Policy defines retry behaviour configuration.
type Policy struct {
	Enabled bool
	Times   int           // retries after the original attempt
	Delay   time.Duration // fixed spacing between attempts
}

// DefaultPolicy returns the default retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		Enabled: false,
		Times:   3,
		Delay:   300 * time.Millisecond,
	}
}

// ShouldRetry reports whether a failed attempt may be re-submitted.
// Cancelled errors and terminal token failures never retry; attempts is
// the number of submissions already made.
func (p Policy) ShouldRetry(err error, attempts int) bool {
	if !p.Enabled || err == nil {
		return false
	}
	if attempts > p.Times {
		return false
	}
	if core.IsCancelled(err) || core.IsRefreshExpired(err) {
		return false
	}
	if errors.Is(err, core.ErrRefreshLooped) {
		return false
	}
	var cfgErr *core.ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	return true
}

// Wait sleeps for the fixed delay, honouring cancellation. A cancel during
// the delay aborts further attempts immediately.
func (p Policy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
