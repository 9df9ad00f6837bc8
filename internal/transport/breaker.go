package transport

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sao-lang/lania-tools/request/core"
)

// BreakerConfig configures the optional circuit-breaker decorator.
type BreakerConfig struct {
	MaxFailures  uint32        // consecutive failures before the circuit opens
	OpenDuration time.Duration // how long to keep the circuit open
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:  5,
		OpenDuration: 30 * time.Second,
	}
}

// BreakerTransport wraps a transport in a circuit breaker. While the
// circuit is open, sends fail fast with a transport failure, which keeps
// them retryable under the configured policy. Cancellations do not count
// against the circuit.
type BreakerTransport struct {
	inner   core.Transport
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerTransport decorates inner with a circuit breaker.
func NewBreakerTransport(inner core.Transport, cfg BreakerConfig, logger *zap.Logger) *BreakerTransport {
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:    "request-transport",
		Timeout: cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || core.IsCancelled(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerTransport{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Send implements core.Transport.
func (t *BreakerTransport) Send(ctx context.Context, req *core.Request) (*core.Response, error) {
	result, err := t.breaker.Execute(func() (any, error) {
		return t.inner.Send(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &core.TransportError{URL: req.URL, Err: err}
		}
		return nil, err
	}
	return result.(*core.Response), nil
}
