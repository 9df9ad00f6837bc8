// Package refresh implements single-flight access-token renewal. All
// requests that observe an access-expired code while a renewal runs attach
// to the same in-flight ticket and share its outcome; refresh-token expiry
// is terminal.
package refresh

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sao-lang/lania-tools/request/core"
)

// refreshKey is the singleflight key: one renewal at a time, process-wide
// per controller.
const refreshKey = "access-token"

// Config wires the dual-token behaviour.
type Config struct {
	// Refresh renews the access token. Required in dual-token mode; must
	// return a non-empty token.
	Refresh core.RefreshFunc

	// AccessExpiredCodes and RefreshExpiredCodes are the business codes
	// that signal each expiry condition.
	AccessExpiredCodes  []int
	RefreshExpiredCodes []int

	// OnRefreshExpired runs once per terminal expiry (side effect such as
	// a forced logout).
	OnRefreshExpired func()
}

// Controller owns the shared renewal ticket. The ticket is created before
// the refresh function runs, so concurrent observers always attach to the
// same future, and it clears itself when the renewal settles.
type Controller struct {
	cfg    Config
	group  singleflight.Group
	logger *zap.Logger
}

// New creates a refresh controller.
func New(cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger}
}

// IsAccessExpired reports whether code is in the access-expired set.
func (c *Controller) IsAccessExpired(code int) bool {
	return containsCode(c.cfg.AccessExpiredCodes, code)
}

// IsRefreshExpired reports whether code is in the refresh-expired set.
func (c *Controller) IsRefreshExpired(code int) bool {
	return containsCode(c.cfg.RefreshExpiredCodes, code)
}

// HandleRefreshExpired runs the terminal side effect and returns the
// terminal error. No retry follows.
func (c *Controller) HandleRefreshExpired(code int) error {
	c.logger.Warn("refresh token expired", zap.Int("code", code))
	if c.cfg.OnRefreshExpired != nil {
		c.cfg.OnRefreshExpired()
	}
	return &core.RefreshExpiredError{Code: code}
}

// HandleAccessExpired renews the access token (joining any renewal already
// in flight), rewrites the Authorization header on the original request
// and re-sends it directly through the transport. The full pipeline is
// deliberately bypassed so the retry is not debounced or served from
// cache.
func (c *Controller) HandleAccessExpired(ctx context.Context, transport core.Transport, req *core.Request) (*core.Response, error) {
	if req.RefreshAttempted {
		return nil, core.ErrRefreshLooped
	}
	req.RefreshAttempted = true

	if c.cfg.Refresh == nil {
		return nil, &core.ConfigError{Field: "refresh-access-token", Reason: "not configured"}
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		// The renewal outlives any single observer: cancelling one caller
		// must not abort the refresh the others are waiting on.
		token, err := c.cfg.Refresh(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", &core.ConfigError{Field: "refresh-access-token", Reason: "returned an empty token"}
		}
		return token, nil
	})

	var token string
	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("token refresh failed", zap.Error(res.Err))
			if c.cfg.OnRefreshExpired != nil {
				c.cfg.OnRefreshExpired()
			}
			return nil, &core.RefreshExpiredError{Err: res.Err}
		}
		token = res.Val.(string)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.logger.Debug("access token refreshed, re-sending request",
		zap.String("url", req.URL),
	)

	req.SetHeader("Authorization", "Bearer "+token)
	return transport.Send(ctx, req)
}

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
