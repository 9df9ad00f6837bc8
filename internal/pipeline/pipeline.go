// Package pipeline runs the fixed middleware chains around the transport.
//
// Request side: token injection, cache lookup (success-side
// short-circuit), debounce, throttle, user request interceptor. Response
// side: response handler, code handler behind a per-code lock, dual-token
// expiry detection, user response interceptor, cache write.
//
// Cancelled errors bypass retry and the global error callback; every other
// failure is retry-eligible under the configured policy, and the global
// callback fires at most once per logical request, after exhaustion.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sao-lang/lania-tools/internal/cache"
	"github.com/sao-lang/lania-tools/internal/cancelreg"
	"github.com/sao-lang/lania-tools/internal/coalesce"
	"github.com/sao-lang/lania-tools/internal/limiter"
	"github.com/sao-lang/lania-tools/internal/refresh"
	"github.com/sao-lang/lania-tools/internal/retrier"
	"github.com/sao-lang/lania-tools/request/core"
)

// Observer receives pipeline events for metrics. All methods must be safe
// for concurrent use; a nil Observer is replaced by a no-op.
type Observer interface {
	RequestSettled(method string, outcome string, elapsed time.Duration)
	CacheHit()
	CoalescerRejected(kind string)
	RetryScheduled()
	RefreshStarted()
}

type nopObserver struct{}

func (nopObserver) RequestSettled(string, string, time.Duration) {}
func (nopObserver) CacheHit()                                    {}
func (nopObserver) CoalescerRejected(string)                     {}
func (nopObserver) RetryScheduled()                              {}
func (nopObserver) RefreshStarted()                              {}

// Options selects which stages run and how.
type Options struct {
	EnableCache bool
	CacheTTL    time.Duration

	EnableDebounce   bool
	DebounceInterval time.Duration

	EnableThrottle   bool
	ThrottleInterval time.Duration

	TokenProvider   core.TokenProvider
	EnableDualToken bool

	ResponseHandler func(*core.Response) (*core.Response, error)
	CodeHandlers    map[int]func(*core.Response)

	RequestInterceptor  core.RequestInterceptor
	ResponseInterceptor core.ResponseInterceptor

	Retry   retrier.Policy
	OnError func(error)
}

// Pipeline coordinates the managers around one shared request lifecycle.
type Pipeline struct {
	opts      Options
	transport core.Transport
	gate      *limiter.Limiter
	store     *cache.Cache
	coalescer *coalesce.Coalescer
	registry  *cancelreg.Registry
	refresher *refresh.Controller
	codes     *codeLock
	observer  Observer
	logger    *zap.Logger
}

// New assembles a pipeline from its cooperating managers.
func New(
	opts Options,
	transport core.Transport,
	gate *limiter.Limiter,
	store *cache.Cache,
	coalescer *coalesce.Coalescer,
	registry *cancelreg.Registry,
	refresher *refresh.Controller,
	observer Observer,
	logger *zap.Logger,
) *Pipeline {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		opts:      opts,
		transport: transport,
		gate:      gate,
		store:     store,
		coalescer: coalescer,
		registry:  registry,
		refresher: refresher,
		codes:     newCodeLock(),
		observer:  observer,
		logger:    logger,
	}
}

// Execute runs one logical request to settlement: admission, both
// middleware chains, the transport, and policy-driven re-admission on
// failure. The cancel handle registered under the request's cancel-token
// id is removed when the call settles, whatever the outcome.
func (p *Pipeline) Execute(ctx context.Context, req *core.Request) (*core.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.CancelID != "" {
		p.registry.Set(req.CancelID, cancel)
		defer p.registry.Delete(req.CancelID)
	}

	started := time.Now()

	for {
		req.Attempts++

		resp, err := p.attempt(ctx, req)
		if err == nil {
			p.observer.RequestSettled(string(req.Method), "success", time.Since(started))
			return resp, nil
		}

		err = p.normalise(err, req)

		if core.IsCancelled(err) {
			// Intentional abandonment: no retry, no global error callback.
			p.observer.RequestSettled(string(req.Method), "cancelled", time.Since(started))
			return nil, err
		}

		if p.opts.Retry.ShouldRetry(err, req.Attempts) {
			p.observer.RetryScheduled()
			p.logger.Warn("request failed, retrying",
				zap.String("url", req.URL),
				zap.Int("attempt", req.Attempts),
				zap.Error(err),
			)
			if werr := p.opts.Retry.Wait(ctx); werr != nil {
				// Cancelled during the delay: stop immediately.
				p.observer.RequestSettled(string(req.Method), "cancelled", time.Since(started))
				return nil, p.normalise(werr, req)
			}
			continue
		}

		if p.opts.OnError != nil {
			p.opts.OnError(err)
		}
		p.observer.RequestSettled(string(req.Method), "failure", time.Since(started))
		return nil, err
	}
}

// attempt runs a single admitted pass: request chain, transport, response
// chain. The admission slot is held for the whole pass and released on
// settlement, success or failure.
func (p *Pipeline) attempt(ctx context.Context, req *core.Request) (*core.Response, error) {
	if err := p.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.gate.Release()

	key := core.Key(req)

	resp, err := p.requestSide(ctx, req, key)
	if err != nil {
		if p.opts.RequestInterceptor != nil && !core.IsCancelled(err) {
			err = p.opts.RequestInterceptor.OnRequestError(ctx, err)
		}
		return nil, err
	}

	if resp == nil {
		resp, err = p.transport.Send(ctx, req)
		if err != nil {
			if p.opts.ResponseInterceptor != nil && !core.IsCancelled(err) {
				err = p.opts.ResponseInterceptor.OnResponseError(ctx, err)
			}
			return nil, err
		}
	}

	return p.responseSide(ctx, req, resp, key)
}

// requestSide runs the request chain. A non-nil response is a cache hit
// short-circuiting onto the success path.
func (p *Pipeline) requestSide(ctx context.Context, req *core.Request, key string) (*core.Response, error) {
	// 1. Token injection. Precedes the cache lookup so cached entries stay
	// usable across login changes (the key does not include headers).
	if p.opts.TokenProvider != nil {
		token, err := p.opts.TokenProvider.Token(ctx)
		if err != nil {
			return nil, &core.ConfigError{Field: "token-provider", Reason: err.Error()}
		}
		if token != "" {
			req.SetHeader("Authorization", "Bearer "+token)
		}
	}

	// 2. Cache lookup: a hit is synthesised as a success so the response
	// chain still observes it.
	if p.opts.EnableCache {
		if body, ok := p.store.Get(key); ok {
			p.observer.CacheHit()
			p.logger.Debug("cache hit", zap.String("key", key))
			return &core.Response{
				StatusCode: 200,
				Status:     "200 OK (cache)",
				Body:       body,
				Request:    req,
				FromCache:  true,
			}, nil
		}
	}

	// 3. Debounce, then 4. Throttle: a debounced trailing request is still
	// subject to the per-key rate floor.
	if p.opts.EnableDebounce {
		if err := p.coalescer.Debounce(ctx, key, p.opts.DebounceInterval); err != nil {
			if kind := core.CancelKindOf(err); kind != "" {
				p.observer.CoalescerRejected(string(kind))
			}
			return nil, err
		}
	}
	if p.opts.EnableThrottle {
		if err := p.coalescer.Throttle(key, p.opts.ThrottleInterval); err != nil {
			p.observer.CoalescerRejected(string(core.CancelThrottle))
			return nil, err
		}
	}

	// 5. User request interceptor.
	if p.opts.RequestInterceptor != nil {
		rewritten, err := p.opts.RequestInterceptor.OnRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		if rewritten != nil && rewritten != req {
			*req = *rewritten
		}
	}

	return nil, nil
}

// responseSide runs the response chain, including on cache-synthesised
// responses.
func (p *Pipeline) responseSide(ctx context.Context, req *core.Request, resp *core.Response, key string) (*core.Response, error) {
	// 1. Global response mapper.
	if p.opts.ResponseHandler != nil {
		mapped, err := p.opts.ResponseHandler(resp)
		if err != nil {
			return nil, p.responseError(ctx, err)
		}
		if mapped != nil {
			resp = mapped
		}
	}

	code, hasCode := effectiveCode(resp)

	// 2. Code handler behind the per-code lock.
	if hasCode {
		if handler, ok := p.opts.CodeHandlers[code]; ok && p.codes.tryAcquire(code) {
			handler(resp)
		}
	}

	// 3. Dual-token expiry detection.
	if p.opts.EnableDualToken && hasCode && !resp.FromCache {
		if p.refresher.IsRefreshExpired(code) {
			return nil, p.responseError(ctx, p.refresher.HandleRefreshExpired(code))
		}
		if p.refresher.IsAccessExpired(code) {
			p.observer.RefreshStarted()
			refreshed, err := p.refresher.HandleAccessExpired(ctx, p.transport, req)
			if err != nil {
				return nil, p.responseError(ctx, err)
			}
			resp = refreshed
			// A response that is still access-expired after the retried
			// send fails with ErrRefreshLooped instead of refreshing again.
			if c2, ok2 := effectiveCode(resp); ok2 && p.refresher.IsAccessExpired(c2) {
				return nil, p.responseError(ctx, core.ErrRefreshLooped)
			}
		}
	}

	// Business failures not consumed above surface with the code attached.
	if resp.StatusCode >= 400 {
		return nil, p.responseError(ctx, &core.BusinessError{
			Code:     code,
			Message:  resp.BusinessMessage(),
			Response: resp,
		})
	}

	// 4. User response interceptor observes cached data identically to
	// live data.
	if p.opts.ResponseInterceptor != nil {
		mapped, err := p.opts.ResponseInterceptor.OnResponse(ctx, resp)
		if err != nil {
			return nil, err
		}
		if mapped != nil {
			resp = mapped
		}
	}

	// 5. Cache write, for non-hit responses only.
	if p.opts.EnableCache && !resp.FromCache {
		p.store.Set(key, resp.Body, p.opts.CacheTTL)
	}

	return resp, nil
}

// responseError routes a response-chain failure through the user failure
// hook, except for cancellations, which propagate unchanged.
func (p *Pipeline) responseError(ctx context.Context, err error) error {
	if p.opts.ResponseInterceptor != nil && !core.IsCancelled(err) {
		return p.opts.ResponseInterceptor.OnResponseError(ctx, err)
	}
	return err
}

// normalise maps raw context cancellation onto the tagged taxonomy so
// downstream branching switches on variants only.
func (p *Pipeline) normalise(err error, req *core.Request) error {
	if errors.Is(err, context.Canceled) && !core.IsCancelled(err) {
		return core.NewCancelled(core.CancelManual, req.CancelID)
	}
	return err
}

// effectiveCode resolves the business code of a response: the body "code"
// field when present, falling back to a failing HTTP status.
func effectiveCode(resp *core.Response) (int, bool) {
	if code, ok := resp.BusinessCode(); ok {
		return code, true
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, true
	}
	return 0, false
}
