package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sao-lang/lania-tools/internal/cache"
	"github.com/sao-lang/lania-tools/internal/cancelreg"
	"github.com/sao-lang/lania-tools/internal/coalesce"
	"github.com/sao-lang/lania-tools/internal/limiter"
	"github.com/sao-lang/lania-tools/internal/refresh"
	"github.com/sao-lang/lania-tools/internal/retrier"
	"github.com/sao-lang/lania-tools/request/core"
)

// harness assembles a pipeline around a fake transport.
type harness struct {
	pipe     *Pipeline
	registry *cancelreg.Registry
}

// testRefresh carries the dual-token wiring for harness construction.
type testRefresh struct {
	refreshFunc      core.RefreshFunc
	accessCodes      []int
	refreshCodes     []int
	onRefreshExpired func()
}

func newHarness(opts Options, transport core.Transport) *harness {
	return newRefreshHarness(opts, testRefresh{}, transport)
}

func newRefreshHarness(opts Options, r testRefresh, transport core.Transport) *harness {
	registry := cancelreg.New(nil)
	refresher := refresh.New(refresh.Config{
		Refresh:             r.refreshFunc,
		AccessExpiredCodes:  r.accessCodes,
		RefreshExpiredCodes: r.refreshCodes,
		OnRefreshExpired:    r.onRefreshExpired,
	}, nil)

	pipe := New(opts,
		transport,
		limiter.New(10, nil),
		cache.New(0, nil),
		coalesce.New(nil),
		registry,
		refresher,
		nil,
		nil,
	)
	return &harness{pipe: pipe, registry: registry}
}

type countingInterceptor struct {
	responses int64
	failures  int64
}

func (c *countingInterceptor) OnResponse(_ context.Context, resp *core.Response) (*core.Response, error) {
	atomic.AddInt64(&c.responses, 1)
	return resp, nil
}

func (c *countingInterceptor) OnResponseError(_ context.Context, err error) error {
	atomic.AddInt64(&c.failures, 1)
	return err
}

func okTransport(sends *int64, body string) core.Transport {
	return core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
		atomic.AddInt64(sends, 1)
		return &core.Response{StatusCode: 200, Body: []byte(body), Request: req}, nil
	})
}

func TestPipeline_CacheRoundTrip(t *testing.T) {
	var sends int64
	interceptor := &countingInterceptor{}

	h := newHarness(Options{
		EnableCache:         true,
		CacheTTL:            80 * time.Millisecond,
		ResponseInterceptor: interceptor,
	}, okTransport(&sends, `{"data":"fresh"}`))

	req := func() *core.Request {
		r := core.NewRequest(core.MethodGet, "https://api.example.com/x")
		return r
	}

	first, err := h.pipe.Execute(context.Background(), req())
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := h.pipe.Execute(context.Background(), req())
	require.NoError(t, err)
	assert.True(t, second.FromCache, "second identical call is served from cache")
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int64(1), atomic.LoadInt64(&sends), "cache hit must not reach the transport")

	// Cached responses still traverse response-side middleware.
	assert.Equal(t, int64(2), atomic.LoadInt64(&interceptor.responses))

	time.Sleep(100 * time.Millisecond)

	third, err := h.pipe.Execute(context.Background(), req())
	require.NoError(t, err)
	assert.False(t, third.FromCache, "expired entry reaches the transport again")
	assert.Equal(t, int64(2), atomic.LoadInt64(&sends))
}

func TestPipeline_RetryBoundAndSpacing(t *testing.T) {
	var sends int64
	var errorCallbacks int64
	boom := errors.New("connection reset")

	failing := core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
		atomic.AddInt64(&sends, 1)
		return nil, &core.TransportError{URL: req.URL, Err: boom}
	})

	h := newHarness(Options{
		Retry:   retrier.Policy{Enabled: true, Times: 3, Delay: 100 * time.Millisecond},
		OnError: func(error) { atomic.AddInt64(&errorCallbacks, 1) },
	}, failing)

	start := time.Now()
	_, err := h.pipe.Execute(context.Background(), core.NewRequest(core.MethodGet, "https://api.example.com/x"))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "exhaustion surfaces the last observed error")
	assert.Equal(t, int64(4), atomic.LoadInt64(&sends), "original plus three retries")
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "observed gaps of at least the fixed delay")
	assert.Equal(t, int64(1), atomic.LoadInt64(&errorCallbacks), "global callback fires once, after exhaustion")
}

func TestPipeline_CancelDuringRetryDelay(t *testing.T) {
	var sends int64
	var errorCallbacks int64

	failing := core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
		atomic.AddInt64(&sends, 1)
		return nil, &core.TransportError{URL: req.URL, Err: errors.New("boom")}
	})

	h := newHarness(Options{
		Retry:   retrier.Policy{Enabled: true, Times: 5, Delay: 200 * time.Millisecond},
		OnError: func(error) { atomic.AddInt64(&errorCallbacks, 1) },
	}, failing)

	req := core.NewRequest(core.MethodGet, "https://api.example.com/x")
	req.CancelID = "job-1"

	go func() {
		time.Sleep(80 * time.Millisecond)
		h.registry.CancelByID("job-1")
	}()

	_, err := h.pipe.Execute(context.Background(), req)

	assert.True(t, core.IsCancelled(err))
	assert.Equal(t, core.CancelManual, core.CancelKindOf(err))
	assert.Equal(t, int64(1), atomic.LoadInt64(&sends), "cancel during the delay stops further attempts")
	assert.Equal(t, int64(0), atomic.LoadInt64(&errorCallbacks), "cancellations bypass the global callback")
}

func TestPipeline_CancelledBypassesRetryAndCallback(t *testing.T) {
	var errorCallbacks int64

	h := newHarness(Options{
		EnableDebounce:   true,
		DebounceInterval: 150 * time.Millisecond,
		Retry:            retrier.Policy{Enabled: true, Times: 3, Delay: 10 * time.Millisecond},
		OnError:          func(error) { atomic.AddInt64(&errorCallbacks, 1) },
	}, okTransport(new(int64), `{}`))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, errs[i] = h.pipe.Execute(context.Background(), core.NewRequest(core.MethodGet, "https://api.example.com/x"))
		}()
		time.Sleep(30 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, core.CancelDebounce, core.CancelKindOf(errs[0]), "superseded request observes a debounce cancellation")
	assert.NoError(t, errs[1])
	assert.Equal(t, int64(0), atomic.LoadInt64(&errorCallbacks))
}

func TestPipeline_TokenInjection(t *testing.T) {
	var seen string
	transport := core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
		seen = req.Header("Authorization")
		return &core.Response{StatusCode: 200, Body: []byte(`{}`), Request: req}, nil
	})

	h := newHarness(Options{
		TokenProvider: core.TokenProviderFunc(func(context.Context) (string, error) {
			return "tok-123", nil
		}),
	}, transport)

	_, err := h.pipe.Execute(context.Background(), core.NewRequest(core.MethodGet, "https://api.example.com/x"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", seen)
}

func TestPipeline_RefreshSingleFlightEndToEnd(t *testing.T) {
	var refreshCalls int64
	var current atomic.Value
	current.Store("T0")

	transport := core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
		if req.Header("Authorization") == "Bearer T1" {
			return &core.Response{StatusCode: 200, Body: []byte(`{"code":0,"data":"ok"}`), Request: req}, nil
		}
		return &core.Response{StatusCode: 200, Body: []byte(`{"code":401}`), Request: req}, nil
	})

	opts := Options{
		TokenProvider: core.TokenProviderFunc(func(context.Context) (string, error) {
			return current.Load().(string), nil
		}),
		EnableDualToken: true,
	}

	h := newRefreshHarness(opts, testRefresh{
		refreshFunc: func(ctx context.Context) (string, error) {
			atomic.AddInt64(&refreshCalls, 1)
			time.Sleep(50 * time.Millisecond)
			current.Store("T1")
			return "T1", nil
		},
		accessCodes: []int{401},
	}, transport)

	const concurrent = 10
	var wg sync.WaitGroup
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, errs[i] = h.pipe.Execute(context.Background(), core.NewRequest(core.MethodGet, "https://api.example.com/x"))
		}()
	}
	wg.Wait()

	for i := 0; i < concurrent; i++ {
		assert.NoError(t, errs[i])
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&refreshCalls), "ten expiries share one renewal flight")
}

func TestPipeline_RefreshExpiryTerminal(t *testing.T) {
	var sideEffects int64
	var sends int64

	transport := core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
		atomic.AddInt64(&sends, 1)
		return &core.Response{StatusCode: 200, Body: []byte(`{"code":4011}`), Request: req}, nil
	})

	opts := Options{
		EnableDualToken: true,
		Retry:           retrier.Policy{Enabled: true, Times: 3, Delay: 10 * time.Millisecond},
	}

	h := newRefreshHarness(opts, testRefresh{
		refreshFunc:      func(ctx context.Context) (string, error) { return "T1", nil },
		refreshCodes:     []int{4011},
		onRefreshExpired: func() { atomic.AddInt64(&sideEffects, 1) },
	}, transport)

	_, err := h.pipe.Execute(context.Background(), core.NewRequest(core.MethodGet, "https://api.example.com/x"))

	assert.True(t, core.IsRefreshExpired(err))
	assert.Equal(t, int64(1), atomic.LoadInt64(&sideEffects), "side effect runs exactly once")
	assert.Equal(t, int64(1), atomic.LoadInt64(&sends), "no retry follows terminal expiry")
}

func TestPipeline_CodeHandlerLock(t *testing.T) {
	var handled int64

	transport := okTransport(new(int64), `{"code":7001,"message":"quota"}`)

	h := newHarness(Options{
		CodeHandlers: map[int]func(*core.Response){
			7001: func(*core.Response) { atomic.AddInt64(&handled, 1) },
		},
	}, transport)

	for i := 0; i < 5; i++ {
		_, err := h.pipe.Execute(context.Background(), core.NewRequest(core.MethodGet, "https://api.example.com/x"))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&handled),
		"re-entrant invocations inside the lock window are suppressed")
}

func TestPipeline_BusinessFailureSurfacesCode(t *testing.T) {
	transport := core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
		return &core.Response{StatusCode: 503, Status: "503 Service Unavailable", Body: []byte(`{"code":503,"message":"down"}`), Request: req}, nil
	})

	h := newHarness(Options{}, transport)

	_, err := h.pipe.Execute(context.Background(), core.NewRequest(core.MethodGet, "https://api.example.com/x"))

	var be *core.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 503, be.Code)
	assert.Equal(t, "down", be.Message)
}

func TestPipeline_CacheHitSkipsCoalescer(t *testing.T) {
	var sends int64

	h := newHarness(Options{
		EnableCache:      true,
		CacheTTL:         time.Minute,
		EnableThrottle:   true,
		ThrottleInterval: time.Hour,
	}, okTransport(&sends, `{"data":1}`))

	req := func() *core.Request { return core.NewRequest(core.MethodGet, "https://api.example.com/x") }

	// First call takes the throttle token and populates the cache.
	_, err := h.pipe.Execute(context.Background(), req())
	require.NoError(t, err)

	// Within the throttle interval, the cache hit short-circuits before
	// the coalescer and still succeeds.
	resp, err := h.pipe.Execute(context.Background(), req())
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, int64(1), atomic.LoadInt64(&sends))
}
