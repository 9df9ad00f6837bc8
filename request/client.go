package request

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sao-lang/lania-tools/internal/cache"
	"github.com/sao-lang/lania-tools/internal/cancelreg"
	"github.com/sao-lang/lania-tools/internal/coalesce"
	"github.com/sao-lang/lania-tools/internal/limiter"
	"github.com/sao-lang/lania-tools/internal/pipeline"
	"github.com/sao-lang/lania-tools/internal/poll"
	"github.com/sao-lang/lania-tools/internal/refresh"
	"github.com/sao-lang/lania-tools/internal/retrier"
	"github.com/sao-lang/lania-tools/internal/transport"
	"github.com/sao-lang/lania-tools/internal/upload"
	"github.com/sao-lang/lania-tools/request/core"
)

// File is the upload source contract.
type File = upload.File

// BytesFile wraps an in-memory payload as an upload source.
type BytesFile = upload.BytesFile

// UploadResult identifies a completed chunked upload.
type UploadResult = upload.Result

// CacheStats is a snapshot of the response-cache counters.
type CacheStats = cache.Stats

// UploadOptions configures one UploadFile call.
type UploadOptions struct {
	EnableResume     bool
	ResumeQueryURL   string
	ComputeChunkHash bool
	ChunkSize        int64
	CancelID         string

	OnChunkProgress   func(index int, sent, total int64)
	OnOverallProgress func(finished, total int)
}

// PollingConfig describes a named periodic request task.
type PollingConfig struct {
	Key    string
	Method core.Method
	URL    string
	Params map[string]string
	Body   any

	Interval        time.Duration
	MaxPollingTimes int

	OnSuccess func(*core.Response)
	OnError   func(error)
}

// Client orchestrates requests through the fixed middleware pipeline with
// global admission, caching, coalescing, token recovery, retry, resumable
// uploads and polling.
type Client struct {
	cfg    Config
	logger *zap.Logger

	transport core.Transport
	gate      *limiter.Limiter
	store     *cache.Cache
	coalescer *coalesce.Coalescer
	registry  *cancelreg.Registry
	pipe      *pipeline.Pipeline
	uploader  *upload.Coordinator
	poller    *poll.Scheduler
	metrics   *Metrics
	tracer    trace.Tracer
}

// New builds a client from cfg.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tr := cfg.Transport
	if tr == nil {
		tr = transport.NewHTTPTransport(cfg.HTTPClient, logger)
	}
	if cfg.EnableCircuitBreaker {
		tr = transport.NewBreakerTransport(tr, cfg.Breaker, logger)
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		transport: tr,
		gate:      limiter.New(cfg.MaxConcurrent, logger),
		store:     cache.New(cfg.CacheMaxEntries, logger),
		coalescer: coalesce.New(logger),
		registry:  cancelreg.New(logger),
	}

	var observer pipeline.Observer
	if cfg.EnableMetrics {
		c.metrics = newMetrics("default")
		observer = c.metrics
	}
	if cfg.EnableTracing {
		c.tracer = otel.Tracer("github.com/sao-lang/lania-tools/request")
	}

	refresher := refresh.New(refresh.Config{
		Refresh:             cfg.RefreshAccessToken,
		AccessExpiredCodes:  cfg.AccessTokenExpiredCodes,
		RefreshExpiredCodes: cfg.RefreshTokenExpiredCodes,
		OnRefreshExpired:    cfg.OnRefreshTokenExpired,
	}, logger)

	c.pipe = pipeline.New(pipeline.Options{
		EnableCache:         cfg.EnableCache,
		CacheTTL:            cfg.CacheTTL,
		EnableDebounce:      cfg.EnableDebounce,
		DebounceInterval:    cfg.DebounceInterval,
		EnableThrottle:      cfg.EnableThrottle,
		ThrottleInterval:    cfg.ThrottleInterval,
		TokenProvider:       cfg.TokenProvider,
		EnableDualToken:     cfg.EnableDualToken,
		ResponseHandler:     cfg.ResponseHandler,
		CodeHandlers:        cfg.CodeHandlers,
		RequestInterceptor:  cfg.RequestInterceptor,
		ResponseInterceptor: cfg.ResponseInterceptor,
		Retry: retrier.Policy{
			Enabled: cfg.EnableRetry,
			Times:   cfg.RetryTimes,
			Delay:   cfg.RetryDelay,
		},
		OnError: cfg.OnError,
	}, tr, c.gate, c.store, c.coalescer, c.registry, refresher, observer, logger)

	c.uploader = upload.NewCoordinator(tr, c.gate, c.registry, logger)
	c.poller = poll.New(c.Do, logger)

	return c, nil
}

// Do submits a prepared request descriptor through the pipeline.
func (c *Client) Do(ctx context.Context, req *core.Request) (*core.Response, error) {
	if c.tracer == nil {
		return c.pipe.Execute(ctx, req)
	}

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", string(req.Method)),
			attribute.String("url.full", req.URL),
		),
	)
	defer span.End()

	resp, err := c.pipe.Execute(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Bool("cache.hit", resp.FromCache),
	)
	return resp, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, opts *Options) (*core.Response, error) {
	req := core.NewRequest(core.MethodGet, rawURL)
	opts.apply(req)
	return c.Do(ctx, req)
}

// Post issues a POST request with body.
func (c *Client) Post(ctx context.Context, rawURL string, body any, opts *Options) (*core.Response, error) {
	req := core.NewRequest(core.MethodPost, rawURL)
	req.Body = body
	opts.apply(req)
	return c.Do(ctx, req)
}

// Put issues a PUT request with body.
func (c *Client) Put(ctx context.Context, rawURL string, body any, opts *Options) (*core.Response, error) {
	req := core.NewRequest(core.MethodPut, rawURL)
	req.Body = body
	opts.apply(req)
	return c.Do(ctx, req)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, rawURL string, opts *Options) (*core.Response, error) {
	req := core.NewRequest(core.MethodDelete, rawURL)
	opts.apply(req)
	return c.Do(ctx, req)
}

// UploadFile runs a chunked, resumable upload of file to rawURL. Retry
// settings come from the client configuration; resume and hashing
// behaviour from opts.
func (c *Client) UploadFile(ctx context.Context, rawURL string, file File, opts *UploadOptions) (*UploadResult, error) {
	uploadOpts := upload.Options{}
	if opts != nil {
		uploadOpts = upload.Options{
			ChunkSize:         opts.ChunkSize,
			EnableResume:      opts.EnableResume,
			ResumeQueryURL:    opts.ResumeQueryURL,
			ComputeChunkHash:  opts.ComputeChunkHash,
			CancelID:          opts.CancelID,
			OnChunkProgress:   opts.OnChunkProgress,
			OnOverallProgress: opts.OnOverallProgress,
		}
	}
	if c.cfg.EnableRetry {
		uploadOpts.RetryTimes = c.cfg.RetryTimes
		uploadOpts.RetryDelay = c.cfg.RetryDelay
	}
	return c.uploader.Upload(ctx, rawURL, file, uploadOpts)
}

// OpenFile opens a file on disk as an upload source. Close the returned
// closer when the upload settles.
func OpenFile(path string) (File, io.Closer, error) {
	return upload.Open(path)
}

// DownloadFile fetches rawURL as a binary response and hands the body to
// the configured save glue. An empty method defaults to GET; an empty
// filename is derived from the URL path.
func (c *Client) DownloadFile(ctx context.Context, rawURL string, method core.Method, filename string, opts *Options) (*core.Response, error) {
	if method == "" {
		method = core.MethodGet
	}
	req := core.NewRequest(method, rawURL)
	opts.apply(req)
	req.ResponseType = core.ResponseBinary

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if filename == "" {
		filename = filenameFromURL(rawURL)
	}
	save := c.cfg.SaveFunc
	if save == nil {
		save = func(name string, data []byte) error {
			return os.WriteFile(name, data, 0o644)
		}
	}
	if err := save(filename, resp.Body); err != nil {
		return nil, fmt.Errorf("save download %s: %w", filename, err)
	}
	return resp, nil
}

// StartPolling begins a named periodic task. Starting an existing key
// stops the prior task first.
func (c *Client) StartPolling(cfg PollingConfig) {
	method := cfg.Method
	if method == "" {
		method = core.MethodGet
	}
	req := core.NewRequest(method, cfg.URL)
	req.Params = cfg.Params
	req.Body = cfg.Body

	c.poller.Start(poll.Config{
		Key:       cfg.Key,
		Request:   req,
		Interval:  cfg.Interval,
		MaxTimes:  cfg.MaxPollingTimes,
		OnSuccess: cfg.OnSuccess,
		OnError:   cfg.OnError,
	})
}

// StopPolling stops a named task; no callbacks fire after it returns.
func (c *Client) StopPolling(key string) {
	c.poller.Stop(key)
}

// CancelRequest cancels the in-flight request registered under id.
func (c *Client) CancelRequest(id string) bool {
	return c.registry.CancelByID(id)
}

// CancelAllRequests cancels every registered in-flight request.
func (c *Client) CancelAllRequests() int {
	return c.registry.CancelAll()
}

// ClearCache empties the response cache.
func (c *Client) ClearCache() {
	c.store.Clear()
}

// CacheStats returns the response-cache counters.
func (c *Client) CacheStats() CacheStats {
	return c.store.GetStats()
}

// Metrics returns the Prometheus collectors, or nil when metrics are
// disabled.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Close shuts the client down: polling stops, pending debounce waiters
// are rejected with a manager-cleared cancellation, and in-flight
// requests are cancelled.
func (c *Client) Close() {
	c.poller.StopAll()
	c.coalescer.Close()
	c.registry.CancelAll()
}

func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}
