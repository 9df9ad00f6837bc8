// Package request is the facade of the request orchestration library. It
// binds the configuration to the pipeline and its cooperating managers,
// and exposes the request, upload, download, polling, cancellation and
// cache operations.
package request

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sao-lang/lania-tools/internal/transport"
	"github.com/sao-lang/lania-tools/request/core"
)

// Config is the full recognised option set of a client instance.
//
// Behavioural toggles and intervals are validated with struct tags;
// function-valued options are checked by Validate where combinations
// matter (dual-token mode requires a refresh function).
type Config struct {
	// MaxConcurrent bounds in-flight operations. Zero disables the bound;
	// negative values fail validation.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent" validate:"min=0"`

	// Caching.
	EnableCache     bool          `yaml:"enable_cache" json:"enable_cache"`
	CacheTTL        time.Duration `yaml:"-" json:"-" validate:"min=0"`
	CacheMaxEntries int           `yaml:"cache_max_entries" json:"cache_max_entries" validate:"min=0"`

	// Coalescing.
	EnableDebounce   bool          `yaml:"enable_debounce" json:"enable_debounce"`
	DebounceInterval time.Duration `yaml:"-" json:"-" validate:"min=0"`
	EnableThrottle   bool          `yaml:"enable_throttle" json:"enable_throttle"`
	ThrottleInterval time.Duration `yaml:"-" json:"-" validate:"min=0"`

	// Retry.
	EnableRetry bool          `yaml:"enable_retry" json:"enable_retry"`
	RetryTimes  int           `yaml:"retry_times" json:"retry_times" validate:"min=0,max=20"`
	RetryDelay  time.Duration `yaml:"-" json:"-" validate:"min=0"`

	// Circuit breaker (opt-in transport decorator).
	EnableCircuitBreaker bool                    `yaml:"enable_circuit_breaker" json:"enable_circuit_breaker"`
	Breaker              transport.BreakerConfig `yaml:"-" json:"-"`

	// Token handling.
	TokenProvider            core.TokenProvider `yaml:"-" json:"-"`
	EnableDualToken          bool               `yaml:"enable_dual_token" json:"enable_dual_token"`
	RefreshAccessToken       core.RefreshFunc   `yaml:"-" json:"-"`
	AccessTokenExpiredCodes  []int              `yaml:"access_token_expired_codes" json:"access_token_expired_codes"`
	RefreshTokenExpiredCodes []int              `yaml:"refresh_token_expired_codes" json:"refresh_token_expired_codes"`
	OnRefreshTokenExpired    func()             `yaml:"-" json:"-"`

	// Global hooks.
	OnError         func(error)                                 `yaml:"-" json:"-"`
	ResponseHandler func(*core.Response) (*core.Response, error) `yaml:"-" json:"-"`
	CodeHandlers    map[int]func(*core.Response)                `yaml:"-" json:"-"`

	// User interceptors.
	RequestInterceptor  core.RequestInterceptor  `yaml:"-" json:"-"`
	ResponseInterceptor core.ResponseInterceptor `yaml:"-" json:"-"`

	// Infrastructure. Transport overrides HTTPClient when both are set.
	Transport  core.Transport `yaml:"-" json:"-"`
	HTTPClient *http.Client   `yaml:"-" json:"-"`
	Logger     *zap.Logger    `yaml:"-" json:"-"`

	// Observability.
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`

	// SaveFunc persists a downloaded body. The default writes the file to
	// the working directory.
	SaveFunc func(filename string, data []byte) error `yaml:"-" json:"-"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    10,
		CacheTTL:         5 * time.Minute,
		DebounceInterval: 300 * time.Millisecond,
		ThrottleInterval: time.Second,
		RetryTimes:       3,
		RetryDelay:       300 * time.Millisecond,
		Breaker:          transport.DefaultBreakerConfig(),
	}
}

var validate = validator.New()

// Validate checks the configuration, including cross-field requirements
// the struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.EnableDualToken && c.RefreshAccessToken == nil {
		return &core.ConfigError{Field: "refresh-access-token", Reason: "required when dual-token mode is enabled"}
	}
	if c.EnableDebounce && c.DebounceInterval <= 0 {
		return &core.ConfigError{Field: "debounce-interval", Reason: "must be positive when debounce is enabled"}
	}
	if c.EnableThrottle && c.ThrottleInterval <= 0 {
		return &core.ConfigError{Field: "throttle-interval", Reason: "must be positive when throttle is enabled"}
	}
	return nil
}
