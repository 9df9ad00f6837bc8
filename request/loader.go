package request

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "300ms" or "5m", or from plain integers taken as milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Millisecond)
		return nil
	}
	var asString string
	if err := node.Decode(&asString); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// FileConfig is the YAML-loadable subset of Config: everything except the
// function-valued and infrastructure options, which can only be supplied
// in code.
type FileConfig struct {
	MaxConcurrent *int `yaml:"max_concurrent"`

	EnableCache     *bool     `yaml:"enable_cache"`
	CacheTTL        *Duration `yaml:"cache_ttl"`
	CacheMaxEntries *int      `yaml:"cache_max_entries"`

	EnableDebounce   *bool     `yaml:"enable_debounce"`
	DebounceInterval *Duration `yaml:"debounce_interval"`
	EnableThrottle   *bool     `yaml:"enable_throttle"`
	ThrottleInterval *Duration `yaml:"throttle_interval"`

	EnableRetry *bool     `yaml:"enable_retry"`
	RetryTimes  *int      `yaml:"retry_times"`
	RetryDelay  *Duration `yaml:"retry_delay"`

	EnableCircuitBreaker *bool `yaml:"enable_circuit_breaker"`

	EnableDualToken          *bool `yaml:"enable_dual_token"`
	AccessTokenExpiredCodes  []int `yaml:"access_token_expired_codes"`
	RefreshTokenExpiredCodes []int `yaml:"refresh_token_expired_codes"`

	EnableMetrics *bool `yaml:"enable_metrics"`
	EnableTracing *bool `yaml:"enable_tracing"`
}

// LoadConfig reads a YAML file and applies it over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	fc, err := loadFileConfig(path)
	if err != nil {
		return cfg, err
	}
	fc.apply(&cfg)
	return cfg, nil
}

func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// apply copies the set fields of the file config onto cfg. Unset fields
// keep their prior values.
func (fc *FileConfig) apply(cfg *Config) {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *Duration) {
		if src != nil {
			*dst = time.Duration(*src)
		}
	}

	setInt(&cfg.MaxConcurrent, fc.MaxConcurrent)
	setBool(&cfg.EnableCache, fc.EnableCache)
	setDur(&cfg.CacheTTL, fc.CacheTTL)
	setInt(&cfg.CacheMaxEntries, fc.CacheMaxEntries)
	setBool(&cfg.EnableDebounce, fc.EnableDebounce)
	setDur(&cfg.DebounceInterval, fc.DebounceInterval)
	setBool(&cfg.EnableThrottle, fc.EnableThrottle)
	setDur(&cfg.ThrottleInterval, fc.ThrottleInterval)
	setBool(&cfg.EnableRetry, fc.EnableRetry)
	setInt(&cfg.RetryTimes, fc.RetryTimes)
	setDur(&cfg.RetryDelay, fc.RetryDelay)
	setBool(&cfg.EnableCircuitBreaker, fc.EnableCircuitBreaker)
	setBool(&cfg.EnableDualToken, fc.EnableDualToken)
	if fc.AccessTokenExpiredCodes != nil {
		cfg.AccessTokenExpiredCodes = fc.AccessTokenExpiredCodes
	}
	if fc.RefreshTokenExpiredCodes != nil {
		cfg.RefreshTokenExpiredCodes = fc.RefreshTokenExpiredCodes
	}
	setBool(&cfg.EnableMetrics, fc.EnableMetrics)
	setBool(&cfg.EnableTracing, fc.EnableTracing)
}
