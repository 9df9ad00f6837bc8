package core

import (
	"errors"
	"fmt"
)

// CancelKind tags the origin of an intentional abandonment.
type CancelKind string

const (
	CancelDebounce       CancelKind = "debounce"
	CancelThrottle       CancelKind = "throttle"
	CancelManual         CancelKind = "manual"
	CancelManagerCleared CancelKind = "manager-cleared"
)

// CancelledError signals that a request was abandoned on purpose. It is
// never retried and never reported to the global error callback; pipeline
// stages branch on the variant, not on a flag.
type CancelledError struct {
	Kind CancelKind
	Key  string // request key or cancel-token id, for diagnostics
}

func (e *CancelledError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("request cancelled (%s): %s", e.Kind, e.Key)
	}
	return fmt.Sprintf("request cancelled (%s)", e.Kind)
}

// NewCancelled builds a tagged cancellation.
func NewCancelled(kind CancelKind, key string) *CancelledError {
	return &CancelledError{Kind: kind, Key: key}
}

// IsCancelled reports whether err is (or wraps) a tagged cancellation.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// CancelKindOf returns the cancellation kind, or "" for other errors.
func CancelKindOf(err error) CancelKind {
	var ce *CancelledError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// TransportError wraps a failure raised by the underlying transport.
// Transport failures are retryable under the configured policy.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BusinessError carries the failure code of a response with an HTTP status
// of 400 or above: the body "code" field when present, else the status.
type BusinessError struct {
	Code     int
	Message  string
	Response *Response
}

func (e *BusinessError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("business code %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("business code %d", e.Code)
}

// RefreshExpiredError is terminal: the refresh token itself has expired
// (or renewal failed) and the session cannot be recovered automatically.
type RefreshExpiredError struct {
	Code int
	Err  error
}

func (e *RefreshExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("refresh token expired (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("refresh token expired (code %d)", e.Code)
}

func (e *RefreshExpiredError) Unwrap() error { return e.Err }

// ConfigError reports a terminal configuration problem observed at request
// time (for example a missing refresh function in dual-token mode).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ErrRefreshLooped guards against a second refresh-and-retry round for the
// same request.
var ErrRefreshLooped = errors.New("already retried after token refresh")

// IsRefreshExpired reports whether err is terminal refresh expiry.
func IsRefreshExpired(err error) bool {
	var re *RefreshExpiredError
	return errors.As(err, &re)
}

// IsBusiness reports whether err carries a business code.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
