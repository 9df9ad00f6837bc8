// Package auth provides token-provider implementations for bearer-token
// injection: a static token, a mutable in-memory store, and a JWT
// expiry-aware provider that renews ahead of expiry.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sao-lang/lania-tools/request/core"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid token")
)

// Static returns a provider that always yields the same token.
func Static(token string) core.TokenProvider {
	return core.TokenProviderFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// Store is a mutable, concurrency-safe token holder usable as a provider.
// Durable token storage stays with the application; this is the in-process
// handoff point between a login flow and the request pipeline.
type Store struct {
	mu    sync.RWMutex
	token string
}

// NewStore creates a store seeded with token.
func NewStore(token string) *Store {
	return &Store{token: token}
}

// Set replaces the held token.
func (s *Store) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token implements core.TokenProvider.
func (s *Store) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Expiry extracts the exp claim from a JWT without verifying the
// signature. Verification belongs to the issuing server; the client only
// needs the deadline.
func Expiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, ErrMissingToken
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, ErrInvalidToken
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrInvalidToken
	}
	return exp.Time, nil
}

// RefreshingProvider yields the stored JWT, renewing it through refresh
// when it is within skew of expiry. Renewal shares the pipeline's refresh
// function so both paths produce the same token.
type RefreshingProvider struct {
	store   *Store
	refresh core.RefreshFunc
	skew    time.Duration

	mu sync.Mutex
}

// NewRefreshingProvider wraps store with ahead-of-expiry renewal.
func NewRefreshingProvider(store *Store, refresh core.RefreshFunc, skew time.Duration) *RefreshingProvider {
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &RefreshingProvider{store: store, refresh: refresh, skew: skew}
}

// Token implements core.TokenProvider.
func (p *RefreshingProvider) Token(ctx context.Context) (string, error) {
	token, _ := p.store.Token(ctx)
	if token == "" || p.refresh == nil {
		return token, nil
	}

	exp, err := Expiry(token)
	if err != nil || time.Until(exp) > p.skew {
		// Opaque tokens and fresh JWTs pass through unchanged.
		return token, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the lock: another caller may have renewed already.
	token, _ = p.store.Token(ctx)
	if exp, err := Expiry(token); err != nil || time.Until(exp) > p.skew {
		return token, nil
	}

	renewed, err := p.refresh(ctx)
	if err != nil {
		return "", err
	}
	p.store.Set(renewed)
	return renewed, nil
}
