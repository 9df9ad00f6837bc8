package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestStatic(t *testing.T) {
	provider := Static("tok")
	got, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}

func TestStore_SetAndToken(t *testing.T) {
	store := NewStore("first")

	got, _ := store.Token(context.Background())
	assert.Equal(t, "first", got)

	store.Set("second")
	got, _ = store.Token(context.Background())
	assert.Equal(t, "second", got)
}

func TestExpiry(t *testing.T) {
	token := signedToken(t, time.Hour)

	exp, err := Expiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	_, err = Expiry("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = Expiry("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshingProvider_RenewsNearExpiry(t *testing.T) {
	var refreshCalls int
	stale := signedToken(t, 2*time.Second)
	fresh := signedToken(t, time.Hour)

	store := NewStore(stale)
	provider := NewRefreshingProvider(store, func(ctx context.Context) (string, error) {
		refreshCalls++
		return fresh, nil
	}, 30*time.Second)

	got, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 1, refreshCalls)

	// The renewed token is stored and reused without another refresh.
	got, err = provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 1, refreshCalls)
}

func TestRefreshingProvider_FreshTokenPassesThrough(t *testing.T) {
	var refreshCalls int
	token := signedToken(t, time.Hour)

	store := NewStore(token)
	provider := NewRefreshingProvider(store, func(ctx context.Context) (string, error) {
		refreshCalls++
		return "unused", nil
	}, 30*time.Second)

	got, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)
	assert.Equal(t, 0, refreshCalls)
}

func TestRefreshingProvider_OpaqueTokenPassesThrough(t *testing.T) {
	store := NewStore("opaque-session-token")
	provider := NewRefreshingProvider(store, func(ctx context.Context) (string, error) {
		t.Fatal("opaque tokens must not trigger renewal")
		return "", nil
	}, 30*time.Second)

	got, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-session-token", got)
}
