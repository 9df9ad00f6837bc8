package coalesce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sao-lang/lania-tools/request/core"
)

func TestDebounce_LastWins(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	const submissions = 5
	results := make([]error, submissions)

	var mu sync.Mutex
	var rejectionOrder []int

	var wg sync.WaitGroup
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			err := c.Debounce(ctx, "key", 200*time.Millisecond)
			results[i] = err
			if err != nil {
				mu.Lock()
				rejectionOrder = append(rejectionOrder, i)
				mu.Unlock()
			}
		}()
		// Each arrival lands inside the previous delay window.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	// Exactly the last submission survives.
	assert.NoError(t, results[submissions-1])
	for i := 0; i < submissions-1; i++ {
		require.Error(t, results[i], "submission %d should be rejected", i)
		assert.Equal(t, core.CancelDebounce, core.CancelKindOf(results[i]))
	}

	// Earlier callers fail in strict submission order.
	assert.Equal(t, []int{0, 1, 2, 3}, rejectionOrder)
	assert.Equal(t, 0, c.PendingDebounces())
}

func TestDebounce_QuietWindowAdmits(t *testing.T) {
	c := New(nil)

	start := time.Now()
	err := c.Debounce(context.Background(), "key", 50*time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDebounce_ContextCancel(t *testing.T) {
	c := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.Debounce(ctx, "key", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.PendingDebounces())
}

func TestThrottle_Leading(t *testing.T) {
	c := New(nil)

	var admitted, rejected int
	for i := 0; i < 5; i++ {
		err := c.Throttle("key", time.Second)
		if err == nil {
			admitted++
		} else {
			assert.Equal(t, core.CancelThrottle, core.CancelKindOf(err))
			rejected++
		}
	}

	assert.Equal(t, 1, admitted, "only the leading call passes within one interval")
	assert.Equal(t, 4, rejected)
}

func TestThrottle_AdmitsAfterInterval(t *testing.T) {
	c := New(nil)

	require.NoError(t, c.Throttle("key", 50*time.Millisecond))
	require.Error(t, c.Throttle("key", 50*time.Millisecond))

	time.Sleep(70 * time.Millisecond)
	assert.NoError(t, c.Throttle("key", 50*time.Millisecond))
}

func TestThrottle_KeysAreIndependent(t *testing.T) {
	c := New(nil)

	assert.NoError(t, c.Throttle("a", time.Second))
	assert.NoError(t, c.Throttle("b", time.Second))
}

func TestClose_RejectsPendingWithManagerCleared(t *testing.T) {
	c := New(nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Debounce(context.Background(), "key", time.Second)
	}()

	// Let the waiter register before shutdown.
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.Equal(t, core.CancelManagerCleared, core.CancelKindOf(err))
	case <-time.After(time.Second):
		t.Fatal("pending debounce was not rejected on close")
	}

	// Submissions after close fail immediately with the same kind.
	err := c.Debounce(context.Background(), "key", time.Millisecond)
	assert.Equal(t, core.CancelManagerCleared, core.CancelKindOf(err))
}
