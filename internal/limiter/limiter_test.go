package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BoundNeverExceeded(t *testing.T) {
	l := New(2, nil)
	ctx := context.Background()

	var active, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(ctx, func() error {
				now := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 0, l.Active())
	assert.Equal(t, 0, l.Waiting())
}

func TestLimiter_FIFOOrder(t *testing.T) {
	l := New(1, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var order []int

	// Hold the only slot so the rest queue up in a known order.
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Do(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_ = l.Do(ctx, func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Stagger submissions so queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3, 4}, order)
}

func TestLimiter_FailingTaskReleasesSlot(t *testing.T) {
	l := New(1, nil)
	ctx := context.Background()

	boom := errors.New("boom")
	err := l.Do(ctx, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// The slot must be free again.
	done := make(chan struct{})
	go func() {
		_ = l.Do(ctx, func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("slot was not released after a failing task")
	}
	assert.Equal(t, 0, l.Active())
}

func TestLimiter_Unbounded(t *testing.T) {
	l := New(0, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var count int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(ctx, func() error {
				atomic.AddInt32(&count, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), count)
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	l := New(1, nil)

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, l.Waiting())

	l.Release()
	assert.Equal(t, 0, l.Active())
}
