package cancelreg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_CancelByIDScoping(t *testing.T) {
	r := New(nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	r.Set("a", cancelA)
	r.Set("b", cancelB)

	assert.True(t, r.CancelByID("a"))

	assert.Error(t, ctxA.Err(), "cancelled request's context must be done")
	assert.NoError(t, ctxB.Err(), "other requests are unaffected")
	assert.Equal(t, 1, r.Len())

	_, ok := r.Get("a")
	assert.False(t, ok, "cancelled entry is removed")
	_, ok = r.Get("b")
	assert.True(t, ok)
}

func TestRegistry_CancelByIDUnknown(t *testing.T) {
	r := New(nil)
	assert.False(t, r.CancelByID("nope"))
}

func TestRegistry_CancelAll(t *testing.T) {
	r := New(nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())

	r.Set("a", cancelA)
	r.Set("b", cancelB)

	assert.Equal(t, 2, r.CancelAll())
	assert.Error(t, ctxA.Err())
	assert.Error(t, ctxB.Err())
	assert.Equal(t, 0, r.Len(), "no registry entries remain")

	// Subsequent cleanup is idempotent.
	assert.Equal(t, 0, r.CancelAll())
}

func TestRegistry_ReregisterReplaces(t *testing.T) {
	r := New(nil)

	ctxOld, cancelOld := context.WithCancel(context.Background())
	ctxNew, cancelNew := context.WithCancel(context.Background())
	defer cancelOld()
	defer cancelNew()

	r.Set("id", cancelOld)
	r.Set("id", cancelNew)

	r.CancelByID("id")
	assert.NoError(t, ctxOld.Err(), "replaced handle must not fire")
	assert.Error(t, ctxNew.Err())
}

func TestRegistry_DeleteIsIdempotent(t *testing.T) {
	r := New(nil)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Set("id", cancel)
	r.Delete("id")
	r.Delete("id")
	assert.Equal(t, 0, r.Len())
}
