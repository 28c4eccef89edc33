package reactive

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

// fakeFunction is a minimal Function used to exercise Computed without
// pulling in package registry; it supports TryGetCachedComputed (needed to
// resolve dependents during an invalidation cascade) but not Invoke, since these tests drive the state
// machine directly.
type fakeFunction[TIn comparable, TOut any] struct {
	mu      sync.Mutex
	entries map[TIn]*Computed[TIn, TOut]
}

func newFakeFunction[TIn comparable, TOut any]() *fakeFunction[TIn, TOut] {
	return &fakeFunction[TIn, TOut]{entries: make(map[TIn]*Computed[TIn, TOut])}
}

func (f *fakeFunction[TIn, TOut]) register(input TIn, c *Computed[TIn, TOut]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[input] = c
}

func (f *fakeFunction[TIn, TOut]) Invoke(ctx context.Context, cc *ComputeContext, input TIn, usedBy Node, cancel <-chan struct{}) (*Computed[TIn, TOut], error) {
	return nil, errors.New("fakeFunction: Invoke not supported")
}

func (f *fakeFunction[TIn, TOut]) TryGetCachedComputed(input TIn, tag LTag) (*Computed[TIn, TOut], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.entries[input]
	if !ok || c.LTag() != tag {
		return nil, false
	}
	return c, true
}

func noAutoInvalidate() ComputedOptions {
	return ComputedOptions{AutoInvalidateTime: Indefinite, ErrorAutoInvalidateTime: Indefinite}
}

// blank creates a fakeFunction-backed, Computing node, registered so
// TryGetCachedComputed can find it.
func blank[TOut any](fn *fakeFunction[string, TOut], key string, opts ComputedOptions) *Computed[string, TOut] {
	tag := NewLTag()
	c := NewComputing[string, TOut](key, fn, tag, opts)
	fn.register(key, c)
	return c
}

// expect is a small utility for verifying that a goroutine (or handler)
// made progress.
type expect struct {
	ch chan struct{}
}

func newExpect() *expect { return &expect{ch: make(chan struct{})} }

func (e *expect) trigger() {
	select {
	case <-e.ch:
	default:
		close(e.ch)
	}
}

func (e *expect) wait(t *testing.T, msg string) {
	t.Helper()
	select {
	case <-e.ch:
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
	}
}

func TestSimpleCacheHit(t *testing.T) {
	fn := newFakeFunction[string, int]()
	n := blank(fn, "k", noAutoInvalidate())
	require.True(t, n.TrySetOutput(ValueResult(7)))

	v, err := n.Use(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, Consistent, n.State())
}

func TestChainedInvalidate(t *testing.T) {
	fn := newFakeFunction[string, int]()

	a := blank(fn, "a", noAutoInvalidate())
	require.True(t, a.TrySetOutput(ValueResult(1)))

	b := blank(fn, "b", noAutoInvalidate())
	require.NoError(t, b.AddUsed(a))
	require.True(t, b.TrySetOutput(ValueResult(2)))

	aInvalidated := newExpect()
	bInvalidated := newExpect()
	a.OnInvalidate(aInvalidated.trigger)
	b.OnInvalidate(bInvalidated.trigger)

	require.True(t, a.Invalidate())

	aInvalidated.wait(t, "expected a to invalidate")
	bInvalidated.wait(t, "expected b to cascade-invalidate")

	assert.Equal(t, Invalidated, a.State())
	assert.Equal(t, Invalidated, b.State())
}

func TestDeferredInvalidate(t *testing.T) {
	fn := newFakeFunction[string, int]()
	n := blank(fn, "n", noAutoInvalidate())

	invalidated := newExpect()
	n.OnInvalidate(invalidated.trigger)

	require.True(t, n.Invalidate())
	assert.Equal(t, Computing, n.State())

	require.True(t, n.TrySetOutput(ValueResult(5)))
	assert.Equal(t, Invalidated, n.State())
	invalidated.wait(t, "expected deferred invalidate to fire handlers")
}

func TestErrorAutoInvalidate(t *testing.T) {
	fn := newFakeFunction[string, int]()
	opts := ComputedOptions{AutoInvalidateTime: Indefinite, ErrorAutoInvalidateTime: 20 * time.Millisecond}
	n := blank(fn, "n", opts)

	require.True(t, n.TrySetOutput(ErrorResult[int](errors.New("boom"))))
	assert.Equal(t, Consistent, n.State())

	require.Eventually(t, func() bool {
		return n.State() == Invalidated
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandlerThrowsMidCascade(t *testing.T) {
	fn := newFakeFunction[string, int]()

	a := blank(fn, "a", noAutoInvalidate())
	require.True(t, a.TrySetOutput(ValueResult(1)))

	b := blank(fn, "b", noAutoInvalidate())
	require.NoError(t, b.AddUsed(a))
	require.True(t, b.TrySetOutput(ValueResult(2)))

	c := blank(fn, "c", noAutoInvalidate())
	require.NoError(t, c.AddUsed(b))
	require.True(t, c.TrySetOutput(ValueResult(3)))

	b.OnInvalidate(func() { panic("handler blew up") })

	cInvalidated := newExpect()
	c.OnInvalidate(cInvalidated.trigger)

	require.NotPanics(t, func() {
		require.True(t, a.Invalidate())
	})

	cInvalidated.wait(t, "expected cascade to reach c despite b's handler panicking")
	assert.Equal(t, Invalidated, a.State())
	assert.Equal(t, Invalidated, b.State())
	assert.Equal(t, Invalidated, c.State())
}

func TestConcurrentInvalidateRace(t *testing.T) {
	fn := newFakeFunction[string, int]()
	n := blank(fn, "n", noAutoInvalidate())
	require.True(t, n.TrySetOutput(ValueResult(1)))

	var fired atomic.Int64
	n.OnInvalidate(func() { fired.Add(1) })

	const goroutines = 32
	var trueCount atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if n.Invalidate() {
				trueCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), trueCount.Load())
	assert.Equal(t, int64(1), fired.Load())
}

func TestAddUsedWrongStateOnConsistent(t *testing.T) {
	fn := newFakeFunction[string, int]()
	a := blank(fn, "a", noAutoInvalidate())
	require.True(t, a.TrySetOutput(ValueResult(1)))

	b := blank(fn, "b", noAutoInvalidate())
	require.True(t, b.TrySetOutput(ValueResult(2)))

	err := b.AddUsed(a)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestAddUsedOnInvalidatedDependencyInvalidatesDependent(t *testing.T) {
	fn := newFakeFunction[string, int]()

	a := blank(fn, "a", noAutoInvalidate())
	require.True(t, a.TrySetOutput(ValueResult(1)))
	require.True(t, a.Invalidate())

	b := blank(fn, "b", noAutoInvalidate())
	require.NoError(t, b.AddUsed(a))
	require.True(t, b.TrySetOutput(ValueResult(2)))
	assert.Equal(t, Invalidated, b.State())
}

func TestOnInvalidateAfterTransitionFiresSynchronously(t *testing.T) {
	fn := newFakeFunction[string, int]()
	n := blank(fn, "n", noAutoInvalidate())
	require.True(t, n.TrySetOutput(ValueResult(1)))
	require.True(t, n.Invalidate())

	var fired bool
	n.OnInvalidate(func() { fired = true })
	assert.True(t, fired)
}

func TestUseSurfacesStoredError(t *testing.T) {
	fn := newFakeFunction[string, int]()
	n := blank(fn, "n", noAutoInvalidate())
	sentinel := errors.New("boom")
	require.True(t, n.TrySetOutput(ErrorResult[int](sentinel)))

	_, err := n.Use(context.Background(), nil)
	assert.ErrorIs(t, err, sentinel)
}

func TestUpdateInstallsDependencyEdge(t *testing.T) {
	fn := newFakeFunction[string, int]()

	a := blank(fn, "a", noAutoInvalidate())
	require.True(t, a.TrySetOutput(ValueResult(1)))

	b := blank(fn, "b", noAutoInvalidate())
	ctx := WithCurrentComputation(context.Background(), b)
	_, err := a.Use(ctx, nil)
	require.NoError(t, err)
	require.True(t, b.TrySetOutput(ValueResult(2)))

	bInvalidated := newExpect()
	b.OnInvalidate(bInvalidated.trigger)

	a.Invalidate()
	bInvalidated.wait(t, "expected Use from within b's computation to wire the edge")
}
