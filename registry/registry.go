// Package registry is a reference reactive.Function: it memoizes one
// compute body per input, deduplicating concurrent callers for the same
// input and handing out the live reactive.Computed on a cache hit.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/samsarahq/go/oops"
	"golang.org/x/sync/errgroup"

	"github.com/samsarahq/reactor/internal/keylock"
	"github.com/samsarahq/reactor/logger"
	"github.com/samsarahq/reactor/reactive"
)

// Compute is the user-supplied body a Registry memoizes. ctx carries the
// current computation (via reactive.WithCurrentComputation, installed by
// the Registry itself) so that calls the body makes to other Computed
// values' Use register the right dependency edges.
type Compute[TIn comparable, TOut any] func(ctx context.Context, input TIn) (TOut, error)

// Registry is a reactive.Function backed by an in-memory cache keyed by
// input. Its zero value is not usable; construct with New.
type Registry[TIn comparable, TOut any] struct {
	compute Compute[TIn, TOut]
	options reactive.ComputedOptions
	clock   reactive.Clock
	log     logger.Logger
	metrics Metrics

	locker *keylock.Locker[TIn]

	mu      sync.Mutex
	entries map[TIn]*reactive.Computed[TIn, TOut]
}

// Option configures a Registry at construction time.
type Option[TIn comparable, TOut any] func(*Registry[TIn, TOut])

// WithComputedOptions sets the ComputedOptions every produced Computed is
// given, e.g. an AutoInvalidateTime for a polling-style source.
func WithComputedOptions[TIn comparable, TOut any](opts reactive.ComputedOptions) Option[TIn, TOut] {
	return func(r *Registry[TIn, TOut]) { r.options = opts }
}

// WithClock overrides reactive.DefaultClock, e.g. for deterministic tests.
func WithClock[TIn comparable, TOut any](clock reactive.Clock) Option[TIn, TOut] {
	return func(r *Registry[TIn, TOut]) { r.clock = clock }
}

// WithLogger attaches a logger; a Registry otherwise uses logger.Nop().
func WithLogger[TIn comparable, TOut any](log logger.Logger) Option[TIn, TOut] {
	return func(r *Registry[TIn, TOut]) { r.log = log }
}

// WithMetrics attaches a Metrics sink, e.g. a PrometheusMetrics; a Registry
// otherwise reports to a noopMetrics.
func WithMetrics[TIn comparable, TOut any](m Metrics) Option[TIn, TOut] {
	return func(r *Registry[TIn, TOut]) { r.metrics = m }
}

// New creates a Registry that memoizes compute.
func New[TIn comparable, TOut any](compute Compute[TIn, TOut], opts ...Option[TIn, TOut]) *Registry[TIn, TOut] {
	r := &Registry[TIn, TOut]{
		compute: compute,
		options: reactive.ComputedOptions{AutoInvalidateTime: reactive.Indefinite, ErrorAutoInvalidateTime: reactive.Indefinite},
		clock:   reactive.DefaultClock,
		log:     logger.Nop(),
		metrics: noopMetrics{},
		locker:  keylock.New[TIn](),
		entries: make(map[TIn]*reactive.Computed[TIn, TOut]),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry[TIn, TOut]) get(input TIn) (*reactive.Computed[TIn, TOut], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[input]
	if ok && c.State() == reactive.Invalidated {
		delete(r.entries, input)
		return nil, false
	}
	return c, ok
}

func (r *Registry[TIn, TOut]) set(input TIn, c *reactive.Computed[TIn, TOut]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[input] = c
}

// TryGetCachedComputed implements reactive.Function.
func (r *Registry[TIn, TOut]) TryGetCachedComputed(input TIn, tag reactive.LTag) (*reactive.Computed[TIn, TOut], bool) {
	c, ok := r.get(input)
	if !ok || c.LTag() != tag {
		return nil, false
	}
	return c, true
}

// Invoke implements reactive.Function: it returns a cached Computed for
// input if one is live, otherwise runs compute once (deduplicating
// concurrent Invoke calls for the same input via an internal per-key lock)
// and caches the result.
func (r *Registry[TIn, TOut]) Invoke(ctx context.Context, cc *reactive.ComputeContext, input TIn, usedBy reactive.Node, cancel <-chan struct{}) (*reactive.Computed[TIn, TOut], error) {
	// A Computing entry is still being filled in by the holder of input's
	// lock; wait for that lock rather than hand out the placeholder.
	if c, ok := r.get(input); ok && c.State() != reactive.Computing {
		r.metrics.RecordInvoke(true)
		return r.attach(c, usedBy, cc)
	}

	r.locker.Lock(input)
	defer r.locker.Unlock(input)

	// Someone else may have populated the entry while we waited for the lock.
	if c, ok := r.get(input); ok {
		r.metrics.RecordInvoke(true)
		return r.attach(c, usedBy, cc)
	}
	r.metrics.RecordInvoke(false)

	c := reactive.NewComputing[TIn, TOut](input, r, reactive.NewLTag(), r.options)
	r.set(input, c)
	r.metrics.SetCacheSize(r.size())

	childCtx := reactive.WithCurrentComputation(ctx, c)
	value, err := r.runCompute(childCtx, input, cancel)

	select {
	case <-cancel:
		// Canceled: per Function's contract, install no edge and mutate no
		// core state. c was never anything but Computing, and nothing else
		// can have observed it (we still hold input's lock), so it's safe
		// to just drop it from the cache and abandon it.
		r.evict(input, c)
		return nil, oops.Errorf("computing value for %v: canceled", input)
	default:
	}

	if err != nil {
		r.metrics.RecordComputeError()
		if serr := c.SetOutput(reactive.ErrorResult[TOut](err)); serr != nil {
			return nil, oops.Wrapf(serr, "publishing computed error for %v", input)
		}
		return r.attach(c, usedBy, cc)
	}

	if err := c.SetOutput(reactive.ValueResult(value)); err != nil {
		return nil, oops.Wrapf(err, "publishing computed output for %v", input)
	}
	c.Touch(r.clock)

	return r.attach(c, usedBy, cc)
}

// evict removes c from the cache if it's still the entry registered for
// input, used to abandon a Computing placeholder that compute never got to
// fill in because its caller was canceled.
func (r *Registry[TIn, TOut]) evict(input TIn, c *reactive.Computed[TIn, TOut]) {
	r.mu.Lock()
	if cur, ok := r.entries[input]; ok && cur == c {
		delete(r.entries, input)
	}
	n := len(r.entries)
	r.mu.Unlock()
	r.metrics.SetCacheSize(n)
}

func (r *Registry[TIn, TOut]) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[TIn, TOut]) runCompute(ctx context.Context, input TIn, cancel <-chan struct{}) (out TOut, err error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		out, err = r.compute(ctx, input)
	}()

	select {
	case <-done:
		if err != nil {
			r.log.Warn("compute failed", "input", input, "error", err)
			return out, oops.Wrapf(err, "computing value for %v", input)
		}
		return out, nil
	case <-cancel:
		var zero TOut
		return zero, oops.Errorf("computing value for %v: canceled", input)
	}
}

func (r *Registry[TIn, TOut]) attach(c *reactive.Computed[TIn, TOut], usedBy reactive.Node, cc *reactive.ComputeContext) (*reactive.Computed[TIn, TOut], error) {
	if usedBy != nil {
		if err := usedBy.AddUsed(c); err != nil {
			return nil, err
		}
	}
	cc.TryCaptureValue(c)
	return c, nil
}

// CleanInvalidated drops every cached entry that's been invalidated, so
// they can be collected once nothing else references them.
func (r *Registry[TIn, TOut]) CleanInvalidated() {
	r.mu.Lock()
	for key, c := range r.entries {
		if c.State() == reactive.Invalidated {
			delete(r.entries, key)
		}
	}
	n := len(r.entries)
	r.mu.Unlock()
	r.metrics.SetCacheSize(n)
}

// WarmUp concurrently Invokes every input in inputs, bounded by maxParallel
// concurrent compute bodies at a time (0 means unbounded). Each Invoke is
// given ctx itself as its cancel source, deliberately not errgroup's own
// derived, fail-fast context: one input's compute error must not cancel its
// siblings' in-flight Invoke calls (which per Invoke's cancellation contract
// would make them discard their result instead of caching it). Every input
// therefore runs to completion and is cached independently, whether or not
// another input failed; only ctx itself being canceled stops the batch
// early. WarmUp returns the first error encountered, if any, once every
// input has been attempted.
func (r *Registry[TIn, TOut]) WarmUp(ctx context.Context, inputs []TIn, maxParallel int) error {
	g := &errgroup.Group{}
	if maxParallel > 0 {
		g.SetLimit(maxParallel)
	}
	for _, input := range inputs {
		input := input
		g.Go(func() error {
			c, err := r.Invoke(ctx, nil, input, nil, ctx.Done())
			if err != nil {
				return err
			}
			out, err := c.Output()
			if err != nil {
				return err
			}
			return out.Err()
		})
	}
	return g.Wait()
}

// StartCleanupLoop runs CleanInvalidated every interval until ctx is done.
func (r *Registry[TIn, TOut]) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanInvalidated()
			}
		}
	}()
}
