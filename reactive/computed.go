package reactive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Computed is a memoized node holding one Function's result for one input.
// It exposes a monotonic lifecycle (Computing -> Consistent -> Invalidated)
// plus the bidirectional dependency edges (used/usedBy) that make
// invalidation cascade through a dependency graph.
//
// A Computed is created by its Function in one of two shapes: "blank"
// (NewComputing, to be filled in by the user's compute body via
// SetOutput/TrySetOutput) or "pre-baked" (NewConsistent/NewInvalidated,
// constructed directly with an output already known). Destruction is by
// ordinary reachability: usedBy holds no strong reference to dependents, so
// a dependent may be collected without anchoring the dependencies it no
// longer uses.
type Computed[TIn comparable, TOut any] struct {
	input TIn
	lTag  LTag
	fn    Function[TIn, TOut]

	// options is only mutated by the owner while Computing; read freely
	// thereafter.
	options ComputedOptions

	mu    ctxMutex
	state atomic.Int32 // State; written under mu, read freely

	output Result[TOut]

	used          map[Node]struct{}
	usedByEntries map[usedByKey]func() (Node, bool)

	invalidatedHandlers   []func()
	handlersFired         bool
	invalidateOnSetOutput bool

	lastAccess atomic.Int64 // Moment
}

// NewComputing creates a blank Computed in state Computing, to be filled by
// a call to SetOutput/TrySetOutput.
func NewComputing[TIn comparable, TOut any](input TIn, fn Function[TIn, TOut], tag LTag, opts ComputedOptions) *Computed[TIn, TOut] {
	return &Computed[TIn, TOut]{
		input:         input,
		lTag:          tag,
		fn:            fn,
		options:       opts,
		used:          make(map[Node]struct{}),
		usedByEntries: make(map[usedByKey]func() (Node, bool)),
	}
}

// NewConsistent creates a pre-baked Computed, already holding output, and
// arms its auto-invalidate timer (if options call for one) immediately.
func NewConsistent[TIn comparable, TOut any](input TIn, fn Function[TIn, TOut], tag LTag, opts ComputedOptions, output Result[TOut]) *Computed[TIn, TOut] {
	c := NewComputing(input, fn, tag, opts)
	if v, ok := output.IsValue(); ok {
		freezeIfFreezable(v)
	}
	c.output = output
	c.state.Store(int32(Consistent))
	if d, ok := opts.autoInvalidateTimeFor(output.HasError()); ok {
		c.armAutoInvalidate(d)
	}
	return c
}

// NewInvalidated creates a pre-baked Computed that is already Invalidated,
// e.g. because the Function detected its value was stale the instant it was
// produced.
func NewInvalidated[TIn comparable, TOut any](input TIn, fn Function[TIn, TOut], tag LTag, opts ComputedOptions, output Result[TOut]) *Computed[TIn, TOut] {
	c := NewConsistent(input, fn, tag, opts, output)
	c.Invalidate()
	return c
}

// Input returns the computed's input.
func (c *Computed[TIn, TOut]) Input() TIn { return c.input }

// LTag returns the computed's version token.
func (c *Computed[TIn, TOut]) LTag() LTag { return c.lTag }

// Options returns the computed's option bag.
func (c *Computed[TIn, TOut]) Options() ComputedOptions { return c.options }

// State returns the current lifecycle state. Safe to call without holding
// any lock; state is monotonic, so a racing reader sees an older but
// never-invalid state.
func (c *Computed[TIn, TOut]) State() State {
	return State(c.state.Load())
}

// Touch records clock.Now() as the last-access time, for use by an external
// eviction policy. Lock-free.
func (c *Computed[TIn, TOut]) Touch(clock Clock) {
	c.lastAccess.Store(int64(clock.Now()))
}

// LastAccess returns the most recent Touch time, or the zero Moment if
// never touched.
func (c *Computed[TIn, TOut]) LastAccess() Moment {
	return Moment(c.lastAccess.Load())
}

// Output returns the computed's result. Returns ErrWrongState if the node
// is still Computing.
func (c *Computed[TIn, TOut]) Output() (Result[TOut], error) {
	if c.State() == Computing {
		var zero Result[TOut]
		return zero, wrongStateError("Output", Computing)
	}
	return c.output, nil
}

// TrySetOutput publishes r as the computed's output, transitioning
// Computing -> Consistent (or, if Invalidate was called while Computing,
// straight on to Invalidated). Returns false without effect if the node is
// no longer Computing.
func (c *Computed[TIn, TOut]) TrySetOutput(r Result[TOut]) bool {
	if v, ok := r.IsValue(); ok {
		freezeIfFreezable(v)
	}

	_ = c.mu.Lock(context.Background())
	if c.State() != Computing {
		c.mu.Unlock()
		return false
	}
	c.output = r
	deferred := c.invalidateOnSetOutput
	c.invalidateOnSetOutput = false
	c.state.Store(int32(Consistent))
	c.mu.Unlock()

	if deferred {
		c.Invalidate()
		return true
	}

	if d, ok := c.options.autoInvalidateTimeFor(r.HasError()); ok {
		c.armAutoInvalidate(d)
	}
	return true
}

// SetOutput is TrySetOutput, returning ErrWrongState instead of a bare
// false.
func (c *Computed[TIn, TOut]) SetOutput(r Result[TOut]) error {
	if !c.TrySetOutput(r) {
		return wrongStateError("SetOutput", c.State())
	}
	return nil
}

// AddUsed registers a as a forward dependency of c: "c used a during its
// computation". It transitively installs the reverse edge via a.addUsedBy.
// Only legal while c is Computing; a no-op if c is already Invalidated
// (a late edge is simply dropped).
func (c *Computed[TIn, TOut]) AddUsed(a Node) error {
	_ = c.mu.Lock(context.Background())
	switch c.State() {
	case Consistent:
		c.mu.Unlock()
		return wrongStateError("AddUsed", Consistent)
	case Invalidated:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// c's lock is not held across addUsedBy: if a is already Invalidated,
	// addUsedBy invalidates c, which takes c's lock itself.
	key := usedByKey{input: any(c.input), lTag: c.lTag}
	resolve := func() (Node, bool) {
		cached, ok := c.fn.TryGetCachedComputed(c.input, c.lTag)
		if !ok {
			return nil, false
		}
		return cached, true
	}
	if err := a.addUsedBy(c, key, resolve); err != nil {
		return err
	}

	_ = c.mu.Lock(context.Background())
	if c.State() == Computing {
		c.used[a] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// addUsedBy is the reverse half of AddUsed, called on the dependency (c
// here) by the dependent (dep). Raises ErrWrongState if c is still
// Computing: a node cannot be depended on before it has produced a value.
// If c is already Invalidated, dep is immediately invalidated in turn,
// since the edge it wanted is already stale.
func (c *Computed[TIn, TOut]) addUsedBy(dep Node, key usedByKey, resolve func() (Node, bool)) error {
	_ = c.mu.Lock(context.Background())
	switch c.State() {
	case Computing:
		c.mu.Unlock()
		return wrongStateError("AddUsedBy", Computing)
	case Invalidated:
		c.mu.Unlock()
		dep.Invalidate()
		return nil
	default:
		c.usedByEntries[key] = resolve
		c.mu.Unlock()
		return nil
	}
}

// removeUsedBy drops a reverse edge by identity. Always legal; a no-op if
// the key isn't present.
func (c *Computed[TIn, TOut]) removeUsedBy(key usedByKey) {
	_ = c.mu.Lock(context.Background())
	delete(c.usedByEntries, key)
	c.mu.Unlock()
}

// OnInvalidate registers f to run when c transitions to Invalidated. If c
// has already made that transition and fired its handlers, f runs
// synchronously, immediately, instead of being queued. A panic from f is
// recovered and dropped: invalidation must never fail.
func (c *Computed[TIn, TOut]) OnInvalidate(f func()) {
	_ = c.mu.Lock(context.Background())
	if c.State() == Invalidated && c.handlersFired {
		c.mu.Unlock()
		invokeHandlerSafely(f)
		return
	}
	c.invalidatedHandlers = append(c.invalidatedHandlers, f)
	c.mu.Unlock()
}

// Invalidate transitions c towards Invalidated. On a Computing node it only
// defers: the transition happens when output is eventually set. On a
// Consistent node it fires c's own invalidatedHandlers, then cascades along
// usedBy to every still-resolvable dependent. Returns false if c was
// already Invalidated (the fast path §4.4 step 1 relies on for
// idempotency, e.g. from a timer's own cancellation callback re-entering
// Invalidate).
func (c *Computed[TIn, TOut]) Invalidate() bool {
	if c.State() == Invalidated {
		return false
	}

	_ = c.mu.Lock(context.Background())
	switch c.State() {
	case Invalidated:
		c.mu.Unlock()
		return false
	case Computing:
		c.invalidateOnSetOutput = true
		c.mu.Unlock()
		return true
	}

	c.state.Store(int32(Invalidated))
	handlers := c.invalidatedHandlers
	c.invalidatedHandlers = nil
	c.handlersFired = true

	resolves := acquireResolveBuf()
	for _, r := range c.usedByEntries {
		resolves = append(resolves, r)
	}
	c.usedByEntries = make(map[usedByKey]func() (Node, bool))

	deps := acquireNodeBuf()
	for n := range c.used {
		deps = append(deps, n)
	}
	c.used = make(map[Node]struct{})
	c.mu.Unlock()

	key := usedByKey{input: any(c.input), lTag: c.lTag}
	for _, n := range deps {
		n.removeUsedBy(key)
	}
	releaseNodeBuf(deps)

	for _, h := range handlers {
		invokeHandlerSafely(h)
	}

	for _, r := range resolves {
		if dep, ok := r(); ok {
			dep.Invalidate()
		}
	}
	releaseResolveBuf(resolves)

	return true
}

func invokeHandlerSafely(f func()) {
	defer func() { _ = recover() }()
	f()
}

func (c *Computed[TIn, TOut]) armAutoInvalidate(d time.Duration) {
	var stopOnce sync.Once
	timer := time.AfterFunc(d, func() {
		c.Invalidate()
	})
	c.OnInvalidate(func() {
		stopOnce.Do(func() { timer.Stop() })
	})
}

// Update is the only place the core calls Function.Invoke (the core's other
// call into Function is TryGetCachedComputed, used to resolve dependents
// during an invalidation cascade). If c is already Consistent, it's returned as-is (after
// installing the dependency edge and capturing, per addDependency/cc); if
// not, the call is delegated to c's Function, which is responsible for
// producing a fresh (or differently-cached) Computed and installing the
// edge on it.
//
// addDependency controls whether the current computation (from ctx, see
// GetCurrent) should be registered as a dependent. cc is the effective
// ComputeContext; if nil, Update falls back to whatever is ambient on ctx.
func (c *Computed[TIn, TOut]) Update(ctx context.Context, addDependency bool, cc *ComputeContext) (*Computed[TIn, TOut], error) {
	var usedBy Node
	if addDependency {
		usedBy, _ = GetCurrent(ctx)
	}

	effective := cc
	if effective == nil {
		effective, _ = CurrentComputeContext(ctx)
	}

	if c.State() != Consistent {
		return c.fn.Invoke(ctx, effective, c.input, usedBy, ctx.Done())
	}

	if effective.has(CallInvalidate) {
		c.Invalidate()
	}

	if usedBy != nil {
		if err := usedBy.AddUsed(c); err != nil {
			return nil, err
		}
	}

	effective.TryCaptureValue(c)
	return c, nil
}

// Use is Update(addDependency=true), unwrapped: it always tries to attach a
// dependency edge onto the current computation, then returns the value (or
// the stored error, unmodified).
func (c *Computed[TIn, TOut]) Use(ctx context.Context, cc *ComputeContext) (TOut, error) {
	updated, err := c.Update(ctx, true, cc)
	if err != nil {
		var zero TOut
		return zero, err
	}
	out, err := updated.Output()
	if err != nil {
		var zero TOut
		return zero, err
	}
	return out.Unwrap()
}
