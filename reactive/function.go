package reactive

import "context"

// Function is the external function-registry contract the core delegates
// to: given an input, it produces (or reuses) a Computed, deduplicating
// concurrent callers and deciding its own caching/eviction strategy. It is
// explicitly not part of the core's concerns; reactive only calls through
// this interface and never implements it itself (see package registry for a
// reference implementation).
type Function[TIn comparable, TOut any] interface {
	// Invoke produces a consistent (or freshly Computing) Computed for
	// input. If usedBy is non-nil, Invoke is responsible for installing
	// it as a dependent of whatever Computed it returns, typically via
	// that Computed's AddUsed. cancel is forwarded verbatim from the
	// Update/Use call that triggered this invocation; if it fires before
	// Invoke returns, Invoke must not install any edge or otherwise
	// mutate core state.
	Invoke(ctx context.Context, cc *ComputeContext, input TIn, usedBy Node, cancel <-chan struct{}) (*Computed[TIn, TOut], error)

	// TryGetCachedComputed looks up a still-live Computed for input
	// tagged tag. A miss (tag superseded, evicted, or never seen) returns
	// ok=false and is treated as "this edge no longer resolves to
	// anything", not an error.
	TryGetCachedComputed(input TIn, tag LTag) (computed *Computed[TIn, TOut], ok bool)
}
