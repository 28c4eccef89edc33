package reactive

// Node is the type-erased view of a *Computed[TIn, TOut] used for graph
// traversal, where TOut varies across dependencies and can't appear in a
// single collection type. Every instantiation of Computed implements it.
type Node interface {
	// Invalidate transitions the node towards Invalidated, cascading to
	// its dependents. Returns false if the node was already Invalidated.
	// On a Computing node it only defers the transition and returns true,
	// even when invalidation was already deferred.
	Invalidate() bool

	// AddUsed registers a (the receiver depends on a) as a forward edge,
	// which transitively installs the reverse edge on a. Only legal while
	// the receiver is Computing.
	AddUsed(a Node) error

	// addUsedBy is the reverse half of AddUsed: it's called on the
	// dependency (the receiver here) by the dependent, without the
	// dependent's lock held, since it may invalidate the dependent.
	addUsedBy(dep Node, key usedByKey, resolve func() (Node, bool)) error

	// removeUsedBy drops a reverse edge by identity; always legal, a
	// no-op if the edge is already gone.
	removeUsedBy(key usedByKey)

	// OnInvalidate registers f to run when the node transitions to
	// Invalidated, or runs it immediately if that's already happened.
	OnInvalidate(f func())
}

// usedByKey identifies a dependent by an identity pair rather than a strong
// reference: the dependent's input (boxed, relying on TIn being constrained to
// comparable) and its LTag. Storing this instead of a strong reference lets
// a dependent be garbage-collected independently of its dependencies.
type usedByKey struct {
	input any
	lTag  LTag
}
