package reactive

import "sync/atomic"

// LTag is an opaque version token distinguishing successive computations of
// the same (Function, input) pair. Two computeds for the same input compare
// equal as "the same incarnation" iff their LTags match; TryGetCachedComputed
// uses the tag to reject a cache entry that has since been replaced.
type LTag uint64

var ltagCounter uint64

// NewLTag issues a fresh LTag, distinct from every tag issued before it in
// this process.
func NewLTag() LTag {
	return LTag(atomic.AddUint64(&ltagCounter, 1))
}
