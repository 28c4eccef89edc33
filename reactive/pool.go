package reactive

import "sync"

// Invalidate snapshots usedByEntries and used into scratch slices before
// releasing the node's lock, so handlers and the cascade walk never run
// while holding it. The slices are pooled: invalidation is on the hot path
// for any write-heavy workload and the snapshot sizes are small and bursty,
// a good match for sync.Pool.
var (
	resolveBufPool = sync.Pool{
		New: func() any { return make([]func() (Node, bool), 0, 8) },
	}
	nodeBufPool = sync.Pool{
		New: func() any { return make([]Node, 0, 8) },
	}
)

func acquireResolveBuf() []func() (Node, bool) {
	return resolveBufPool.Get().([]func() (Node, bool))[:0]
}

func releaseResolveBuf(b []func() (Node, bool)) {
	resolveBufPool.Put(b[:0]) //nolint:staticcheck // intentional: reuse the backing array
}

func acquireNodeBuf() []Node {
	return nodeBufPool.Get().([]Node)[:0]
}

func releaseNodeBuf(b []Node) {
	nodeBufPool.Put(b[:0]) //nolint:staticcheck
}
