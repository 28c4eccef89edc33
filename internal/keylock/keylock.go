// Package keylock provides a collection of mutexes indexed by arbitrary
// comparable keys, so unrelated keys never contend with each other.
package keylock

import "sync"

type entry struct {
	ref int
	mu  sync.Mutex
}

// Locker is a set of per-key mutexes, allocated lazily and reclaimed once
// unreferenced.
type Locker[K comparable] struct {
	mu sync.Mutex
	m  map[K]*entry
}

// New creates an empty Locker.
func New[K comparable]() *Locker[K] {
	return &Locker[K]{m: make(map[K]*entry)}
}

// Lock locks the mutex for k, allocating it on first use.
func (l *Locker[K]) Lock(k K) {
	l.mu.Lock()
	e, ok := l.m[k]
	if !ok {
		e = new(entry)
		l.m[k] = e
	}
	e.ref++
	l.mu.Unlock()

	e.mu.Lock()
}

// Unlock unlocks the mutex for k, freeing its entry once no goroutine is
// waiting on it.
func (l *Locker[K]) Unlock(k K) {
	l.mu.Lock()
	e := l.m[k]
	e.mu.Unlock()
	e.ref--
	if e.ref == 0 {
		delete(l.m, k)
	}
	l.mu.Unlock()
}
