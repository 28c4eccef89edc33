package reactive

import (
	"context"
	"sync"
)

// ctxMutex is a mutex whose Lock can give up when a context is canceled or
// times out, instead of blocking forever. It's the node's own lock: every
// call site in Computed (TrySetOutput, Invalidate, AddUsed, ...) locks with
// context.Background() and so can't fail; Update and Use do not take it.
//
// The zero value is an unlocked mutex, ready to use.
type ctxMutex struct {
	once sync.Once
	ch   chan struct{}
}

func (m *ctxMutex) init() {
	m.ch = make(chan struct{}, 1)
}

// Lock acquires the mutex, or returns ctx.Err() if ctx is done first.
func (m *ctxMutex) Lock(ctx context.Context) error {
	m.once.Do(m.init)

	select {
	case m.ch <- struct{}{}:
		return nil
	default:
	}

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the mutex. Calling Unlock without a matching successful
// Lock panics.
func (m *ctxMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("Unlock called before Lock")
	}
}
