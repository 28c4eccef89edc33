// Package concurrencylimiter bounds how many goroutines may run a section of
// code at once, using a context-scoped counting semaphore. It additionally
// supports temporarily giving up a held slot around a blocking call
// (TemporarilyRelease), so a goroutine waiting on I/O doesn't starve others
// of concurrency budget.
package concurrencylimiter

import (
	"context"
	"sync"
)

// limiter is a counting semaphore: a token is a free slot in sem.
type limiter struct {
	sem chan struct{}
}

func (l *limiter) acquire(ctx context.Context) bool {
	select {
	case l.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *limiter) release() { <-l.sem }

type limiterKey struct{}

// With installs a limiter capped at n concurrent acquisitions into ctx. n
// may be 0, in which case Acquire never succeeds on its own and only
// returns once its context is canceled.
func With(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, limiterKey{}, &limiter{sem: make(chan struct{}, n)})
}

// acquisition tracks one Acquire call's token. heldToken is true exactly
// when the real semaphore slot is currently ours; it flips to false while
// any TemporarilyRelease section is in flight (borrowers > 0) or after
// release has been called. owesReacquire is true exactly when a
// TemporarilyRelease section actually gave a held slot back and so must try
// to reclaim one once every borrower is done; an acquisition that never held
// a token (a canceled Acquire) never sets it, so it never wrongly acquires a
// slot it was never entitled to. Exactly one goroutine ever observes a given
// heldToken transition, so the channel op it guards is never done twice.
type acquisition struct {
	lim *limiter

	mu            sync.Mutex
	borrowers     int
	heldToken     bool
	owesReacquire bool
	closed        bool
}

type acquisitionKey struct{}

// Acquire blocks until a slot is free under ctx's limiter (installed by
// With), or until ctx is done, whichever comes first. If ctx carries no
// limiter, Acquire returns immediately. The returned release must be called
// exactly once.
func Acquire(ctx context.Context) (context.Context, func()) {
	lim, ok := ctx.Value(limiterKey{}).(*limiter)
	if !ok {
		return ctx, func() {}
	}

	a := &acquisition{lim: lim}
	a.heldToken = lim.acquire(ctx)

	return context.WithValue(ctx, acquisitionKey{}, a), func() { a.release() }
}

func (a *acquisition) release() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	held := a.heldToken
	a.heldToken = false
	a.mu.Unlock()

	if held {
		a.lim.release()
	}
}

// TemporarilyRelease gives up ctx's held slot (if any) for the duration of
// f, letting another acquirer through, then reacquires it before returning.
// Concurrent calls sharing the same acquisition coordinate via a refcount:
// the slot is given back when the first of them starts and reclaimed only
// once the last of them finishes, so sibling TemporarilyRelease sections
// run concurrently with each other rather than serializing on the slot they
// share. A no-op wrapper around f if ctx carries no acquisition, or if the
// acquisition was already released.
func TemporarilyRelease(ctx context.Context, f func()) {
	a, ok := ctx.Value(acquisitionKey{}).(*acquisition)
	if !ok {
		f()
		return
	}

	a.mu.Lock()
	a.borrowers++
	giveBack := a.heldToken
	if giveBack {
		a.heldToken = false
		a.owesReacquire = true
	}
	a.mu.Unlock()

	if giveBack {
		a.lim.release()
	}

	defer func() {
		a.mu.Lock()
		a.borrowers--
		reclaim := a.borrowers == 0 && a.owesReacquire && !a.closed
		if reclaim {
			// Claim the debt now, so a borrower that starts and finishes
			// while this reacquire is pending doesn't reclaim a second slot.
			a.owesReacquire = false
		}
		a.mu.Unlock()

		if !reclaim {
			return
		}

		// ctx.Done() here is whatever canceled the original Acquire; a
		// failed reacquire just leaves heldToken false, matching the
		// degraded "ran without a slot" behavior Acquire itself allows.
		if !a.lim.acquire(ctx) {
			a.mu.Lock()
			a.owesReacquire = false
			a.mu.Unlock()
			return
		}
		a.mu.Lock()
		a.owesReacquire = false
		if a.closed {
			// release() ran while we were reacquiring: give the slot we
			// just claimed straight back rather than holding it past Release.
			a.mu.Unlock()
			a.lim.release()
			return
		}
		a.heldToken = true
		a.mu.Unlock()
	}()

	f()
}
