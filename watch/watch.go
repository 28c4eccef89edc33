// Package watch continuously reevaluates a computation, scheduling a rerun
// whenever the dependencies it touched along the way invalidate.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/samsarahq/go/oops"

	"github.com/samsarahq/reactor/logger"
	"github.com/samsarahq/reactor/reactive"
)

// Func is the body a Watcher reruns. It should call Use on whatever
// reactive.Computed values it depends on (via the ComputeContext it's
// given, if it wants to read back what it captured) so the Watcher learns
// what to watch for invalidation.
type Func func(ctx context.Context, cc *reactive.ComputeContext) error

// Watcher reruns a Func whenever the reactive.Computed values it captured
// on its last run invalidate. The run stops for good once f returns an
// error, or Stop is called.
type Watcher struct {
	ctx       context.Context
	cancelCtx context.CancelFunc

	f                Func
	minRerunInterval time.Duration
	log              logger.Logger

	mu      sync.Mutex
	stopped bool
	lastRun time.Time
	cancel  func()
}

// Option configures a Watcher at construction time.
type Option func(*Watcher)

// WithLogger attaches a logger; a Watcher otherwise uses logger.Nop().
func WithLogger(log logger.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// Start runs f immediately and keeps rerunning it, no more often than
// minRerunInterval, whenever a captured dependency invalidates. It returns
// a Watcher the caller can Stop.
func Start(ctx context.Context, f Func, minRerunInterval time.Duration, opts ...Option) *Watcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		ctx:              ctx,
		cancelCtx:        cancel,
		f:                f,
		minRerunInterval: minRerunInterval,
		log:              logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

func (w *Watcher) run() {
	w.mu.Lock()
	delta := w.minRerunInterval - time.Since(w.lastRun)
	w.mu.Unlock()
	if delta > 0 {
		time.Sleep(delta)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	cc := reactive.NewComputeContext(reactive.CallCapture)
	runCtx, cancelRun := context.WithCancel(w.ctx)
	w.cancel = cancelRun

	err := w.f(reactive.WithComputeContext(runCtx, cc), cc)
	if err != nil {
		w.log.Warn("watch run failed, stopping", "error", oops.Wrapf(err, "running watched computation"))
		w.stopped = true
		return
	}

	w.lastRun = time.Now()

	captured := cc.Captured()
	var once sync.Once
	onInvalidate := func() {
		once.Do(func() { go w.run() })
	}
	for _, n := range captured {
		n.OnInvalidate(onInvalidate)
	}
	if len(captured) == 0 {
		w.log.Debug("watch run captured no dependencies, will not rerun")
	}
}

// Stop cancels the in-flight run (if any) and prevents further reruns.
func (w *Watcher) Stop() {
	w.cancelCtx()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
}
