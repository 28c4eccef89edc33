package reactive

import (
	"context"
	"time"
)

// InvalidateAfter schedules the current computation (per GetCurrent) to be
// invalidated after d has elapsed. It's a convenience for a compute body
// that wants a time-triggered refresh without routing through
// ComputedOptions.AutoInvalidateTime, e.g. because the trigger depends on
// something decided mid-computation rather than known up front. A no-op if
// ctx carries no current computation.
func InvalidateAfter(ctx context.Context, d time.Duration) {
	n, ok := GetCurrent(ctx)
	if !ok {
		return
	}
	time.AfterFunc(d, func() { n.Invalidate() })
}

// InvalidateAt is InvalidateAfter relative to an absolute time.
func InvalidateAt(ctx context.Context, t time.Time) {
	InvalidateAfter(ctx, time.Until(t))
}
