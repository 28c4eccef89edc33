package reactive

import "time"

// Indefinite marks an auto-invalidate timeout as disabled.
const Indefinite time.Duration = -1

// ComputedOptions is an immutable knob bag carried by a Computed. It may
// only be mutated by its owner while the Computed is still Computing.
type ComputedOptions struct {
	// AutoInvalidateTime, if not Indefinite, arms a one-shot timer on a
	// successful (value) result that invalidates the Computed after the
	// given duration has elapsed.
	AutoInvalidateTime time.Duration

	// ErrorAutoInvalidateTime is the AutoInvalidateTime analog for error
	// results, letting callers retry failures sooner (or later) than they
	// refresh healthy values.
	ErrorAutoInvalidateTime time.Duration
}

// autoInvalidateTimeFor returns the timeout that applies to a result with
// the given error-ness, and whether it's finite (i.e. should arm a timer).
func (o ComputedOptions) autoInvalidateTimeFor(hasError bool) (time.Duration, bool) {
	d := o.AutoInvalidateTime
	if hasError {
		d = o.ErrorAutoInvalidateTime
	}
	if d < 0 {
		return 0, false
	}
	return d, true
}
