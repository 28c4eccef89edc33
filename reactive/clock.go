package reactive

import "time"

// Moment is a coarse monotonic timestamp, in nanoseconds from an arbitrary
// but fixed epoch. It's cheap to read and is only ever compared to other
// Moments from the same Clock, never serialized or compared across
// processes.
type Moment int64

// Clock is the monotonic time source consulted by Touch. It's a defined
// external collaborator so tests can substitute a fake clock without
// sleeping. The auto-invalidate timers use time.AfterFunc directly and do
// not read it.
type Clock interface {
	Now() Moment
}

type systemClock struct{}

var processStart = time.Now()

func (systemClock) Now() Moment { return Moment(time.Since(processStart)) }

// DefaultClock measures the time elapsed since process start via
// time.Since, which uses the monotonic reading time.Now carries on every
// supported Go platform.
var DefaultClock Clock = systemClock{}
