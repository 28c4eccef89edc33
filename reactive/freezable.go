package reactive

// Freezable is an optional capability on computed values. If a value
// implements it, Freeze is called exactly once, immediately before the
// value becomes externally observable (i.e. right before TrySetOutput
// publishes it). Typical implementations make a mutable builder immutable,
// so that a value shared across goroutines via the cache can't be mutated
// out from under a concurrent reader.
type Freezable interface {
	Freeze()
}

func freezeIfFreezable[T any](v T) {
	if f, ok := any(v).(Freezable); ok {
		f.Freeze()
	}
}
