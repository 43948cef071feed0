// Package degrade carries a stage value together with the reason it fell back.
package degrade

// Result is the output of a pipeline stage that may have degraded.
// Value is always usable; Err is non-nil when the stage fell back to a default.
type Result[T any] struct {
	Value T
	Err   error
}

// OK wraps a value produced without degradation.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fallback wraps a default value produced because err occurred.
func Fallback[T any](v T, err error) Result[T] {
	return Result[T]{Value: v, Err: err}
}

// Degraded reports whether the stage fell back.
func (r Result[T]) Degraded() bool {
	return r.Err != nil
}
