// Package usecase implements the four pipeline use cases: Validate,
// RunStep, Cancel, and Replay. Each Execute method returns a
// Result[T], the sum-type carrier described in the design notes, so
// callers branch on Ok/Err rather than on a Go error alone — the
// stable ErrorCode vocabulary lives at this boundary, one layer above
// core's infrastructure sentinels.
package usecase

// Result is the Ok(value) | Err(code, message, reason) sum type
// returned by every use case's Execute method.
type Result[T any] struct {
	ok    bool
	value T
	err   *Error
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{ok: true, value: value}
}

// Err wraps a use-case-boundary error.
func Err[T any](err *Error) Result[T] {
	return Result[T]{ok: false, err: err}
}

// IsOk reports whether the result carries a success value.
func (r Result[T]) IsOk() bool {
	return r.ok
}

// Value returns the success value. Only meaningful when IsOk() is
// true; returns the zero value of T otherwise.
func (r Result[T]) Value() T {
	return r.value
}

// Error returns the carried error, or nil on success.
func (r Result[T]) Error() *Error {
	return r.err
}
