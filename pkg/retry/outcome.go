// Package retry runs operations under bounded exponential backoff and
// reports results as typed outcomes instead of bare errors.
package retry

import "fmt"

// Kind classifies an Outcome.
type Kind int

const (
	// Success carries a value.
	Success Kind = iota
	// Retryable failed for a reason that may clear on its own.
	Retryable
	// Permanent failed for a reason retrying cannot fix.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is Success(Value) | Retryable(Err) | Permanent(Err).
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Err   error

	// Attempts is how many times the operation ran to produce this outcome.
	Attempts int
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: Success, Value: v}
}

// Retry wraps a failure that may succeed if repeated.
func Retry[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: Retryable, Err: err}
}

// Fail wraps a failure that must not be repeated.
func Fail[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: Permanent, Err: err}
}

// From builds an outcome from a conventional (value, error) pair, using
// Classify to decide between Retryable and Permanent.
func From[T any](v T, err error) Outcome[T] {
	if err == nil {
		return Ok(v)
	}
	return Outcome[T]{Kind: Classify(err), Err: err}
}

// Map converts the value of a successful outcome, preserving failures.
func Map[T, U any](o Outcome[T], f func(T) U) Outcome[U] {
	out := Outcome[U]{Kind: o.Kind, Err: o.Err, Attempts: o.Attempts}
	if o.Kind == Success {
		out.Value = f(o.Value)
	}
	return out
}

// Get returns the value and error of the outcome.
func (o Outcome[T]) Get() (T, error) {
	return o.Value, o.Err
}

// OK reports whether the outcome is a Success.
func (o Outcome[T]) OK() bool { return o.Kind == Success }
