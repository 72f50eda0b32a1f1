package retry

import (
	"context"

	"github.com/marmos91/dvuploader/internal/logger"
)

// Func is one attempt of an operation. attempt starts at 1.
type Func[T any] func(ctx context.Context, attempt int) Outcome[T]

// Do runs fn until it succeeds, fails permanently, or runs out of attempts.
// A Retryable outcome on the last attempt is returned as Retryable with its
// error wrapped in a TransientNetworkError.
func Do[T any](ctx context.Context, p Policy, op string, fn Func[T]) Outcome[T] {
	maxAttempts := max(p.MaxAttempts, 1)
	delays := p.Delays()

	var last Outcome[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = fn(ctx, attempt)
		last.Attempts = attempt

		switch last.Kind {
		case Success, Permanent:
			return last
		}

		if attempt == maxAttempts {
			break
		}

		delay := delays[attempt-1]
		logger.DebugCtx(ctx, "Retrying operation",
			logger.KeyOperation, op,
			logger.KeyAttempt, attempt,
			logger.KeyMaxRetries, maxAttempts,
			logger.KeyDelay, delay,
			logger.KeyError, last.Err)

		if err := p.sleep(ctx, delay); err != nil {
			return Outcome[T]{Kind: Permanent, Err: err, Attempts: attempt}
		}
	}

	last.Err = &TransientNetworkError{Op: op, Attempts: last.Attempts, Err: last.Err}
	return last
}

// DoErr is Do for operations written as conventional (value, error) calls.
func DoErr[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) Outcome[T] {
	return Do(ctx, p, op, func(ctx context.Context, _ int) Outcome[T] {
		return From(fn(ctx))
	})
}
