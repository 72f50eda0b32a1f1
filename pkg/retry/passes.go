package retry

import (
	"context"

	"github.com/marmos91/dvuploader/internal/logger"
)

// PassFunc runs one pass over keys and returns an outcome per key. pass is 0
// for the initial traversal.
type PassFunc[K comparable, T any] func(ctx context.Context, pass int, keys []K) map[K]Outcome[T]

// PassResult is the final outcome of one key across all passes.
type PassResult[T any] struct {
	Outcome[T]

	// Retries is the number of extra passes the key took part in.
	Retries int

	// ExhaustedAttempts sums the attempts of the passes that ended Retryable.
	ExhaustedAttempts int
}

// Passes runs fn over keys, then reruns it over the keys whose outcome was
// Retryable, up to p.MaxAttempts passes in total. Keys that fail permanently
// or succeed are never rerun. A cancelled ctx stops further passes from
// starting; keys still Retryable at that point keep their last outcome.
func Passes[K comparable, T any](ctx context.Context, p Policy, keys []K, fn PassFunc[K, T]) map[K]PassResult[T] {
	results := make(map[K]PassResult[T], len(keys))
	maxPasses := max(p.MaxAttempts, 1)
	delays := p.Delays()

	pending := keys
	for pass := 0; pass < maxPasses && len(pending) > 0; pass++ {
		if pass > 0 {
			delay := delays[pass-1]
			logger.InfoCtx(ctx, "Starting retry pass",
				logger.KeyPass, pass,
				logger.KeyFiles, len(pending),
				logger.KeyDelay, delay)
			if err := p.sleep(ctx, delay); err != nil {
				break
			}
		}

		outcomes := fn(ctx, pass, pending)

		var next []K
		for _, k := range pending {
			prev := results[k]
			o, ok := outcomes[k]
			if !ok {
				// Not run (e.g. cancelled before submission); keep what we had.
				continue
			}
			r := PassResult[T]{Outcome: o, Retries: pass, ExhaustedAttempts: prev.ExhaustedAttempts}
			if o.Kind == Retryable {
				r.ExhaustedAttempts += o.Attempts
				next = append(next, k)
			}
			results[k] = r
		}
		pending = next

		if ctx.Err() != nil {
			break
		}
	}
	return results
}
