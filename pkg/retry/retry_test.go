package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep returns a SleepFunc that records delays instead of waiting.
func recordSleep(delays *[]time.Duration) SleepFunc {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}

type statusErr struct{ transient bool }

func (e statusErr) Error() string   { return fmt.Sprintf("status transient=%v", e.transient) }
func (e statusErr) Transient() bool { return e.transient }

func TestPolicyDelays(t *testing.T) {
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, TransientPolicy().Delays())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, PassPolicy().Delays())

	p := Policy{MaxAttempts: 5, InitialDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 8 * time.Second}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}, p.Delays())

	assert.Empty(t, Policy{MaxAttempts: 1}.Delays())
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("SucceedsAfterTransientFailures", func(t *testing.T) {
		var slept []time.Duration
		p := TransientPolicy()
		p.Sleep = recordSleep(&slept)

		o := Do(ctx, p, "reserve", func(_ context.Context, attempt int) Outcome[string] {
			if attempt < 3 {
				return Retry[string](statusErr{transient: true})
			}
			return Ok("handle")
		})
		require.True(t, o.OK())
		assert.Equal(t, "handle", o.Value)
		assert.Equal(t, 3, o.Attempts)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept)
	})

	t.Run("ExhaustedSurfacesTransientNetworkError", func(t *testing.T) {
		var slept []time.Duration
		p := TransientPolicy()
		p.Sleep = recordSleep(&slept)
		cause := statusErr{transient: true}

		o := Do(ctx, p, "transfer", func(context.Context, int) Outcome[int] {
			return Retry[int](cause)
		})
		assert.Equal(t, Retryable, o.Kind)
		assert.Equal(t, 3, o.Attempts)

		te, ok := AsTransient(o.Err)
		require.True(t, ok)
		assert.Equal(t, "transfer", te.Op)
		assert.Equal(t, 3, te.Attempts)
		assert.ErrorIs(t, o.Err, cause)
		assert.Len(t, slept, 2)
	})

	t.Run("PermanentStopsImmediately", func(t *testing.T) {
		calls := 0
		o := Do(ctx, TransientPolicy(), "commit", func(context.Context, int) Outcome[int] {
			calls++
			return Fail[int](errors.New("forbidden"))
		})
		assert.Equal(t, Permanent, o.Kind)
		assert.Equal(t, 1, calls)
	})

	t.Run("CancelledDuringBackoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		p := TransientPolicy()
		p.Sleep = func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
		o := Do(cctx, p, "list", func(context.Context, int) Outcome[int] {
			return Retry[int](errors.New("timeout"))
		})
		assert.Equal(t, Permanent, o.Kind)
		assert.ErrorIs(t, o.Err, context.Canceled)
	})

	t.Run("DoErrClassifies", func(t *testing.T) {
		var slept []time.Duration
		p := TransientPolicy()
		p.Sleep = recordSleep(&slept)
		calls := 0
		o := DoErr(ctx, p, "list", func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, syscall.ECONNRESET
			}
			return 7, nil
		})
		require.True(t, o.OK())
		assert.Equal(t, 7, o.Value)
		assert.Equal(t, 2, o.Attempts)
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"Nil", nil, Success},
		{"Canceled", context.Canceled, Permanent},
		{"Deadline", context.DeadlineExceeded, Retryable},
		{"TransientStatus", fmt.Errorf("wrap: %w", statusErr{transient: true}), Retryable},
		{"PermanentStatus", statusErr{transient: false}, Permanent},
		{"NetTimeout", timeoutErr{}, Retryable},
		{"ConnReset", fmt.Errorf("read: %w", syscall.ECONNRESET), Retryable},
		{"UnexpectedEOF", io.ErrUnexpectedEOF, Retryable},
		{"MessageMatch", errors.New("write: broken pipe"), Retryable},
		{"Other", errors.New("invalid destination"), Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestOutcomeHelpers(t *testing.T) {
	o := Map(Ok(2), func(v int) string { return fmt.Sprint(v * 2) })
	assert.Equal(t, "4", o.Value)

	f := Map(Fail[int](errors.New("x")), func(v int) string { return "never" })
	assert.Equal(t, Permanent, f.Kind)
	assert.Empty(t, f.Value)

	v, err := From(5, nil).Get()
	assert.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, Retryable, From(0, syscall.ECONNREFUSED).Kind)
	assert.Equal(t, "retryable", Retryable.String())
}

func TestPasses(t *testing.T) {
	ctx := context.Background()

	t.Run("RerunsOnlyRetryable", func(t *testing.T) {
		var slept []time.Duration
		p := PassPolicy()
		p.Sleep = recordSleep(&slept)

		var seen [][]string
		res := Passes(ctx, p, []string{"ok", "flaky", "broken", "corrupt"},
			func(_ context.Context, pass int, keys []string) map[string]Outcome[int] {
				seen = append(seen, keys)
				out := map[string]Outcome[int]{}
				for _, k := range keys {
					switch {
					case k == "ok":
						out[k] = Ok(1)
					case k == "flaky" && pass == 1:
						out[k] = Ok(2)
					case k == "corrupt":
						out[k] = Fail[int](errors.New("checksum mismatch"))
					default:
						o := Retry[int](errors.New("503"))
						o.Attempts = 3
						out[k] = o
					}
				}
				return out
			})

		assert.Equal(t, [][]string{
			{"ok", "flaky", "broken", "corrupt"},
			{"flaky", "broken"},
			{"broken"},
			{"broken"},
		}, seen)
		assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, slept)

		assert.True(t, res["ok"].OK())
		assert.Zero(t, res["ok"].Retries)

		assert.True(t, res["flaky"].OK())
		assert.Equal(t, 1, res["flaky"].Retries)
		assert.Equal(t, 3, res["flaky"].ExhaustedAttempts)

		assert.Equal(t, Retryable, res["broken"].Kind)
		assert.Equal(t, 3, res["broken"].Retries)
		assert.Equal(t, 12, res["broken"].ExhaustedAttempts)

		assert.Equal(t, Permanent, res["corrupt"].Kind)
		assert.Zero(t, res["corrupt"].Retries)
	})

	t.Run("CancellationStopsNewPasses", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		p := PassPolicy()
		p.Sleep = recordSleep(new([]time.Duration))
		passes := 0
		res := Passes(cctx, p, []string{"a"}, func(_ context.Context, _ int, keys []string) map[string]Outcome[int] {
			passes++
			cancel()
			return map[string]Outcome[int]{"a": Retry[int](errors.New("503"))}
		})
		assert.Equal(t, 1, passes)
		assert.Equal(t, Retryable, res["a"].Kind)
	})
}
