package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy is a bounded exponential backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Sleep waits between attempts. Defaults to Sleep.
	Sleep SleepFunc
}

// TransientPolicy is the per-operation layer: 3 tries with 2s, 4s, 8s waits.
func TransientPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 8 * time.Second}
}

// PassPolicy is the batch layer: up to 3 extra passes with 5s, 10s, 20s waits.
func PassPolicy() Policy {
	return Policy{MaxAttempts: 4, InitialDelay: 5 * time.Second, Multiplier: 2, MaxDelay: 20 * time.Second}
}

// Delays returns the waits between consecutive attempts.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backoff()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			d = p.MaxDelay
		}
		out = append(out, d)
	}
	return out
}

func (p Policy) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = p.InitialDelay
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}
