// Package lockwait gates mutating repository calls on the dataset lock state.
package lockwait

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dvuploader/internal/logger"
	"github.com/marmos91/dvuploader/pkg/retry"
)

// LockChecker reports the locks currently held on the destination. An empty
// result means the destination is unlocked.
type LockChecker interface {
	Locks(ctx context.Context) ([]string, error)
}

// LockCheckerFunc adapts a function to LockChecker.
type LockCheckerFunc func(ctx context.Context) ([]string, error)

func (f LockCheckerFunc) Locks(ctx context.Context) ([]string, error) { return f(ctx) }

// LockTimeoutError reports that the shared wait budget ran out while the
// destination was still locked. The batch layer may retry the file later.
type LockTimeoutError struct {
	Locks  []string
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("destination still locked (%s) after waiting %s", strings.Join(e.Locks, ","), e.Waited)
}

// Transient marks lock timeouts as retryable at the batch level.
func (e *LockTimeoutError) Transient() bool { return true }

// Coordinator waits for the destination to unlock. All callers draw from one
// budget for the whole batch; it is never re-armed per file. Waiters are
// serialized, so concurrent workers do not multiply the stall or the polling
// load.
type Coordinator struct {
	checker  LockChecker
	interval time.Duration
	sleep    retry.SleepFunc
	now      func() time.Time

	// poll is the transient retry applied to each lock-status request.
	poll retry.Policy

	// OnWait is called with the time spent blocked by each Wait call.
	OnWait func(time.Duration)

	mu        sync.Mutex
	remaining time.Duration
	waited    time.Duration
}

// New creates a Coordinator with maxWait total budget, polling every interval.
func New(checker LockChecker, maxWait, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Coordinator{
		checker:   checker,
		interval:  interval,
		sleep:     retry.Sleep,
		now:       time.Now,
		poll:      retry.TransientPolicy(),
		remaining: maxWait,
	}
}

// WithPolicy sets the retry policy for lock-status requests.
func (c *Coordinator) WithPolicy(p retry.Policy) *Coordinator {
	if p.MaxAttempts > 0 {
		sleep := c.poll.Sleep
		c.poll = p
		if c.poll.Sleep == nil {
			c.poll.Sleep = sleep
		}
	}
	return c
}

// WithSleep replaces the wait function; used by tests.
func (c *Coordinator) WithSleep(fn retry.SleepFunc) *Coordinator {
	c.sleep = fn
	c.poll.Sleep = fn
	return c
}

// Wait returns once the destination is unlocked, ctx is done, or the shared
// budget is exhausted.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var blocked time.Duration
	defer func() {
		if blocked > 0 && c.OnWait != nil {
			c.OnWait(blocked)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		locks, err := retry.DoErr(ctx, c.poll, "locks", c.checker.Locks).Get()
		if err != nil {
			return fmt.Errorf("check dataset locks: %w", err)
		}
		if len(locks) == 0 {
			return nil
		}

		if c.remaining <= 0 {
			return &LockTimeoutError{Locks: locks, Waited: c.waited}
		}

		step := min(c.interval, c.remaining)
		logger.InfoCtx(ctx, "Destination locked, waiting",
			logger.KeyLockType, strings.Join(locks, ","),
			logger.KeyDelay, step,
			logger.KeyBudgetLeft, c.remaining)

		start := c.now()
		err = c.sleep(ctx, step)
		elapsed := c.now().Sub(start)
		if elapsed < step && err == nil {
			elapsed = step
		}
		c.remaining -= elapsed
		c.waited += elapsed
		blocked += elapsed
		if err != nil {
			return err
		}
	}
}

// Remaining returns the unused wait budget.
func (c *Coordinator) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return max(c.remaining, 0)
}

// Waited returns the total time spent waiting on locks.
func (c *Coordinator) Waited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waited
}
