// Package pool runs upload tasks with a fixed cap on concurrency.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool caps the number of tasks in flight. A Pool can be reused for several
// Run calls (one per retry pass); the cap applies to each call.
type Pool struct {
	size int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	// OnStart and OnFinish observe task boundaries, e.g. for an in-flight gauge.
	OnStart  func()
	OnFinish func()
}

// New creates a Pool running at most size tasks at once.
func New(size int) *Pool {
	return &Pool{size: max(size, 1)}
}

// Size returns the concurrency cap.
func (p *Pool) Size() int { return p.size }

// MaxInFlight returns the highest concurrency observed so far.
func (p *Pool) MaxInFlight() int { return int(p.maxInFlight.Load()) }

// Handlers receive task results. Calls to Done and NotRun are serialized, so
// they can update shared state without further locking.
type Handlers[I, R any] struct {
	// Done is called once per task that ran, in completion order.
	Done func(item I, result R)

	// NotRun is called for every item never started because ctx was
	// cancelled, with the cancellation cause.
	NotRun func(item I, err error)
}

// Run submits items in order and blocks until every started task finishes.
//
// Once ctx is cancelled no new task is started. Tasks already running get a
// context detached from ctx's cancellation so they can reach a terminal
// state rather than stop halfway through a transfer.
func Run[I, R any](ctx context.Context, p *Pool, items []I, task func(ctx context.Context, item I) R, h Handlers[I, R]) {
	sem := semaphore.NewWeighted(int64(p.size))
	taskCtx := context.WithoutCancel(ctx)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			for _, rest := range items[i:] {
				if h.NotRun != nil {
					h.NotRun(rest, context.Cause(ctx))
				}
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(item I) {
			defer wg.Done()
			defer sem.Release(1)

			p.start()
			result := task(taskCtx, item)
			p.finish()

			if h.Done != nil {
				mu.Lock()
				h.Done(item, result)
				mu.Unlock()
			}
		}(item)
	}

	wg.Wait()
}

func (p *Pool) start() {
	n := p.inFlight.Add(1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if p.OnStart != nil {
		p.OnStart()
	}
}

func (p *Pool) finish() {
	p.inFlight.Add(-1)
	if p.OnFinish != nil {
		p.OnFinish()
	}
}
