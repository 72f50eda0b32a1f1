// Package upload orchestrates batch uploads of local files into a dataset.
//
// A batch expands its input paths into an ordered list of files, takes one
// listing snapshot of the destination, decides per file whether it is
// already present, and transfers the rest through a bounded worker pool.
// Each file follows a small lifecycle:
//
//	Pending -> Resolving -> Skipped
//	                     -> NeedsUpload -> Reserving -> Transferring
//	                                    -> Committing -> Verifying -> Uploaded
//
// Any non-terminal state can move to Failed. Files that fail for a
// retryable reason are run again in later batch passes.
package upload

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dvuploader/internal/logger"
	"github.com/marmos91/dvuploader/internal/telemetry"
	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/lockwait"
	"github.com/marmos91/dvuploader/pkg/pool"
	"github.com/marmos91/dvuploader/pkg/repository"
	"github.com/marmos91/dvuploader/pkg/resolver"
	"github.com/marmos91/dvuploader/pkg/resource"
	"github.com/marmos91/dvuploader/pkg/retry"
)

// Engine runs batches against one dataset. An Engine may run several
// batches in sequence; each batch gets fresh counters and a fresh lock-wait
// budget.
type Engine struct {
	repo      Repository
	checksums *checksum.Engine
	metrics   Metrics
	sleep     retry.SleepFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithChecksums sets the digest engine, e.g. one backed by a persistent
// cache. The default computes digests without persistence.
func WithChecksums(c *checksum.Engine) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.checksums = c
		}
	}
}

// WithMetrics sets the metrics sink. nil disables collection.
func WithMetrics(m Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSleep replaces every backoff and lock-poll wait; used by tests.
func WithSleep(fn retry.SleepFunc) EngineOption {
	return func(e *Engine) { e.sleep = fn }
}

// NewEngine creates an Engine for repo.
func NewEngine(repo Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:      repo,
		checksums: checksum.NewEngine(nil),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessBatch uploads paths into destination. Per-file problems are
// reported in the Result; the returned error is reserved for invalid options
// and for failures to reach the repository at all.
//
// Cancelling ctx stops new files from starting. Files already transferring
// run to a terminal state and the partial Result is returned.
func (e *Engine) ProcessBatch(ctx context.Context, paths []string, destination string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &ConfigurationError{Field: "paths", Message: "at least one path is required"}
	}
	if e.sleep != nil {
		opts.Transient.Sleep = e.sleep
		opts.Passes.Sleep = e.sleep
	}

	b := &batch{
		engine:   e,
		paths:    paths,
		opts:     opts,
		counters: &Counters{},
		result: &Result{
			BatchID:     uuid.NewString(),
			DatasetPID:  e.repo.DatasetPID(),
			Destination: resolver.JoinPath(destination),
			Started:     time.Now(),
		},
	}

	ctx, span := telemetry.StartBatchSpan(ctx, b.result.BatchID, b.result.DatasetPID,
		telemetry.Destination(b.result.Destination))
	lc := logger.NewLogContext(b.result.BatchID).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	err := b.run(ctx)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return b.result, nil
}

// batch holds the state of one ProcessBatch call.
type batch struct {
	engine   *Engine
	paths    []string
	opts     Options
	counters *Counters
	result   *Result

	snapshot *resolver.Snapshot

	// outcomes is indexed by resource order; access errors follow.
	outcomes []*FileOutcome
}

func (b *batch) run(ctx context.Context) error {
	e := b.engine

	exp := resource.Expand(b.paths, resource.Options{
		Recurse: b.opts.Recurse,
		Skip:    b.opts.Skip,
		Limit:   b.opts.Limit,
	})
	b.outcomes = make([]*FileOutcome, len(exp.Resources), len(exp.Resources)+len(exp.Errors))

	logger.InfoCtx(ctx, "Starting batch",
		logger.KeyDestination, b.result.Destination,
		logger.KeyFiles, len(exp.Resources))

	if err := b.prepare(ctx); err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithMode(b.result.Mode.String()))
	telemetry.SetAttributes(ctx, telemetry.Mode(b.result.Mode.String()), telemetry.Files(len(exp.Resources)))

	for _, ae := range exp.Errors {
		logger.WarnCtx(ctx, "Skipping unreadable path",
			logger.KeyPath, ae.Path,
			logger.KeyError, ae.Err)
		b.finish(ctx, &FileOutcome{
			Path:      ae.Path,
			LocalPath: ae.Path,
			Status:    StatusFailed,
			Reason:    ReasonResourceAccess,
			Error:     ae.Error(),
		}, -1)
	}

	tasks := b.resolve(ctx, exp.Resources)
	if len(tasks) > 0 && !b.opts.ListOnly {
		b.transfer(ctx, tasks)
	}

	b.result.Outcomes = make([]FileOutcome, 0, len(b.outcomes))
	for _, o := range b.outcomes {
		if o != nil {
			b.result.Outcomes = append(b.result.Outcomes, *o)
		}
	}
	b.result.Counters = b.counters.Snapshot()
	b.result.Finished = time.Now()
	b.result.Cancelled = ctx.Err() != nil
	e.metrics.ObserveBatch(b.result.Mode, b.result.Duration())

	c := b.result.Counters
	logger.InfoCtx(ctx, "Batch finished",
		"uploaded", c.UploadedFiles,
		"skipped", c.SkippedFiles,
		"failed", c.FailedFiles,
		"uploaded_bytes", c.UploadedBytes,
		logger.KeyDurationMs, float64(b.result.Duration().Microseconds())/1000.0)
	return nil
}

// prepare fetches the listing snapshot and, when direct upload is requested,
// the storage capability. Both use the transient retry policy.
func (b *batch) prepare(ctx context.Context) error {
	e := b.engine
	b.snapshot = resolver.NewSnapshot(nil)
	b.result.Mode = ModeProxied

	g, gctx := errgroup.WithContext(ctx)
	if !b.opts.ForceNew {
		g.Go(func() error {
			out := retry.DoErr(gctx, b.opts.Transient, "list", e.repo.ListFiles)
			if !out.OK() {
				return fmt.Errorf("fetch dataset listing: %w", out.Err)
			}
			b.snapshot = resolver.NewSnapshot(entriesOf(out.Value))
			logger.DebugCtx(gctx, "Fetched dataset listing", logger.KeyCount, b.snapshot.Len())
			return nil
		})
	}

	var storage *repository.StorageDriver
	if b.opts.DirectUpload && !b.opts.ListOnly {
		g.Go(func() error {
			out := retry.DoErr(gctx, b.opts.Transient, "storage-driver", e.repo.StorageDriver)
			if !out.OK() {
				if repository.IsAuthError(out.Err) {
					return fmt.Errorf("query storage driver: %w", out.Err)
				}
				logger.WarnCtx(gctx, "Could not query storage driver, using proxied uploads",
					logger.KeyError, out.Err)
				return nil
			}
			storage = out.Value
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if storage != nil {
		if storage.DirectUpload {
			b.result.Mode = ModeDirect
		} else {
			logger.WarnCtx(ctx, "Storage does not accept direct uploads, using proxied uploads",
				"driver", storage.Name)
		}
	}
	return nil
}

// resolve classifies every resource in order and returns the tasks that
// need uploading. Skipped and unresolvable files are finished here.
func (b *batch) resolve(ctx context.Context, resources []*resource.Resource) []*task {
	var tasks []*task
	for i, res := range resources {
		t := &task{index: i, res: res, dir: resolver.JoinPath(b.result.Destination, res.Dir())}
		if ctx.Err() != nil {
			b.notStarted(ctx, t)
			continue
		}
		t.state = StateResolving

		if b.opts.ForceNew {
			t.state = StateNeedsUpload
			tasks = append(tasks, t)
			continue
		}

		decision, err := resolver.Resolve(b.snapshot,
			resolver.Local{Dir: t.dir, Name: res.Name(), Size: res.Size},
			b.opts.VerifyChecksums,
			func(algs ...checksum.Algorithm) (map[checksum.Algorithm]string, error) {
				return b.engine.checksums.Digests(ctx, res, algs...)
			})
		if err != nil {
			t.state = StateFailed
			o := t.outcome(StatusFailed, ReasonOf(err))
			o.Error = err.Error()
			b.finish(ctx, o, i)
			continue
		}

		if decision.Skip() {
			t.state = StateSkipped
			o := t.outcome(StatusSkipped, reasonOfRule(decision.Rule))
			o.Match = decision.Match.Path()
			b.finish(ctx, o, i)
			continue
		}

		t.state = StateNeedsUpload
		if b.opts.ListOnly {
			b.finish(ctx, t.outcome(StatusSkipped, ReasonListOnly), i)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// transfer runs tasks through the pool, re-running retryable failures in
// later passes.
func (b *batch) transfer(ctx context.Context, tasks []*task) {
	e := b.engine

	locks := lockwait.New(e.repo, b.opts.MaxWaitLock, b.opts.LockPollInterval).WithPolicy(b.opts.Transient)
	if e.sleep != nil {
		locks.WithSleep(e.sleep)
	}
	locks.OnWait = e.metrics.ObserveLockWait

	d := &driver{
		repo:      e.repo,
		checksums: e.checksums,
		locks:     locks,
		metrics:   e.metrics,
		opts:      b.opts,
		mode:      b.result.Mode,
		stop:      ctx,
	}

	var inFlight atomic.Int64
	p := pool.New(b.opts.HTTPConcurrency)
	p.OnStart = func() { e.metrics.SetInFlight(int(inFlight.Add(1))) }
	p.OnFinish = func() { e.metrics.SetInFlight(int(inFlight.Add(-1))) }

	results := retry.Passes(ctx, b.opts.Passes, tasks, func(ctx context.Context, pass int, pending []*task) map[*task]fileResult {
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithPass(pass))
		out := make(map[*task]fileResult, len(pending))

		pool.Run(ctx, p, pending, func(ctx context.Context, t *task) fileResult {
			t.pass = pass
			if pass > 0 {
				e.metrics.ObserveRetry("pass")
			}
			return d.run(ctx, t)
		}, pool.Handlers[*task, fileResult]{
			Done: func(t *task, o fileResult) {
				out[t] = o
				if o.Kind == retry.Retryable {
					t.exhausted += o.Attempts
					if willRetry(b.opts.Passes, pass) {
						logger.WarnCtx(ctx, "File failed, will retry",
							logger.KeyPath, t.res.RelPath,
							logger.KeyAttempt, max(o.Attempts, 1),
							logger.KeyError, o.Err)
					}
					return
				}
				b.finish(ctx, b.fileOutcome(t, o), t.index)
			},
		})
		return out
	})

	// Whatever has no terminal outcome yet either exhausted its passes or
	// never ran because the batch was cancelled.
	for _, t := range tasks {
		if b.outcomes[t.index] != nil {
			continue
		}
		r, ran := results[t]
		if !ran {
			b.notStarted(ctx, t)
			continue
		}
		o := b.fileOutcome(t, r.Outcome)
		o.BatchRetries = r.Retries
		o.ExhaustedAttempts = r.ExhaustedAttempts
		b.finish(ctx, o, t.index)
	}
}

// willRetry reports whether a retryable failure in pass gets another pass.
func willRetry(p retry.Policy, pass int) bool {
	return pass < max(p.MaxAttempts, 1)-1
}

// notStarted finishes t as cancelled: the batch stopped before any work on
// it began.
func (b *batch) notStarted(ctx context.Context, t *task) {
	o := t.outcome(StatusFailed, ReasonCancelled)
	o.Error = fmt.Sprintf("not started: %v", context.Cause(ctx))
	b.finish(ctx, o, t.index)
}

// fileOutcome converts a driver result into a terminal FileOutcome.
func (b *batch) fileOutcome(t *task, o fileResult) *FileOutcome {
	out := &FileOutcome{
		Path:              t.res.RelPath,
		LocalPath:         t.res.LocalPath,
		Destination:       t.destination(),
		MimeType:          t.mimeType,
		StorageIdentifier: t.storageID,
		BatchRetries:      t.pass,
		ExhaustedAttempts: t.exhausted,
	}
	if t.digest.Value != "" {
		out.Checksum = t.digest.String()
	}

	if o.OK() {
		out.Status = StatusUploaded
		out.Bytes = t.res.Size
		if entry := o.Value; entry != nil && entry.DataFile.StorageIdentifier != "" {
			out.StorageIdentifier = entry.DataFile.StorageIdentifier
		}
		return out
	}
	out.Status = StatusFailed
	out.Reason = ReasonOf(o.Err)
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return out
}

// finish records a terminal outcome. It is the only place counters change.
// index is the resource position, or -1 for paths that never expanded.
func (b *batch) finish(ctx context.Context, o *FileOutcome, index int) {
	if index >= 0 {
		b.outcomes[index] = o
	} else {
		b.outcomes = append(b.outcomes, o)
	}
	b.counters.Record(*o)
	b.engine.metrics.ObserveFile(o.Status, o.Reason, o.Bytes)

	args := []any{
		logger.KeyPath, o.Path,
		logger.KeyOutcome, string(o.Status),
	}
	if o.Reason != ReasonNone {
		args = append(args, logger.KeyReason, string(o.Reason))
	}
	switch o.Status {
	case StatusUploaded:
		args = append(args, logger.KeySize, o.Bytes)
		logger.InfoCtx(ctx, "File uploaded", args...)
	case StatusSkipped:
		if o.Match != "" {
			args = append(args, "match", o.Match)
		}
		logger.InfoCtx(ctx, "File skipped", args...)
	default:
		args = append(args, logger.KeyError, o.Error)
		logger.ErrorCtx(ctx, "File failed", args...)
	}
}

func (t *task) outcome(status Status, reason Reason) *FileOutcome {
	return &FileOutcome{
		Path:        t.res.RelPath,
		LocalPath:   t.res.LocalPath,
		Destination: t.destination(),
		Status:      status,
		Reason:      reason,
	}
}

func reasonOfRule(r resolver.Rule) Reason {
	switch r {
	case resolver.RuleExactName:
		return ReasonExactName
	case resolver.RuleConvertedExtension:
		return ReasonConvertedExt
	case resolver.RuleContentHash:
		return ReasonContentHash
	default:
		return ReasonNone
	}
}

// entriesOf converts a dataset listing into resolver entries.
func entriesOf(files []repository.FileEntry) []resolver.Entry {
	entries := make([]resolver.Entry, 0, len(files))
	for i := range files {
		f := &files[i]
		e := resolver.Entry{
			StoredName:           f.Label,
			DirectoryLabel:       f.DirectoryLabel,
			ConvertedExtensionOf: f.ConvertedExtensionOf(),
			Size:                 f.DataFile.FileSize,
		}
		if alg, err := checksum.ParseAlgorithm(f.DataFile.Checksum.Type); err == nil && f.DataFile.Checksum.Value != "" {
			e.ContentHash = checksum.Digest{Algorithm: alg, Value: f.DataFile.Checksum.Value}
		}
		entries = append(entries, e)
	}
	return entries
}
