package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/marmos91/dvuploader/internal/logger"
	"github.com/marmos91/dvuploader/internal/telemetry"
	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/lockwait"
	"github.com/marmos91/dvuploader/pkg/repository"
	"github.com/marmos91/dvuploader/pkg/resolver"
	"github.com/marmos91/dvuploader/pkg/resource"
	"github.com/marmos91/dvuploader/pkg/retry"
)

// Repository is the subset of the repository client the engine drives.
// *repository.Client satisfies it.
type Repository interface {
	DatasetPID() string
	ListFiles(ctx context.Context) ([]repository.FileEntry, error)
	Locks(ctx context.Context) ([]string, error)
	StorageDriver(ctx context.Context) (*repository.StorageDriver, error)
	AddFile(ctx context.Context, meta repository.FileMeta, content io.Reader) (*repository.FileEntry, error)
	RequestUploadURLs(ctx context.Context, size int64) (*repository.UploadTicket, error)
	PutObject(ctx context.Context, target string, body io.Reader, size int64, tagTemp bool) (string, error)
	CompleteMultipart(ctx context.Context, completeURL string, etags map[int]string) error
	AbortMultipart(ctx context.Context, abortURL string) error
	RegisterFile(ctx context.Context, meta repository.FileMeta) (*repository.FileEntry, error)
}

var _ Repository = (*repository.Client)(nil)

// abortTimeout bounds the best-effort cleanup of an abandoned multipart upload.
const abortTimeout = 30 * time.Second

// task is one file that needs uploading. A task is owned by a single worker
// at a time, so its fields need no locking.
type task struct {
	index int
	res   *resource.Resource
	dir   string
	state State

	mimeType  string
	storageID string
	digest    checksum.Digest

	// pass is the batch pass the task last ran in; exhausted accumulates
	// attempts from passes that ended retryable.
	pass      int
	exhausted int
}

func (t *task) destination() string {
	return resolver.JoinPath(t.dir, t.res.Name())
}

// driver moves a task through Reserving, Transferring, Committing and
// Verifying for the batch's mode.
type driver struct {
	repo      Repository
	checksums *checksum.Engine
	locks     *lockwait.Coordinator
	metrics   Metrics
	opts      Options
	mode      Mode

	// stop is the batch context. Lock waits end when it is done, since no
	// transfer has started yet at that point.
	stop context.Context
}

type fileResult = retry.Outcome[*repository.FileEntry]

// run executes one pass over t and returns its outcome. ctx is expected to be
// detached from batch cancellation.
func (d *driver) run(ctx context.Context, t *task) (out fileResult) {
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithPath(t.res.RelPath))
	ctx, span := telemetry.StartFileSpan(ctx, t.res.RelPath, t.res.Size,
		telemetry.Mode(d.mode.String()), telemetry.Pass(t.pass))
	defer func() {
		if !out.OK() {
			_ = d.moveTo(ctx, t, StateFailed)
		}
		telemetry.SetAttributes(ctx, telemetry.State(t.state.String()))
		telemetry.EndSpan(span, out.Err)
	}()

	if t.state == StateFailed {
		if err := d.moveTo(ctx, t, StateNeedsUpload); err != nil {
			return retry.Fail[*repository.FileEntry](err)
		}
	}
	if t.mimeType == "" {
		t.mimeType = detectMIME(ctx, t.res)
	}

	if d.mode == ModeDirect {
		out = d.runDirect(ctx, t)
	} else {
		out = d.runProxied(ctx, t)
	}
	if !out.OK() {
		return out
	}
	return d.verify(ctx, t, out)
}

// waitUnlocked blocks until the dataset is unlocked. ctx is detached from the
// batch, so the wait also watches d.stop.
func (d *driver) waitUnlocked(ctx context.Context) error {
	if d.stop == nil {
		return d.locks.Wait(ctx)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	release := context.AfterFunc(d.stop, func() { cancel(context.Cause(d.stop)) })
	defer release()
	return d.locks.Wait(ctx)
}

// moveTo applies a lifecycle transition.
func (d *driver) moveTo(ctx context.Context, t *task, to State) error {
	if !CanTransition(t.state, to) {
		return &TransitionError{Path: t.res.RelPath, From: t.state, To: to}
	}
	logger.DebugCtx(ctx, "File state changed",
		logger.KeyState, to.String(),
		"from", t.state.String())
	t.state = to
	return nil
}

// steps applies consecutive transitions, stopping at the first illegal one.
func (d *driver) steps(ctx context.Context, t *task, states ...State) error {
	for _, s := range states {
		if err := d.moveTo(ctx, t, s); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) runProxied(ctx context.Context, t *task) fileResult {
	// The add endpoint reserves, transfers and commits in one call.
	if err := d.steps(ctx, t, StateReserving, StateTransferring); err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}
	if err := d.waitUnlocked(ctx); err != nil {
		return retry.From[*repository.FileEntry](nil, err)
	}

	meta := d.fileMeta(t)
	out := doOp(ctx, d, "add", func(ctx context.Context) (*repository.FileEntry, error) {
		f, err := t.res.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return d.repo.AddFile(ctx, meta, f)
	})
	if !out.OK() {
		return out
	}
	if err := d.moveTo(ctx, t, StateCommitting); err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}
	return out
}

func (d *driver) runDirect(ctx context.Context, t *task) fileResult {
	if err := d.moveTo(ctx, t, StateReserving); err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}
	ticketOut := doOp(ctx, d, "reserve", func(ctx context.Context) (*repository.UploadTicket, error) {
		return d.repo.RequestUploadURLs(ctx, t.res.Size)
	})
	if !ticketOut.OK() {
		return failAs[*repository.FileEntry](ticketOut)
	}
	ticket := ticketOut.Value
	t.storageID = ticket.StorageIdentifier
	telemetry.SetAttributes(ctx, telemetry.StorageID(t.storageID))

	if err := d.moveTo(ctx, t, StateTransferring); err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}
	var transferred retry.Outcome[struct{}]
	if ticket.Multipart() {
		transferred = d.putMultipart(ctx, t, ticket)
	} else {
		transferred = d.putSingle(ctx, t, ticket)
	}
	if !transferred.OK() {
		return failAs[*repository.FileEntry](transferred)
	}

	if err := d.moveTo(ctx, t, StateCommitting); err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}
	digest, err := d.checksums.Digest(ctx, t.res, d.opts.FixityAlgorithm)
	if err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}
	t.digest = digest
	if err := d.waitUnlocked(ctx); err != nil {
		return retry.From[*repository.FileEntry](nil, err)
	}

	meta := d.fileMeta(t)
	meta.StorageIdentifier = t.storageID
	meta.Checksum = &repository.ChecksumMeta{Type: digest.Algorithm.String(), Value: digest.Value}
	return doOp(ctx, d, "register", func(ctx context.Context) (*repository.FileEntry, error) {
		return d.repo.RegisterFile(ctx, meta)
	})
}

func (d *driver) putSingle(ctx context.Context, t *task, ticket *repository.UploadTicket) retry.Outcome[struct{}] {
	out := doOp(ctx, d, "put", func(ctx context.Context) (string, error) {
		f, err := t.res.Open()
		if err != nil {
			return "", err
		}
		defer f.Close()
		return d.repo.PutObject(ctx, ticket.URL, f, t.res.Size, true)
	})
	return retry.Map(out, func(string) struct{} { return struct{}{} })
}

// putMultipart sends each part with its own retry budget, so a failed part
// never causes acknowledged parts to be resent. An upload that cannot be
// completed is aborted.
func (d *driver) putMultipart(ctx context.Context, t *task, ticket *repository.UploadTicket) retry.Outcome[struct{}] {
	parts, err := partNumbers(ticket)
	if err != nil {
		d.abort(ctx, ticket)
		return retry.Fail[struct{}](err)
	}
	logger.DebugCtx(ctx, "Starting multipart upload",
		logger.KeyParts, len(parts),
		logger.KeyPartSize, ticket.PartSize)

	etags := make(map[int]string, len(parts))
	for _, n := range parts {
		off := int64(n-1) * ticket.PartSize
		length := min(ticket.PartSize, t.res.Size-off)
		target := ticket.URLs[strconv.Itoa(n)]

		out := doOp(ctx, d, "put-part", func(ctx context.Context) (string, error) {
			rc, err := t.res.OpenRange(off, length)
			if err != nil {
				return "", err
			}
			defer rc.Close()
			return d.repo.PutObject(ctx, target, rc, length, true)
		})
		if !out.OK() {
			logger.WarnCtx(ctx, "Multipart part failed",
				logger.KeyPart, n,
				logger.KeyError, out.Err)
			d.abort(ctx, ticket)
			return failAs[struct{}](out)
		}
		etags[n] = out.Value
	}

	out := doOp(ctx, d, "complete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.repo.CompleteMultipart(ctx, ticket.Complete, etags)
	})
	if !out.OK() {
		d.abort(ctx, ticket)
	}
	return out
}

// abort releases a multipart reservation. Failures are logged only.
func (d *driver) abort(ctx context.Context, ticket *repository.UploadTicket) {
	if ticket.Abort == "" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	if err := d.repo.AbortMultipart(actx, ticket.Abort); err != nil {
		logger.WarnCtx(ctx, "Failed to abort multipart upload",
			logger.KeyStorageID, ticket.StorageIdentifier,
			logger.KeyError, err)
	}
}

// verify compares the stored checksum with a local digest computed with the
// algorithm the repository reports.
func (d *driver) verify(ctx context.Context, t *task, out fileResult) fileResult {
	if err := d.moveTo(ctx, t, StateVerifying); err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}

	entry := out.Value
	if d.opts.VerifyChecksums && entry != nil {
		remote := entry.DataFile.Checksum
		alg, err := checksum.ParseAlgorithm(remote.Type)
		if err != nil || remote.Value == "" {
			logger.WarnCtx(ctx, "Repository reported no usable checksum, skipping verification",
				logger.KeyAlgorithm, remote.Type)
		} else {
			local, err := d.checksums.Digest(ctx, t.res, alg)
			if err != nil {
				return retry.Fail[*repository.FileEntry](err)
			}
			if err := checksum.Verify(t.res.RelPath, local, checksum.Digest{Algorithm: alg, Value: remote.Value}); err != nil {
				return retry.Outcome[*repository.FileEntry]{Kind: retry.Permanent, Err: err, Attempts: out.Attempts}
			}
			t.digest = local
		}
	}

	if err := d.moveTo(ctx, t, StateUploaded); err != nil {
		return retry.Fail[*repository.FileEntry](err)
	}
	return out
}

func (d *driver) fileMeta(t *task) repository.FileMeta {
	return repository.FileMeta{
		FileName:       t.res.Name(),
		DirectoryLabel: t.dir,
		MimeType:       t.mimeType,
		Description:    d.opts.Description,
	}
}

// doOp runs one network operation under the transient retry policy, each
// attempt bounded by the per-operation timeout.
func doOp[T any](ctx context.Context, d *driver, op string, fn func(ctx context.Context) (T, error)) retry.Outcome[T] {
	return retry.Do(ctx, d.opts.Transient, op, func(ctx context.Context, attempt int) retry.Outcome[T] {
		if attempt > 1 {
			d.metrics.ObserveRetry("operation")
		}
		actx, span := telemetry.StartOperationSpan(ctx, op, telemetry.Attempt(attempt))
		if d.opts.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(actx, d.opts.Timeout)
			defer cancel()
		}

		start := time.Now()
		v, err := fn(actx)
		d.metrics.ObserveOperation(op, time.Since(start), err)
		telemetry.EndSpan(span, err)

		if resource.IsAccessError(err) {
			return retry.Fail[T](err)
		}
		return retry.From(v, err)
	})
}

// failAs carries a failed outcome over to another value type.
func failAs[U, T any](o retry.Outcome[T]) retry.Outcome[U] {
	return retry.Outcome[U]{Kind: o.Kind, Err: o.Err, Attempts: o.Attempts}
}

func partNumbers(ticket *repository.UploadTicket) ([]int, error) {
	parts := make([]int, 0, len(ticket.URLs))
	for k := range ticket.URLs {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid part number %q in upload ticket", k)
		}
		parts = append(parts, n)
	}
	sort.Ints(parts)
	if ticket.PartSize <= 0 {
		return nil, errors.New("multipart upload ticket without part size")
	}
	return parts, nil
}
