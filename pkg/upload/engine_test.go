package upload

import (
	"context"
	"crypto/md5" //nolint:gosec // matches the fake repository's fixity
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dvuploader/pkg/repository"
	"github.com/marmos91/dvuploader/pkg/repository/repotest"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestEngine(srv *repotest.Server) *Engine {
	return NewEngine(srv.Client(), WithSleep(noSleep))
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

func md5Hex(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := md5.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func outcomeFor(t *testing.T, res *Result, path string) FileOutcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.Path == path {
			return o
		}
	}
	t.Fatalf("no outcome for %s", path)
	return FileOutcome{}
}

func TestProcessBatchUploadsAndCounts(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, dir, "big.bin", 2097152)
	writeFile(t, dir, "small.bin", 10240)

	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{dir}, "", DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, ModeProxied, res.Mode)
	assert.Equal(t, 2, res.Counters.UploadedFiles)
	assert.Equal(t, 0, res.Counters.SkippedFiles)
	assert.Equal(t, 0, res.Counters.FailedFiles)
	assert.Equal(t, int64(2097152+10240), res.Counters.UploadedBytes)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "big.bin", res.Outcomes[0].Path)
	assert.Equal(t, "small.bin", res.Outcomes[1].Path)
	assert.NotEmpty(t, res.BatchID)
	assert.Len(t, srv.Files(), 2)
}

func TestProcessBatchVerifiedProxiedUpload(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", 10240)
	b := writeFile(t, dir, "b.csv", 2097152)

	opts := DefaultOptions()
	opts.VerifyChecksums = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{dir}, "", opts)
	require.NoError(t, err)

	assert.Equal(t, ModeProxied, res.Mode)
	assert.Equal(t, 2, res.Counters.UploadedFiles)
	assert.Equal(t, 0, res.Counters.FailedFiles)
	assert.Equal(t, int64(2097152+10240), res.Counters.UploadedBytes)

	for name, local := range map[string]string{"a.csv": a, "b.csv": b} {
		o := outcomeFor(t, res, name)
		assert.Equal(t, StatusUploaded, o.Status, name)
		assert.Equal(t, "MD5:"+md5Hex(t, local), o.Checksum, name)
	}
	assert.Equal(t, 2, srv.Requests("add"))
}

func TestProcessBatchDestinationAndSubdirectories(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, dir, "top.txt", 10)
	writeFile(t, dir, "sub/inner.txt", 10)

	opts := DefaultOptions()
	opts.Recurse = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{dir}, "/data/", opts)
	require.NoError(t, err)
	require.Equal(t, 2, res.Counters.UploadedFiles)

	assert.Equal(t, "data/sub/inner.txt", outcomeFor(t, res, "sub/inner.txt").Destination)
	assert.Equal(t, "data/top.txt", outcomeFor(t, res, "top.txt").Destination)

	labels := map[string]string{}
	for _, f := range srv.Files() {
		labels[f.Label] = f.DirectoryLabel
	}
	assert.Equal(t, map[string]string{"top.txt": "data", "inner.txt": "data/sub"}, labels)
}

func TestProcessBatchSkipsConvertedExtension(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.AddExisting(repository.FileEntry{
		Label: "a.tab",
		DataFile: repository.DataFile{
			FileSize:           99,
			OriginalFileFormat: "text/csv",
			Checksum:           repository.Checksum{Type: "MD5", Value: "0123"},
		},
	})

	dir := t.TempDir()
	writeFile(t, dir, "a.csv", 120)

	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{dir}, "", DefaultOptions())
	require.NoError(t, err)

	o := outcomeFor(t, res, "a.csv")
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, ReasonConvertedExt, o.Reason)
	assert.Equal(t, "a.tab", o.Match)
	assert.Equal(t, 0, srv.Requests("add"))
}

func TestProcessBatchSkipsExactNameInSameDirectoryOnly(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.AddExisting(repository.FileEntry{Label: "b.txt", DirectoryLabel: "data"})

	dir := t.TempDir()
	p := writeFile(t, dir, "b.txt", 10)

	engine := newTestEngine(srv)
	res, err := engine.ProcessBatch(context.Background(), []string{p}, "data", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, ReasonExactName, outcomeFor(t, res, "b.txt").Reason)

	res, err = engine.ProcessBatch(context.Background(), []string{p}, "other", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, outcomeFor(t, res, "b.txt").Status)
}

func TestProcessBatchContentHashRequiresVerify(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	p := writeFile(t, dir, "c.bin", 4096)
	srv.AddExisting(repository.FileEntry{
		Label:          "renamed.bin",
		DirectoryLabel: "elsewhere",
		DataFile: repository.DataFile{
			FileSize: 4096,
			Checksum: repository.Checksum{Type: "MD5", Value: md5Hex(t, p)},
		},
	})

	opts := DefaultOptions()
	opts.VerifyChecksums = true
	opts.ListOnly = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)
	o := outcomeFor(t, res, "c.bin")
	assert.Equal(t, ReasonContentHash, o.Reason)
	assert.Equal(t, "elsewhere/renamed.bin", o.Match)

	opts.VerifyChecksums = false
	res, err = newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)
	assert.Equal(t, ReasonListOnly, outcomeFor(t, res, "c.bin").Reason)
}

func TestProcessBatchHonorsConcurrencyCap(t *testing.T) {
	srv := repotest.New(repotest.Config{Latency: 50 * time.Millisecond})
	defer srv.Close()

	dir := t.TempDir()
	for _, name := range []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt", "6.txt"} {
		writeFile(t, dir, name, 100)
	}

	opts := DefaultOptions()
	opts.HTTPConcurrency = 2
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{dir}, "", opts)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Counters.UploadedFiles)
	assert.LessOrEqual(t, srv.PeakInFlight(), 2)
	assert.GreaterOrEqual(t, srv.PeakInFlight(), 1)
}

func TestProcessBatchRetriesAcrossPasses(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.FailNext("add", "a.txt", 3)

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 64)

	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", DefaultOptions())
	require.NoError(t, err)

	o := outcomeFor(t, res, "a.txt")
	assert.Equal(t, StatusUploaded, o.Status)
	assert.Equal(t, 1, o.BatchRetries)
	assert.Equal(t, 3, o.ExhaustedAttempts)
	assert.Equal(t, 4, srv.Requests("add"))
	assert.Equal(t, 1, res.Counters.UploadedFiles)
	assert.Equal(t, 0, res.Counters.FailedFiles)
}

func TestProcessBatchGivesUpAfterAllPasses(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.FailNext("add", "a.txt", 100)

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 64)

	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", DefaultOptions())
	require.NoError(t, err)

	o := outcomeFor(t, res, "a.txt")
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ReasonTransientNetwork, o.Reason)
	assert.Equal(t, 3, o.BatchRetries)
	assert.Equal(t, 12, o.ExhaustedAttempts)
	assert.Equal(t, 12, srv.Requests("add"))
	assert.Equal(t, 1, res.Counters.FailedFiles)
}

func TestProcessBatchIsIdempotent(t *testing.T) {
	srv := repotest.New(repotest.Config{ConvertTabular: true})
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, dir, "a.csv", 300)
	writeFile(t, dir, "b.bin", 300)

	engine := newTestEngine(srv)
	first, err := engine.ProcessBatch(context.Background(), []string{dir}, "", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 2, first.Counters.UploadedFiles)

	second, err := engine.ProcessBatch(context.Background(), []string{dir}, "", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Counters.UploadedFiles)
	assert.Equal(t, 2, second.Counters.SkippedFiles)
	assert.Equal(t, ReasonConvertedExt, outcomeFor(t, second, "a.csv").Reason)
	assert.Equal(t, ReasonExactName, outcomeFor(t, second, "b.bin").Reason)
	assert.Equal(t, 2, srv.Requests("add"))
}

func TestProcessBatchDetectsTruncatedTransfer(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.Truncate("a.txt")

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 1000)

	opts := DefaultOptions()
	opts.VerifyChecksums = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)

	o := outcomeFor(t, res, "a.txt")
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ReasonChecksumMismatch, o.Reason)
	assert.Equal(t, 0, o.BatchRetries)
	assert.Equal(t, 1, srv.Requests("add"))
}

func TestProcessBatchDirectMultipart(t *testing.T) {
	const partSize = 1 << 20
	srv := repotest.New(repotest.Config{DirectUpload: true, PartSize: partSize})
	defer srv.Close()
	srv.FailNext("put", "*", 1)

	dir := t.TempDir()
	p := writeFile(t, dir, "large.bin", 2*partSize+512)

	opts := DefaultOptions()
	opts.DirectUpload = true
	opts.VerifyChecksums = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)

	assert.Equal(t, ModeDirect, res.Mode)
	o := outcomeFor(t, res, "large.bin")
	require.Equal(t, StatusUploaded, o.Status, o.Error)
	assert.Equal(t, 0, o.BatchRetries)
	assert.NotEmpty(t, o.StorageIdentifier)
	assert.Equal(t, "MD5:"+md5Hex(t, p), o.Checksum)

	assert.Equal(t, 1, srv.Requests("reserve"))
	assert.Equal(t, 4, srv.Requests("put"))
	assert.Equal(t, 1, srv.Requests("complete"))
	assert.Equal(t, 0, srv.PendingUploads())

	files := srv.Files()
	require.Len(t, files, 1)
	assert.Equal(t, int64(2*partSize+512), files[0].DataFile.FileSize)
}

func TestProcessBatchDirectSinglePart(t *testing.T) {
	srv := repotest.New(repotest.Config{DirectUpload: true})
	defer srv.Close()

	dir := t.TempDir()
	p := writeFile(t, dir, "one.bin", 4096)

	opts := DefaultOptions()
	opts.DirectUpload = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)

	assert.Equal(t, ModeDirect, res.Mode)
	assert.Equal(t, StatusUploaded, outcomeFor(t, res, "one.bin").Status)
	assert.Equal(t, 1, srv.Requests("put"))
	assert.Equal(t, 0, srv.Requests("complete"))
}

func TestProcessBatchFallsBackToProxied(t *testing.T) {
	srv := repotest.New(repotest.Config{DirectUpload: false})
	defer srv.Close()

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 10)

	opts := DefaultOptions()
	opts.DirectUpload = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)

	assert.Equal(t, ModeProxied, res.Mode)
	assert.Equal(t, 1, res.Counters.UploadedFiles)
	assert.Equal(t, 0, srv.Requests("reserve"))
}

func TestProcessBatchLockTimeout(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.SetLocks("Ingest")

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 10)

	opts := DefaultOptions()
	opts.MaxWaitLock = 4 * time.Second
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)

	o := outcomeFor(t, res, "a.txt")
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ReasonLockTimeout, o.Reason)
	assert.Equal(t, 3, o.BatchRetries)
	assert.Equal(t, 0, srv.Requests("add"))
}

func TestProcessBatchCancelStopsLockWait(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.SetLocks("Ingest")

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 10)

	opts := DefaultOptions()
	opts.MaxWaitLock = 3 * time.Second
	opts.LockPollInterval = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	res, err := NewEngine(srv.Client()).ProcessBatch(ctx, []string{p}, "", opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, res.Cancelled)
	o := outcomeFor(t, res, "a.txt")
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ReasonCancelled, o.Reason)
	assert.Equal(t, 0, srv.Requests("add"))
}

func TestProcessBatchRetriesLockCheck(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.FailNext("locks", "*", 1)

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 10)

	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", DefaultOptions())
	require.NoError(t, err)

	o := outcomeFor(t, res, "a.txt")
	assert.Equal(t, StatusUploaded, o.Status)
	assert.Equal(t, 0, o.BatchRetries)
	assert.Equal(t, 2, srv.Requests("locks"))
}

// cancelAfterList stops the batch right after the listing is fetched.
type cancelAfterList struct {
	*repository.Client
	cancel context.CancelFunc
}

func (c cancelAfterList) ListFiles(ctx context.Context) ([]repository.FileEntry, error) {
	files, err := c.Client.ListFiles(ctx)
	c.cancel()
	return files, err
}

func TestProcessBatchCancelledDuringResolve(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", 1024)
	writeFile(t, dir, "b.csv", 2048)
	srv.AddExisting(repository.FileEntry{
		Label: "a.csv",
		DataFile: repository.DataFile{
			FileSize: 1024,
			Checksum: repository.Checksum{Type: "MD5", Value: md5Hex(t, a)},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := cancelAfterList{Client: srv.Client(), cancel: cancel}

	opts := DefaultOptions()
	opts.VerifyChecksums = true
	res, err := NewEngine(repo, WithSleep(noSleep)).ProcessBatch(ctx, []string{dir}, "", opts)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Counters.FailedFiles)
	for _, name := range []string{"a.csv", "b.csv"} {
		o := outcomeFor(t, res, name)
		assert.Equal(t, ReasonCancelled, o.Reason, name)
		assert.Contains(t, o.Error, "not started", name)
	}
	assert.Equal(t, 0, srv.Requests("add"))
}

func TestProcessBatchListOnly(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, dir, "a.txt", 10)

	opts := DefaultOptions()
	opts.ListOnly = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{dir}, "", opts)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Counters.SkippedFiles)
	assert.Equal(t, ReasonListOnly, outcomeFor(t, res, "a.txt").Reason)
	assert.Equal(t, 0, srv.Requests("add"))
}

func TestProcessBatchForceNewBypassesResolver(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()
	srv.AddExisting(repository.FileEntry{Label: "a.txt"})

	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", 10)

	opts := DefaultOptions()
	opts.ForceNew = true
	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{p}, "", opts)
	require.NoError(t, err)

	assert.Equal(t, StatusUploaded, outcomeFor(t, res, "a.txt").Status)
	assert.Equal(t, 0, srv.Requests("list"))
}

func TestProcessBatchReportsUnreadablePaths(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	good := writeFile(t, dir, "good.txt", 10)
	missing := filepath.Join(dir, "missing.txt")

	res, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{good, missing}, "", DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Counters.UploadedFiles)
	assert.Equal(t, 1, res.Counters.FailedFiles)
	o := outcomeFor(t, res, missing)
	assert.Equal(t, ReasonResourceAccess, o.Reason)
}

func TestProcessBatchRejectsInvalidOptions(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	opts := DefaultOptions()
	opts.HTTPConcurrency = -1
	_, err := newTestEngine(srv).ProcessBatch(context.Background(), []string{t.TempDir()}, "", opts)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = newTestEngine(srv).ProcessBatch(context.Background(), nil, "", DefaultOptions())
	assert.True(t, IsConfigurationError(err))
	assert.Equal(t, 0, srv.Requests("list"))
}

func TestProcessBatchAuthFailureIsFatal(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	client := repository.New(srv.URL, "doi:10.5072/FK2/TEST", repository.WithToken("wrong"))
	_, err := NewEngine(client, WithSleep(noSleep)).ProcessBatch(context.Background(), []string{t.TempDir()}, "", DefaultOptions())
	require.Error(t, err)
	assert.True(t, repository.IsAuthError(err))
}

func TestProcessBatchCancelledBeforeTransfer(t *testing.T) {
	srv := repotest.New(repotest.Config{})
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, dir, "a.txt", 10)
	writeFile(t, dir, "b.txt", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOptions()
	opts.ForceNew = true
	res, err := newTestEngine(srv).ProcessBatch(ctx, []string{dir}, "", opts)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Counters.FailedFiles)
	assert.Equal(t, ReasonCancelled, outcomeFor(t, res, "a.txt").Reason)
	assert.Equal(t, 0, srv.Requests("add"))
}
