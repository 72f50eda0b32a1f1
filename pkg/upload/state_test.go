package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/lockwait"
	"github.com/marmos91/dvuploader/pkg/repository"
	"github.com/marmos91/dvuploader/pkg/resource"
	"github.com/marmos91/dvuploader/pkg/retry"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateResolving, true},
		{StateResolving, StateSkipped, true},
		{StateResolving, StateNeedsUpload, true},
		{StateNeedsUpload, StateReserving, true},
		{StateReserving, StateTransferring, true},
		{StateTransferring, StateCommitting, true},
		{StateCommitting, StateVerifying, true},
		{StateVerifying, StateUploaded, true},
		{StateTransferring, StateFailed, true},
		{StateFailed, StateNeedsUpload, true},

		{StatePending, StateUploaded, false},
		{StateNeedsUpload, StateCommitting, false},
		{StateSkipped, StateFailed, false},
		{StateUploaded, StateFailed, false},
		{StateUploaded, StateNeedsUpload, false},
		{StateFailed, StateFailed, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "needs-upload", StateNeedsUpload.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, StateSkipped.Terminal())
	assert.False(t, StateVerifying.Terminal())
}

func TestCountersConcurrentRecord(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				c.Record(FileOutcome{Status: StatusUploaded, Bytes: 10})
			case 1:
				c.Record(FileOutcome{Status: StatusSkipped})
			default:
				c.Record(FileOutcome{Status: StatusFailed})
			}
		}(i)
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, 34, s.UploadedFiles)
	assert.Equal(t, 33, s.SkippedFiles)
	assert.Equal(t, 33, s.FailedFiles)
	assert.Equal(t, int64(340), s.UploadedBytes)
	assert.Equal(t, 100, s.Total())
}

func TestReasonOf(t *testing.T) {
	mismatch := &checksum.MismatchError{
		Path:     "a",
		Expected: checksum.Digest{Algorithm: checksum.MD5, Value: "aa"},
		Actual:   checksum.Digest{Algorithm: checksum.MD5, Value: "bb"},
	}
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ReasonNone},
		{"mismatch", mismatch, ReasonChecksumMismatch},
		{"lock", &lockwait.LockTimeoutError{Locks: []string{"Ingest"}}, ReasonLockTimeout},
		{"access", &resource.AccessError{Path: "x", Err: errors.New("denied")}, ReasonResourceAccess},
		{"cancelled", fmt.Errorf("wrapped: %w", context.Canceled), ReasonCancelled},
		{"cancelled while hashing", &resource.AccessError{Path: "x", Err: context.Canceled}, ReasonCancelled},
		{"cancelled while polling locks", fmt.Errorf("check dataset locks: %w", context.Canceled), ReasonCancelled},
		{"exhausted", &retry.TransientNetworkError{Op: "add", Attempts: 3, Err: &repository.APIError{StatusCode: 503}}, ReasonTransientNetwork},
		{"rejected", &repository.APIError{StatusCode: 400, Message: "bad"}, ReasonRejected},
		{"other", errors.New("boom"), ReasonUnclassifiedError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonOf(tt.err))
		})
	}
}

func TestWillRetry(t *testing.T) {
	p := retry.PassPolicy()
	assert.True(t, willRetry(p, 0))
	assert.True(t, willRetry(p, 2))
	assert.False(t, willRetry(p, 3))
	assert.False(t, willRetry(retry.Policy{}, 0))
}

func TestOptionsValidate(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var o Options
		require.NoError(t, o.Validate())
		assert.Equal(t, DefaultHTTPConcurrency, o.HTTPConcurrency)
		assert.Equal(t, checksum.MD5, o.FixityAlgorithm)
		assert.Equal(t, DefaultTimeout, o.Timeout)
		assert.Equal(t, 3, o.Transient.MaxAttempts)
		assert.Equal(t, 4, o.Passes.MaxAttempts)
	})

	t.Run("algorithm spelling", func(t *testing.T) {
		o := Options{FixityAlgorithm: "sha256"}
		require.NoError(t, o.Validate())
		assert.Equal(t, checksum.SHA256, o.FixityAlgorithm)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, o := range []Options{
			{HTTPConcurrency: -1},
			{Skip: -1},
			{Limit: -2},
			{MaxWaitLock: -time.Second},
			{FixityAlgorithm: "crc32"},
		} {
			err := o.Validate()
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err), err.Error())
		}
	})
}

func TestModeText(t *testing.T) {
	b, err := ModeDirect.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "direct", string(b))
	assert.Equal(t, "proxied", ModeProxied.String())
}
