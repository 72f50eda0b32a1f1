package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use these consistently so batch logs can be queried
// by file, operation and retry layer.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Batch
	KeyBatchID     = "batch_id"
	KeyDestination = "destination"
	KeyMode        = "mode" // proxied | direct
	KeyPass        = "pass" // batch-level retry pass
	KeyFiles       = "files"

	// File
	KeyPath      = "path"
	KeySize      = "size"
	KeyState     = "state"
	KeyOutcome   = "outcome"
	KeyReason    = "reason"
	KeyRule      = "rule" // resolver rule that matched
	KeyAlgorithm = "algorithm"
	KeyDigest    = "digest"
	KeyMimeType  = "mime_type"

	// Transfer
	KeyPart       = "part"
	KeyParts      = "parts"
	KeyPartSize   = "part_size"
	KeyStorageID  = "storage_id"
	KeyOperation  = "operation"
	KeyStatusCode = "status_code"
	KeyURL        = "url"

	// Retry and locks
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyDelay      = "delay"
	KeyLockType   = "lock_type"
	KeyWaited     = "waited"
	KeyBudgetLeft = "budget_left"

	// Common
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCount      = "count"
)

// Path returns an attr for a local file path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// Size returns an attr for a size in bytes.
func Size(n int64) slog.Attr { return slog.Int64(KeySize, n) }

// State returns an attr for a task state name.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// Operation returns an attr for a repository operation name.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// Attempt returns an attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns an attr for the retry cap.
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// Delay returns an attr for a backoff delay.
func Delay(d time.Duration) slog.Attr { return slog.Duration(KeyDelay, d) }

// Part returns an attr for a multipart part number.
func Part(n int) slog.Attr { return slog.Int(KeyPart, n) }

// DurationMs returns an attr for an elapsed time in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns an attr for an error; nil errors produce an empty attr.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
