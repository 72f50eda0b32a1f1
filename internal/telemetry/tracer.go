package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for upload spans.
const (
	// ========================================================================
	// Batch attributes
	// ========================================================================
	AttrBatchID     = "upload.batch_id"
	AttrDataset     = "upload.dataset"
	AttrDestination = "upload.destination"
	AttrMode        = "upload.mode"
	AttrFiles       = "upload.files"
	AttrPass        = "upload.pass"

	// ========================================================================
	// File attributes
	// ========================================================================
	AttrPath      = "file.path"
	AttrSize      = "file.size"
	AttrMimeType  = "file.mime_type"
	AttrState     = "file.state"
	AttrOutcome   = "file.outcome"
	AttrReason    = "file.reason"
	AttrRule      = "file.match_rule"
	AttrAlgorithm = "file.checksum_algorithm"

	// ========================================================================
	// Transfer attributes
	// ========================================================================
	AttrOperation  = "transfer.operation"
	AttrAttempt    = "transfer.attempt"
	AttrPart       = "transfer.part"
	AttrParts      = "transfer.parts"
	AttrStorageID  = "transfer.storage_id"
	AttrStatusCode = "http.response.status_code"
)

// BatchID returns an attribute for the batch identifier.
func BatchID(id string) attribute.KeyValue {
	return attribute.String(AttrBatchID, id)
}

// Dataset returns an attribute for the dataset persistent identifier.
func Dataset(pid string) attribute.KeyValue {
	return attribute.String(AttrDataset, pid)
}

// Destination returns an attribute for the dataset destination path.
func Destination(p string) attribute.KeyValue {
	return attribute.String(AttrDestination, p)
}

// Mode returns an attribute for the transfer mode.
func Mode(m string) attribute.KeyValue {
	return attribute.String(AttrMode, m)
}

// Files returns an attribute for a file count.
func Files(n int) attribute.KeyValue {
	return attribute.Int(AttrFiles, n)
}

// Pass returns an attribute for the batch retry pass.
func Pass(n int) attribute.KeyValue {
	return attribute.Int(AttrPass, n)
}

// Path returns an attribute for a file path.
func Path(p string) attribute.KeyValue {
	return attribute.String(AttrPath, p)
}

// Size returns an attribute for a file size in bytes.
func Size(n int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, n)
}

// MimeType returns an attribute for a detected content type.
func MimeType(t string) attribute.KeyValue {
	return attribute.String(AttrMimeType, t)
}

// State returns an attribute for a lifecycle state.
func State(s string) attribute.KeyValue {
	return attribute.String(AttrState, s)
}

// Outcome returns an attribute for a terminal file status.
func Outcome(s string) attribute.KeyValue {
	return attribute.String(AttrOutcome, s)
}

// Reason returns an attribute for why a file ended where it did.
func Reason(r string) attribute.KeyValue {
	return attribute.String(AttrReason, r)
}

// Rule returns an attribute for the duplicate rule that matched.
func Rule(r string) attribute.KeyValue {
	return attribute.String(AttrRule, r)
}

// Algorithm returns an attribute for a checksum algorithm.
func Algorithm(a string) attribute.KeyValue {
	return attribute.String(AttrAlgorithm, a)
}

// Operation returns an attribute for a network operation name.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Attempt returns an attribute for an attempt number.
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// Part returns an attribute for a multipart part number.
func Part(n int) attribute.KeyValue {
	return attribute.Int(AttrPart, n)
}

// Parts returns an attribute for a multipart part count.
func Parts(n int) attribute.KeyValue {
	return attribute.Int(AttrParts, n)
}

// StorageID returns an attribute for a storage identifier.
func StorageID(id string) attribute.KeyValue {
	return attribute.String(AttrStorageID, id)
}

// StartBatchSpan starts the root span of a batch.
func StartBatchSpan(ctx context.Context, batchID, dataset string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := []attribute.KeyValue{BatchID(batchID), Dataset(dataset)}
	all = append(all, attrs...)
	return StartSpan(ctx, "upload.batch", trace.WithAttributes(all...))
}

// StartFileSpan starts a span covering one file's lifecycle within a pass.
func StartFileSpan(ctx context.Context, path string, size int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := []attribute.KeyValue{Path(path), Size(size)}
	all = append(all, attrs...)
	return StartSpan(ctx, "upload.file", trace.WithAttributes(all...))
}

// StartOperationSpan starts a span for one repository or storage call.
func StartOperationSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := []attribute.KeyValue{Operation(operation)}
	all = append(all, attrs...)
	return StartSpan(ctx, "upload."+operation, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindClient))
}

// EndSpan records err, if any, and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
