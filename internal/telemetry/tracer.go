package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagefs/stagefs/internal/logger"
)

// Common attribute keys for staging operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client and request attributes
	// ========================================================================
	AttrClientAddr = "client.address"
	AttrHTTPMethod = "http.method"
	AttrHTTPTarget = "http.target"
	AttrHTTPStatus = "http.status_code"

	// ========================================================================
	// Staging resources
	// ========================================================================
	AttrProject  = "staging.project"
	AttrPath     = "staging.path"
	AttrSize     = "staging.size"
	AttrOffset   = "staging.offset"
	AttrChecksum = "staging.checksum"
	AttrUploadID = "staging.upload_id"

	// ========================================================================
	// Locking and quota
	// ========================================================================
	AttrLeaseID       = "lock.lease_id"
	AttrReservationID = "quota.reservation_id"

	// ========================================================================
	// Background jobs
	// ========================================================================
	AttrTaskID  = "job.task_id"
	AttrQueue   = "job.queue"
	AttrKind    = "job.kind"
	AttrAttempt = "job.attempt"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// REST surface
	SpanAPIRequest = "api.request"

	// Upload admission and assembly
	SpanUploadAdmit    = "upload.admit"
	SpanUploadAppend   = "upload.append"
	SpanUploadComplete = "upload.complete"
	SpanUploadAbort    = "upload.abort"

	// Finalize pipeline
	SpanFinalize       = "finalize.commit"
	SpanFinalizeVerify = "finalize.verify"

	// Archive extraction
	SpanExtract      = "archive.extract"
	SpanExtractEntry = "archive.entry"

	// Locking and quota
	SpanLockAcquire  = "lock.acquire"
	SpanLockRenew    = "lock.renew"
	SpanLockRelease  = "lock.release"
	SpanQuotaReserve = "quota.reserve"
	SpanQuotaCommit  = "quota.commit"
	SpanQuotaRelease = "quota.release"

	// Background jobs
	SpanJobEnqueue = "job.enqueue"
	SpanJobExecute = "job.execute"

	// Cleanup
	SpanSweep = "sweep.run"
)

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// HTTPStatus returns an attribute for a response status code
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}

// Project returns an attribute for the project identifier
func Project(id string) attribute.KeyValue {
	return attribute.String(AttrProject, id)
}

// Path returns an attribute for a project-relative resource path
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// Size returns an attribute for a byte count
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// Offset returns an attribute for an upload offset
func Offset(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, offset)
}

// Checksum returns an attribute for a hex digest
func Checksum(hex string) attribute.KeyValue {
	return attribute.String(AttrChecksum, hex)
}

// UploadID returns an attribute for an upload session ID
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// TaskID returns an attribute for a background task ID
func TaskID(id string) attribute.KeyValue {
	return attribute.String(AttrTaskID, id)
}

// Queue returns an attribute for a job queue name
func Queue(name string) attribute.KeyValue {
	return attribute.String(AttrQueue, name)
}

// Kind returns an attribute for a job kind
func Kind(kind string) attribute.KeyValue {
	return attribute.String(AttrKind, kind)
}

// Attempt returns an attribute for a delivery attempt number
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// LeaseID returns an attribute for a lock lease identifier
func LeaseID(id string) attribute.KeyValue {
	return attribute.String(AttrLeaseID, id)
}

// ReservationID returns an attribute for a quota reservation identifier
func ReservationID(id string) attribute.KeyValue {
	return attribute.String(AttrReservationID, id)
}

// InjectTraceContext copies the active span identifiers into the logger
// context, so log lines carry trace_id and span_id for correlation.
func InjectTraceContext(ctx context.Context) context.Context {
	traceID := TraceID(ctx)
	if traceID == "" {
		return ctx
	}
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = &logger.LogContext{}
	}
	return logger.WithContext(ctx, lc.WithTrace(traceID, SpanID(ctx)))
}

// StartAPISpan starts a server span covering one API request. Every staging
// span opened while serving the request becomes a child of it.
func StartAPISpan(ctx context.Context, method, target string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPTarget, target),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanAPIRequest,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(allAttrs...))
}

// StartUploadSpan starts a span for an upload operation with common attributes.
func StartUploadSpan(ctx context.Context, operation, project, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Project(project),
		Path(path),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, operation, trace.WithAttributes(allAttrs...))
}

// StartJobSpan starts a span for background job execution.
func StartJobSpan(ctx context.Context, kind, taskID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Kind(kind),
		TaskID(taskID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanJobExecute, trace.WithAttributes(allAttrs...))
}
