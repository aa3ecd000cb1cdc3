package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation and querying work across components.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Operation
	// ========================================================================
	KeyOperation = "operation"  // Operation name: upload, finalize, extract, sweep, ...
	KeyStatus    = "status"     // Operation outcome or task state
	KeyError     = "error"      // Error message
	KeyErrorCode = "error_code" // Typed error code from the staging taxonomy

	// ========================================================================
	// Staging Resources
	// ========================================================================
	KeyProject   = "project"   // Project identifier
	KeyPath      = "path"      // Project-relative resource path
	KeySize      = "size"      // Byte count
	KeyOffset    = "offset"    // Upload byte offset
	KeyChecksum  = "checksum"  // Hex digest
	KeyAlgorithm = "algorithm" // Checksum algorithm (md5, sha1, sha256)
	KeyUploadID  = "upload_id" // Resumable upload session ID
	KeyFileID    = "file_id"   // Committed file record ID

	// ========================================================================
	// Locking & Quota
	// ========================================================================
	KeyLeaseID       = "lease_id"       // Lock lease identifier
	KeyLeaseHolder   = "lease_holder"   // Holder token
	KeyReservationID = "reservation_id" // Quota reservation identifier
	KeyReserved      = "reserved"       // Reserved bytes
	KeyCommitted     = "committed"      // Committed bytes
	KeyQuota         = "quota"          // Project quota in bytes

	// ========================================================================
	// Background Jobs
	// ========================================================================
	KeyTaskID   = "task_id"   // Background task ID
	KeyQueue    = "queue"     // Queue name
	KeyKind     = "kind"      // Job kind
	KeyAttempt  = "attempt"   // Delivery attempt number
	KeyWorkerID = "worker_id" // Worker goroutine index

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP  = "client_ip"  // Client IP address
	KeyRequestID = "request_id" // HTTP request ID
	KeyAPIKeyID  = "api_key_id" // Public half of an API key token

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyStoreType  = "store_type"  // Backing store type: badger, postgres
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Operation returns a slog.Attr for the operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Project returns a slog.Attr for the project identifier
func Project(id string) slog.Attr {
	return slog.String(KeyProject, id)
}

// Path returns a slog.Attr for a project-relative resource path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Size returns a slog.Attr for a byte count
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Offset returns a slog.Attr for an upload offset
func Offset(n int64) slog.Attr {
	return slog.Int64(KeyOffset, n)
}

// UploadID returns a slog.Attr for an upload session ID
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// TaskID returns a slog.Attr for a background task ID
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// Queue returns a slog.Attr for a queue name
func Queue(name string) slog.Attr {
	return slog.String(KeyQueue, name)
}

// LeaseID returns a slog.Attr for a lock lease identifier
func LeaseID(id string) slog.Attr {
	return slog.String(KeyLeaseID, id)
}

// ReservationID returns a slog.Attr for a quota reservation identifier
func ReservationID(id string) slog.Attr {
	return slog.String(KeyReservationID, id)
}

// APIKeyID returns a slog.Attr for the public half of an API key
func APIKeyID(id string) slog.Attr {
	return slog.String(KeyAPIKeyID, id)
}

// Err returns a slog.Attr for an error value
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
