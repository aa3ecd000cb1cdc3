package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	Operation string    // Operation name (upload, finalize, extract, sweep, ...)
	Project   string    // Project identifier
	UploadID  string    // Resumable upload session ID
	TaskID    string    // Background task ID
	ClientIP  string    // Client IP address (without port)
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given client IP
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithOperation returns a copy with the operation set
func (lc *LogContext) WithOperation(op string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = op
	}
	return clone
}

// WithProject returns a copy with the project set
func (lc *LogContext) WithProject(project string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Project = project
	}
	return clone
}

// WithUpload returns a copy with the upload session ID set
func (lc *LogContext) WithUpload(uploadID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.UploadID = uploadID
	}
	return clone
}

// WithTask returns a copy with the task ID set
func (lc *LogContext) WithTask(taskID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TaskID = taskID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
