// Package errors provides error types and error codes for the staging core.
// This is a leaf package with no internal dependencies, designed to be imported
// by the lock, quota, upload and job packages without causing circular imports.
//
// Import graph: errors <- lock/quota <- upload/finalize/archive <- api
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates the resource already exists.
	ErrAlreadyExists

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument

	// ErrInvalidPath indicates a malformed or escaping resource path.
	// Raised before any lock or reservation is taken.
	ErrInvalidPath

	// ErrLockTimeout indicates a conflicting lease was held for the whole
	// acquire window. The resource is busy; the caller may retry later.
	ErrLockTimeout

	// ErrLockLost indicates the holder's lease expired or was reclaimed
	// mid-operation. The operation aborts and partial state is rolled back.
	ErrLockLost

	// ErrQuotaExceeded indicates the project byte budget cannot cover the
	// requested reservation. Admission is refused before bytes are accepted.
	ErrQuotaExceeded

	// ErrChecksumMismatch indicates the computed digest differs from the
	// client-declared one at finalize time.
	ErrChecksumMismatch

	// ErrOffsetMismatch indicates a resumable-protocol violation: the chunk
	// does not start exactly at the session's received-bytes counter.
	ErrOffsetMismatch

	// ErrJobFailed indicates a terminal asynchronous failure, surfaced via
	// task-status polling.
	ErrJobFailed

	// ErrTooLarge indicates the upload exceeds the maximum accepted size.
	ErrTooLarge

	// ErrNoSpace indicates insufficient free space on the staging volume.
	ErrNoSpace

	// ErrUnsupportedMedia indicates a payload in a format the service
	// cannot process, such as an archive in an unrecognized format.
	ErrUnsupportedMedia

	// ErrConflict indicates an optimistic compare-and-update lost the race.
	// Internal; callers retry, it never surfaces to clients.
	ErrConflict

	// ErrUnavailable indicates a backing store could not be reached.
	ErrUnavailable

	// ErrInternal indicates an unexpected internal failure.
	ErrInternal
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrInvalidPath:
		return "InvalidPath"
	case ErrLockTimeout:
		return "LockTimeout"
	case ErrLockLost:
		return "LockLost"
	case ErrQuotaExceeded:
		return "QuotaExceeded"
	case ErrChecksumMismatch:
		return "ChecksumMismatch"
	case ErrOffsetMismatch:
		return "OffsetMismatch"
	case ErrJobFailed:
		return "JobFailed"
	case ErrTooLarge:
		return "TooLarge"
	case ErrNoSpace:
		return "NoSpace"
	case ErrUnsupportedMedia:
		return "UnsupportedMedia"
	case ErrConflict:
		return "Conflict"
	case ErrUnavailable:
		return "Unavailable"
	case ErrInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// StagingError represents a staging core error with an error code.
type StagingError struct {
	Code    ErrorCode
	Message string
	Path    string
}

// Error implements the error interface.
func (e *StagingError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same error code. It makes
// errors.Is(err, &StagingError{Code: ErrLockTimeout}) work across wrapping.
func (e *StagingError) Is(target error) bool {
	var se *StagingError
	if !errors.As(target, &se) {
		return false
	}
	return e.Code == se.Code
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(path, resourceType string) *StagingError {
	return &StagingError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resourceType),
		Path:    path,
	}
}

// NewAlreadyExistsError creates an AlreadyExists error.
func NewAlreadyExistsError(path string) *StagingError {
	return &StagingError{
		Code:    ErrAlreadyExists,
		Message: "already exists",
		Path:    path,
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(message string) *StagingError {
	return &StagingError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewInvalidPathError creates an InvalidPath error.
func NewInvalidPathError(path, reason string) *StagingError {
	return &StagingError{
		Code:    ErrInvalidPath,
		Message: reason,
		Path:    path,
	}
}

// NewLockTimeoutError creates a LockTimeout error.
func NewLockTimeoutError(path string) *StagingError {
	return &StagingError{
		Code:    ErrLockTimeout,
		Message: "resource is locked by another operation",
		Path:    path,
	}
}

// NewLockLostError creates a LockLost error.
func NewLockLostError(path string) *StagingError {
	return &StagingError{
		Code:    ErrLockLost,
		Message: "lock lease expired or was reclaimed",
		Path:    path,
	}
}

// NewQuotaExceededError creates a QuotaExceeded error naming the shortfall.
func NewQuotaExceededError(project string, wanted, free int64) *StagingError {
	return &StagingError{
		Code:    ErrQuotaExceeded,
		Message: fmt.Sprintf("project %s: requested %d bytes but only %d free", project, wanted, free),
	}
}

// NewChecksumMismatchError creates a ChecksumMismatch error.
func NewChecksumMismatchError(path, expected, actual string) *StagingError {
	return &StagingError{
		Code:    ErrChecksumMismatch,
		Message: fmt.Sprintf("checksum mismatch: expected %s, got %s", expected, actual),
		Path:    path,
	}
}

// NewOffsetMismatchError creates an OffsetMismatch error.
func NewOffsetMismatchError(expected, got int64) *StagingError {
	return &StagingError{
		Code:    ErrOffsetMismatch,
		Message: fmt.Sprintf("chunk offset %d does not match expected offset %d", got, expected),
	}
}

// NewJobFailedError creates a JobFailed error carrying the terminal reason.
func NewJobFailedError(reason string) *StagingError {
	return &StagingError{
		Code:    ErrJobFailed,
		Message: reason,
	}
}

// NewTooLargeError creates a TooLarge error.
func NewTooLargeError(size, limit int64) *StagingError {
	return &StagingError{
		Code:    ErrTooLarge,
		Message: fmt.Sprintf("upload of %d bytes exceeds maximum of %d", size, limit),
	}
}

// NewNoSpaceError creates a NoSpace error.
func NewNoSpaceError() *StagingError {
	return &StagingError{
		Code:    ErrNoSpace,
		Message: "insufficient free space on staging volume",
	}
}

// NewUnsupportedMediaError creates an UnsupportedMedia error.
func NewUnsupportedMediaError(detail string) *StagingError {
	return &StagingError{
		Code:    ErrUnsupportedMedia,
		Message: detail,
	}
}

// NewConflictError creates a Conflict error.
func NewConflictError(message string) *StagingError {
	return &StagingError{
		Code:    ErrConflict,
		Message: message,
	}
}

// NewUnavailableError creates an Unavailable error.
func NewUnavailableError(message string) *StagingError {
	return &StagingError{
		Code:    ErrUnavailable,
		Message: message,
	}
}

// NewInternalError creates an Internal error wrapping an unexpected failure.
func NewInternalError(err error) *StagingError {
	return &StagingError{
		Code:    ErrInternal,
		Message: err.Error(),
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the ErrorCode carried by err, or 0 when err is not a
// StagingError.
func CodeOf(err error) ErrorCode {
	var se *StagingError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound returns true if the error is a NotFound error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsLockTimeout returns true if the error indicates a busy resource.
func IsLockTimeout(err error) bool {
	return CodeOf(err) == ErrLockTimeout
}

// IsLockLost returns true if the error indicates a lost lease.
func IsLockLost(err error) bool {
	return CodeOf(err) == ErrLockLost
}

// IsQuotaExceeded returns true if the error is a QuotaExceeded error.
func IsQuotaExceeded(err error) bool {
	return CodeOf(err) == ErrQuotaExceeded
}

// IsConflict returns true if the error is an optimistic-update conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == ErrConflict
}

// IsRetryable returns true for errors a caller may safely retry:
// busy locks and CAS conflicts.
func IsRetryable(err error) bool {
	code := CodeOf(err)
	return code == ErrLockTimeout || code == ErrConflict
}
