package models

import "errors"

// Common errors for catalog operations.
var (
	// Project errors
	ErrProjectNotFound  = errors.New("project not found")
	ErrDuplicateProject = errors.New("project already exists")
	ErrStaleProject     = errors.New("project row changed concurrently")

	// Quota errors
	ErrInsufficientQuota   = errors.New("insufficient quota")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrOverCommit          = errors.New("commit exceeds reserved bytes")

	// File errors
	ErrFileNotFound  = errors.New("file not found")
	ErrDuplicateFile = errors.New("file already exists")

	// Upload session errors
	ErrUploadNotFound  = errors.New("upload session not found")
	ErrDuplicateUpload = errors.New("upload session already exists")
	ErrStaleUpload     = errors.New("upload session changed concurrently")

	// Task errors
	ErrTaskNotFound = errors.New("task not found")

	// API key errors
	ErrAPIKeyNotFound  = errors.New("api key not found")
	ErrDuplicateAPIKey = errors.New("api key already exists")
	ErrInvalidAPIKey   = errors.New("invalid api key")
	ErrAPIKeyDisabled  = errors.New("api key is disabled")
)
