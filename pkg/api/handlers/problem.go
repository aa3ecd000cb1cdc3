// Package handlers provides HTTP handlers for the stagefs API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stagefs/stagefs/pkg/catalog/models"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI reference that identifies the specific occurrence.
	Instance string `json:"instance,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	problem := &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// Common problem helper functions for standard HTTP errors.

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized writes a 401 Unauthorized problem response.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden writes a 403 Forbidden problem response.
func Forbidden(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusForbidden, "Forbidden", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 Conflict problem response.
func Conflict(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusConflict, "Conflict", detail)
}

// PayloadTooLarge writes a 413 Content Too Large problem response.
func PayloadTooLarge(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusRequestEntityTooLarge, "Content Too Large", detail)
}

// UnsupportedMediaType writes a 415 Unsupported Media Type problem response.
func UnsupportedMediaType(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnsupportedMediaType, "Unsupported Media Type", detail)
}

// UnprocessableEntity writes a 422 Unprocessable Entity problem response.
func UnprocessableEntity(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", detail)
}

// Locked writes a 423 Locked problem response.
func Locked(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusLocked, "Locked", detail)
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// ServiceUnavailable writes a 503 Service Unavailable problem response.
func ServiceUnavailable(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// InsufficientStorage writes a 507 Insufficient Storage problem response.
func InsufficientStorage(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInsufficientStorage, "Insufficient Storage", detail)
}

// WriteError maps a staging core or catalog error onto the corresponding
// problem response. Unknown errors become 500 without leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	switch stagingerrors.CodeOf(err) {
	case stagingerrors.ErrNotFound:
		NotFound(w, err.Error())
	case stagingerrors.ErrAlreadyExists, stagingerrors.ErrConflict:
		Conflict(w, err.Error())
	case stagingerrors.ErrInvalidArgument, stagingerrors.ErrInvalidPath:
		BadRequest(w, err.Error())
	case stagingerrors.ErrLockTimeout:
		Locked(w, err.Error())
	case stagingerrors.ErrLockLost:
		Conflict(w, err.Error())
	case stagingerrors.ErrQuotaExceeded, stagingerrors.ErrNoSpace:
		InsufficientStorage(w, err.Error())
	case stagingerrors.ErrChecksumMismatch:
		UnprocessableEntity(w, err.Error())
	case stagingerrors.ErrOffsetMismatch:
		Conflict(w, err.Error())
	case stagingerrors.ErrTooLarge:
		PayloadTooLarge(w, err.Error())
	case stagingerrors.ErrUnsupportedMedia:
		UnsupportedMediaType(w, err.Error())
	case stagingerrors.ErrUnavailable:
		ServiceUnavailable(w, err.Error())
	default:
		writeCatalogError(w, err)
	}
}

// writeCatalogError handles catalog sentinel errors from handlers that talk
// to the store directly.
func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrProjectNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrUploadNotFound),
		errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrAPIKeyNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, models.ErrDuplicateProject),
		errors.Is(err, models.ErrDuplicateFile),
		errors.Is(err, models.ErrDuplicateUpload),
		errors.Is(err, models.ErrDuplicateAPIKey):
		Conflict(w, err.Error())
	default:
		InternalServerError(w, "An unexpected error occurred")
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONCreated writes a 201 Created JSON response.
func WriteJSONCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}

// WriteJSONAccepted writes a 202 Accepted JSON response.
func WriteJSONAccepted(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusAccepted, data)
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
