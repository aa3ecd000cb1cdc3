package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents an RFC 7807 problem response from the API.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Title != "" {
		return e.Title
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// IsAuthError returns true if the credentials were missing or rejected.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound returns true if the resource does not exist.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true if the request lost to existing state, e.g. a
// duplicate path, a stale upload offset or a held lease.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsQuotaExceeded returns true if the project quota or the spool volume
// ran out of space.
func (e *APIError) IsQuotaExceeded() bool {
	return e.StatusCode == http.StatusInsufficientStorage
}

// IsChecksumMismatch returns true if the uploaded bytes did not match the
// declared digest.
func (e *APIError) IsChecksumMismatch() bool {
	return e.StatusCode == http.StatusUnprocessableEntity
}

// IsLocked returns true if the target subtree is leased by another holder.
func (e *APIError) IsLocked() bool {
	return e.StatusCode == http.StatusLocked
}

// errorFromResponse builds an APIError from a response body. Non-JSON
// bodies (the auth middleware writes plain text) become the detail as-is.
func errorFromResponse(statusCode int, body []byte) *APIError {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Title != "" || apiErr.Detail != "") {
		apiErr.StatusCode = statusCode
		return &apiErr
	}
	return &APIError{
		StatusCode: statusCode,
		Detail:     strings.TrimSpace(string(body)),
	}
}
