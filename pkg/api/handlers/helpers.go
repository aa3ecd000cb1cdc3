package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxJSONBody caps request bodies on the JSON control endpoints. File
// bytes travel through the upload chunk endpoint, never through these.
const maxJSONBody = 1 << 20

// decodeJSONBody decodes a JSON request body into v and writes an error
// response when it cannot. Callers return immediately on false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxErr):
		PayloadTooLarge(w, fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
	case errors.Is(err, io.EOF):
		BadRequest(w, "Request body is empty")
	case errors.As(err, &syntaxErr):
		BadRequest(w, fmt.Sprintf("Malformed JSON at offset %d", syntaxErr.Offset))
	case errors.As(err, &typeErr):
		BadRequest(w, fmt.Sprintf("Invalid value for field %q", typeErr.Field))
	default:
		BadRequest(w, "Invalid request body")
	}
	return false
}
