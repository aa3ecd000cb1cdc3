package apiclient

import (
	"fmt"
	"net/url"
	"strings"
)

// ============================================================================
// Generic API Client Helpers
// ============================================================================
//
// These helpers reduce repetitive HTTP boilerplate across API client resource
// files. Each helper wraps the underlying Client.get/post/delete methods
// with type-safe generics for request/response handling. They are unexported
// (package-internal).

// getResource performs a GET request to the given path and decodes the response
// body into a value of type T. Returns a pointer to the decoded value.
//
// Example:
//
//	project, err := getResource[Project](c, "/v1/admin/projects/dig-2031")
func getResource[T any](c *Client, path string) (*T, error) {
	var result T
	if err := c.get(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// createResource performs a POST request to the given path with the provided body
// and decodes the response into a value of type T. Returns a pointer to the decoded
// value.
//
// Example:
//
//	key, err := createResource[IssuedKey](c, "/v1/admin/keys", req)
func createResource[T any](c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.post(path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// patchResource performs a PATCH request to the given path with the provided body
// and decodes the response into a value of type T. Returns a pointer to the decoded
// value.
func patchResource[T any](c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.patch(path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// deleteResource performs a DELETE request to the given path.
func deleteResource(c *Client, path string) error {
	return c.delete(path, nil)
}

// resourcePath builds a resource path by formatting a path template with the given
// arguments using fmt.Sprintf.
//
// Example:
//
//	path := resourcePath("/v1/tasks/%s", taskID)
func resourcePath(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

// escapeFilePath escapes a staging file path for use in a URL while keeping
// its slashes as segment separators.
func escapeFilePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// checksumQuery maps a digest in "algorithm:hex" form (bare hex means MD5)
// onto the md5= / sha256= query parameter the upload endpoints read.
func checksumQuery(q url.Values, sum string) {
	if sum == "" {
		return
	}
	alg, hex, found := strings.Cut(sum, ":")
	if !found {
		alg, hex = "md5", sum
	}
	q.Set(strings.ToLower(alg), hex)
}
