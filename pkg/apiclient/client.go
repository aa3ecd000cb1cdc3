// Package apiclient provides a REST API client for stagefsctl.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the stagefs API client.
//
// Metadata calls run on a bounded-timeout HTTP client; uploads and
// downloads run on an unbounded one so large transfers are never cut off
// mid-stream.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	token        string
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

// WithToken returns a new client with the given token.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		baseURL:      c.baseURL,
		httpClient:   c.httpClient,
		streamClient: c.streamClient,
		token:        token,
	}
}

// SetToken sets the authentication token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// do performs a JSON HTTP request and decodes the response.
func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.applyCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return errorFromResponse(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// newStreamRequest builds a request for the streaming endpoints. A
// non-negative size becomes the Content-Length; the single-shot endpoints
// reject bodies without one.
func (c *Client) newStreamRequest(ctx context.Context, method, path string, body io.Reader, size int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.applyCommonHeaders(req)
	return req, nil
}

// doStream executes a streaming request and decodes the JSON response body.
// Returns the HTTP status code so callers can tell a finished upload (201)
// from one handed to a background task (202).
func (c *Client) doStream(req *http.Request, result any) (int, error) {
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, errorFromResponse(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// applyCommonHeaders sets the headers every request carries.
func (c *Client) applyCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// get performs a GET request.
func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, nil, result)
}

// getRaw performs a GET request and returns the raw response body.
func (c *Client) getRaw(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.applyCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, errorFromResponse(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// post performs a POST request.
func (c *Client) post(path string, body, result any) error {
	return c.do(http.MethodPost, path, body, result)
}

// patch performs a PATCH request.
func (c *Client) patch(path string, body, result any) error {
	return c.do(http.MethodPatch, path, body, result)
}

// delete performs a DELETE request.
func (c *Client) delete(path string, result any) error {
	return c.do(http.MethodDelete, path, nil, result)
}
