package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// FileRecord represents a durable file's catalog record.
type FileRecord struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	Source    string    `json:"source,omitempty"`
	StoredAt  time.Time `json:"stored_at"`
	CreatedAt time.Time `json:"created_at"`
}

// FileList is the response to a prefix listing.
type FileList struct {
	Project string       `json:"project"`
	Prefix  string       `json:"prefix"`
	Files   []FileRecord `json:"files"`
	Count   int          `json:"count"`
}

// RemoveResult reports what a delete removed.
type RemoveResult struct {
	Files int64 `json:"files"`
	Bytes int64 `json:"bytes"`
}

// UploadOutcome is the result of a single-shot upload. Exactly one of
// Record and Task is set: small files finalize inline, larger ones hand
// off to a background task the caller polls.
type UploadOutcome struct {
	Record *FileRecord
	Task   *AcceptedTask
}

// filePath builds the /v1/files URL for a project path.
func filePath(project, path string) string {
	return fmt.Sprintf("/v1/files/%s/%s", url.PathEscape(project), escapeFilePath(path))
}

// StatFile returns the catalog record of a durable file.
func (c *Client) StatFile(project, path string) (*FileRecord, error) {
	body, err := c.getRaw(filePath(project, path))
	if err != nil {
		return nil, err
	}

	var record FileRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	// A prefix with files under it answers with a listing instead.
	if record.ID == "" {
		return nil, &APIError{
			StatusCode: http.StatusNotFound,
			Title:      "Not Found",
			Detail:     fmt.Sprintf("%q is a prefix, not a file", path),
		}
	}
	return &record, nil
}

// ListFiles returns the files under a path prefix, ordered by path. An
// empty prefix lists the whole project. A prefix that names a single file
// exactly comes back as a one-element listing.
func (c *Client) ListFiles(project, prefix string) (*FileList, error) {
	p := fmt.Sprintf("/v1/files/%s/", url.PathEscape(project))
	if prefix != "" {
		p = filePath(project, prefix)
	}

	body, err := c.getRaw(p)
	if err != nil {
		return nil, err
	}

	// A listing carries "project"; a single file record carries
	// "project_id" instead, so the field stays empty.
	var list FileList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if list.Project != "" {
		if list.Files == nil {
			list.Files = []FileRecord{}
		}
		return &list, nil
	}

	// The path named a durable file, so the server sent its record.
	var record FileRecord
	if err := json.Unmarshal(body, &record); err != nil || record.ID == "" {
		return nil, fmt.Errorf("unexpected listing response for %q", prefix)
	}
	return &FileList{
		Project: project,
		Prefix:  record.Path,
		Files:   []FileRecord{record},
		Count:   1,
	}, nil
}

// UploadFile streams a file body to the target path in one call. The size
// must be the exact body length; quota is reserved against it before the
// first byte is read. An optional digest in "algorithm:hex" form (bare
// hex means MD5) is verified server-side before the file is published.
func (c *Client) UploadFile(ctx context.Context, project, path string, body io.Reader, size int64, sum string) (*UploadOutcome, error) {
	p := filePath(project, path)
	q := url.Values{}
	checksumQuery(q, sum)
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	req, err := c.newStreamRequest(ctx, http.MethodPost, p, body, size)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	status, err := c.doStream(req, &raw)
	if err != nil {
		return nil, err
	}
	return decodeUploadOutcome(status, raw)
}

// UploadArchive streams an archive body and schedules its extraction
// under dir, the project root when empty. Extraction always runs in the
// background; the caller polls the returned task.
func (c *Client) UploadArchive(ctx context.Context, project, dir string, body io.Reader, size int64, sum string) (*AcceptedTask, error) {
	q := url.Values{}
	if dir != "" {
		q.Set("dir", dir)
	}
	checksumQuery(q, sum)

	p := fmt.Sprintf("/v1/archives/%s", url.PathEscape(project))
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	req, err := c.newStreamRequest(ctx, http.MethodPost, p, body, size)
	if err != nil {
		return nil, err
	}

	var task AcceptedTask
	if _, err := c.doStream(req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Download streams a durable file's content. The caller must close the
// returned reader.
func (c *Client) Download(ctx context.Context, project, path string) (io.ReadCloser, error) {
	p := filePath(project, path) + "?download=true"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+p, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.applyCommonHeaders(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	return resp.Body, nil
}

// RemoveFiles deletes the file at the path, or every file under it when
// the path names a prefix. An empty path clears the whole project.
func (c *Client) RemoveFiles(project, path string) (*RemoveResult, error) {
	p := fmt.Sprintf("/v1/files/%s/", url.PathEscape(project))
	if path != "" {
		p = filePath(project, path)
	}

	var result RemoveResult
	if err := c.delete(p, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// decodeUploadOutcome maps a 201 body onto a file record and a 202 body
// onto an accepted task.
func decodeUploadOutcome(status int, raw json.RawMessage) (*UploadOutcome, error) {
	switch status {
	case http.StatusAccepted:
		var task AcceptedTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &UploadOutcome{Task: &task}, nil
	default:
		var record FileRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &UploadOutcome{Record: &record}, nil
	}
}
