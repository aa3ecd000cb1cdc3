package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// UnknownSize marks an upload session whose total length was not declared.
const UnknownSize int64 = -1

// Upload state headers, following the tus convention.
const (
	uploadOffsetHeader = "Upload-Offset"
	uploadLengthHeader = "Upload-Length"
)

// UploadSession represents a resumable upload session.
type UploadSession struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Offset    int64     `json:"offset"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SizeKnown reports whether the session declared its total length.
func (s *UploadSession) SizeKnown() bool {
	return s.Size != UnknownSize
}

// CreateUploadRequest is the request to open a resumable session.
type CreateUploadRequest struct {
	// Path is the target file, or the extraction directory for archives.
	Path string `json:"path"`

	// Size is the declared total length. Omit it when the length is not
	// known up front.
	Size *int64 `json:"size,omitempty"`

	// Checksum is the expected digest, "algorithm:hex" or bare hex.
	Checksum string `json:"checksum,omitempty"`

	// Kind is "file" or "archive". Defaults to "file".
	Kind string `json:"kind,omitempty"`
}

// UploadList is the response to an upload session listing.
type UploadList struct {
	Project string          `json:"project"`
	Uploads []UploadSession `json:"uploads"`
	Count   int             `json:"count"`
}

// UploadProgress is the server's view of a session, read back with
// UploadStatus after a lost response. Length is UnknownSize for sessions
// with no declared length.
type UploadProgress struct {
	Offset int64
	Length int64
}

// AppendResult is the result of appending a chunk. Session is set while
// the upload stays open; Record or Task is set once the final chunk
// completed it.
type AppendResult struct {
	Session *UploadSession
	Record  *FileRecord
	Task    *AcceptedTask
}

// Completed reports whether the append finished the upload.
func (r *AppendResult) Completed() bool {
	return r.Record != nil || r.Task != nil
}

// uploadPath builds the /v1/uploads URL for a project, or a session.
func uploadPath(project string, segments ...string) string {
	p := fmt.Sprintf("/v1/uploads/%s", url.PathEscape(project))
	for _, s := range segments {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// CreateUpload opens a resumable upload session. The target lease and the
// quota reservation are taken here, before any byte arrives.
func (c *Client) CreateUpload(project string, req *CreateUploadRequest) (*UploadSession, error) {
	return createResource[UploadSession](c, uploadPath(project)+"/", req)
}

// ListUploads returns all upload sessions for a project.
func (c *Client) ListUploads(project string) (*UploadList, error) {
	return getResource[UploadList](c, uploadPath(project))
}

// UploadStatus reads a session's next append offset, for resuming after a
// lost append response.
func (c *Client) UploadStatus(project, id string) (*UploadProgress, error) {
	req, err := http.NewRequest(http.MethodHead, c.baseURL+uploadPath(project, id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.applyCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		// HEAD responses carry no body to decode.
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	offset, err := strconv.ParseInt(resp.Header.Get(uploadOffsetHeader), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", uploadOffsetHeader, err)
	}

	length := UnknownSize
	if raw := resp.Header.Get(uploadLengthHeader); raw != "" {
		if length, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid %s header: %w", uploadLengthHeader, err)
		}
	}

	return &UploadProgress{Offset: offset, Length: length}, nil
}

// AppendChunk writes a chunk at exactly the given offset. A conflict
// means the server's offset moved; re-read it with UploadStatus and
// resume from there. final marks the last chunk of a session with no
// declared size.
func (c *Client) AppendChunk(ctx context.Context, project, id string, offset int64, chunk io.Reader, size int64, final bool) (*AppendResult, error) {
	p := uploadPath(project, id)
	if final {
		p += "?final=true"
	}

	req, err := c.newStreamRequest(ctx, http.MethodPatch, p, chunk, size)
	if err != nil {
		return nil, err
	}
	req.Header.Set(uploadOffsetHeader, strconv.FormatInt(offset, 10))

	var raw json.RawMessage
	status, err := c.doStream(req, &raw)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusAccepted:
		var task AcceptedTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &AppendResult{Task: &task}, nil
	case http.StatusCreated:
		var record FileRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &AppendResult{Record: &record}, nil
	default:
		var session UploadSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &AppendResult{Session: &session}, nil
	}
}

// AbortUpload ends an active session and returns its reservation. A
// session already handed to a finalize job cannot be aborted.
func (c *Client) AbortUpload(project, id string) error {
	return deleteResource(c, uploadPath(project, id))
}
