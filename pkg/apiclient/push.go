package apiclient

import (
	"context"
	"fmt"
	"io"
)

// DefaultChunkSize is the chunk length PushFile uses unless told
// otherwise.
const DefaultChunkSize int64 = 8 << 20

// maxOffsetRetries bounds how often one chunk may be replayed after an
// offset conflict before the push gives up.
const maxOffsetRetries = 3

// PushOptions tunes a resumable push.
type PushOptions struct {
	// ChunkSize is the length of each append. Defaults to
	// DefaultChunkSize.
	ChunkSize int64

	// Checksum is the expected digest of the whole file, "algorithm:hex"
	// or bare hex. Verified server-side before the file is published.
	Checksum string

	// Kind is "file" or "archive". Defaults to "file".
	Kind string

	// Progress, if set, is called after every acknowledged chunk with the
	// bytes confirmed so far and the total size.
	Progress func(sent, total int64)
}

// PushResult is the outcome of a resumable push. Exactly one of Record
// and Task is set, mirroring the final chunk's response.
type PushResult struct {
	Session *UploadSession
	Record  *FileRecord
	Task    *AcceptedTask
}

// PushFile uploads a local file through a resumable session: it opens the
// session, appends fixed-size chunks and resumes from the server's offset
// after a conflict. The reader must be seekable so a replayed chunk reads
// the same bytes.
//
// The session is left open on error; the caller can retry the push or
// abort the session by ID.
func (c *Client) PushFile(ctx context.Context, project, path string, r io.ReadSeeker, size int64, opts PushOptions) (*PushResult, error) {
	if size < 0 {
		return nil, fmt.Errorf("push needs the file size up front; got %d", size)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	session, err := c.CreateUpload(project, &CreateUploadRequest{
		Path:     path,
		Size:     &size,
		Checksum: opts.Checksum,
		Kind:     opts.Kind,
	})
	if err != nil {
		return nil, err
	}

	result := &PushResult{Session: session}
	offset := session.Offset
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		remaining := size - offset
		if remaining < 0 {
			return result, fmt.Errorf("server offset %d past declared size %d", offset, size)
		}
		n := chunkSize
		if remaining < n {
			n = remaining
		}

		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return result, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
		}

		appended, err := c.AppendChunk(ctx, project, session.ID, offset, io.LimitReader(r, n), n, false)
		if err != nil {
			apiErr, ok := err.(*APIError)
			if !ok || !apiErr.IsConflict() || retries >= maxOffsetRetries {
				return result, err
			}

			// The server's offset moved past ours, most likely because a
			// previous append landed but its response was lost. Resync
			// and replay from there.
			progress, statusErr := c.UploadStatus(project, session.ID)
			if statusErr != nil {
				return result, fmt.Errorf("offset conflict, resync failed: %w", statusErr)
			}
			offset = progress.Offset
			retries++
			continue
		}
		retries = 0

		if appended.Completed() {
			result.Record = appended.Record
			result.Task = appended.Task
			if opts.Progress != nil {
				opts.Progress(size, size)
			}
			return result, nil
		}

		result.Session = appended.Session
		offset = appended.Session.Offset
		if opts.Progress != nil {
			opts.Progress(offset, size)
		}
	}
}
