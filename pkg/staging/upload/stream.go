package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/resource"
)

// StreamRequest is a whole upload in one request body.
type StreamRequest struct {
	// Project receives the upload.
	Project string

	// Path is the target file, or the extraction directory for archives.
	Path resource.Path

	// Kind says whether the payload is a file or an archive.
	Kind models.UploadKind

	// Size is the declared body length. Single-shot uploads must declare
	// it; admission reserves quota before the first byte is read.
	Size int64

	// Checksum is the client-declared digest, verified at finalize. Zero
	// means none.
	Checksum checksum.Checksum

	// Body is the payload stream.
	Body io.Reader
}

// Stream runs a whole upload in one call: admit, drain the body, and
// complete. Small files come back finalized; large files and archives come
// back accepted with a task to poll. Any failure before the handoff tears
// the session down, so the caller never has to clean up.
func (s *Service) Stream(ctx context.Context, req StreamRequest) (*Outcome, error) {
	if req.Size < 0 {
		return nil, stagingerrors.NewInvalidArgumentError("content length is required")
	}

	session, err := s.Admit(ctx, AdmitRequest{
		Project:  req.Project,
		Path:     req.Path,
		Kind:     req.Kind,
		Size:     req.Size,
		Checksum: req.Checksum,
	})
	if err != nil {
		return nil, err
	}

	guard := s.guardFor(session)
	ws := s.spool.Workspace(session.ID)

	// One extra byte distinguishes "exactly as declared" from "more than
	// declared" without draining an unbounded stream.
	n, err := ws.AppendAt(0, io.LimitReader(req.Body, req.Size+1))
	if err != nil {
		s.abandon(ctx, session, guard)
		return nil, err
	}
	if n != req.Size {
		s.abandon(ctx, session, guard)
		return nil, stagingerrors.NewInvalidArgumentError(
			fmt.Sprintf("request body was %d bytes, declared %d", n, req.Size))
	}

	if err := s.catalog.AdvanceUploadOffset(ctx, session.ID, 0, n); err != nil {
		s.abandon(ctx, session, guard)
		return nil, err
	}
	session.Offset = n
	if s.metrics != nil {
		s.metrics.RecordBytes(n)
	}

	return s.complete(ctx, session, guard)
}
