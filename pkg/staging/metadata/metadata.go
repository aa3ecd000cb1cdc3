// Package metadata turns durable file changes into catalog documents.
//
// The generator listens on the events bus and submits one generate-metadata
// job per change, so document delivery inherits the at-least-once guarantees
// of the job queue instead of riding on the upload request. The handler
// builds a Document describing the file and hands it to a Sink; what the
// sink does with it (log it, push it to an external catalog) is deployment
// wiring.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/bufpool"
	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	"github.com/stagefs/stagefs/pkg/staging/events"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/state"
)

// KindGenerate is the job kind for metadata document generation.
const KindGenerate = "generate-metadata"

// contentTypeDefault is used when neither the extension nor the stored bytes
// say anything useful.
const contentTypeDefault = "application/octet-stream"

// sniffLen is how many leading bytes content detection looks at.
const sniffLen = 512

// Job is the queue payload for one metadata change.
type Job struct {
	Project string `json:"project"`
	Path    string `json:"path"`

	// Removed marks a deletion; the sink forgets the document instead of
	// receiving a new one.
	Removed bool `json:"removed,omitempty"`
}

// Digest is the checksum block of a Document.
type Digest struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// Document describes one stored file for a downstream catalog.
type Document struct {
	// Identifier is a fresh URN for this document.
	Identifier string `json:"identifier"`

	Project string `json:"project"`
	Path    string `json:"path"`
	Name    string `json:"name"`

	ContentType string `json:"content_type"`
	ByteSize    int64  `json:"byte_size"`
	Checksum    Digest `json:"checksum"`

	// StoredAt is when the file became durable.
	StoredAt time.Time `json:"stored_at"`
}

// Sink receives metadata documents. Errors are retried by the job queue, so
// implementations talking to flaky backends just return the failure.
type Sink interface {
	// Store delivers the document for a committed file.
	Store(ctx context.Context, doc *Document) error

	// Forget withdraws whatever the sink holds for a deleted file.
	Forget(ctx context.Context, project, path string) error
}

// LogSink writes documents to the service log. It is the default sink when
// no external catalog is configured.
type LogSink struct{}

// Compile-time interface check.
var _ Sink = LogSink{}

func (LogSink) Store(ctx context.Context, doc *Document) error {
	logger.InfoCtx(ctx, "Metadata document",
		logger.Project(doc.Project),
		logger.Path(doc.Path),
		"identifier", doc.Identifier,
		"content_type", doc.ContentType,
		"byte_size", doc.ByteSize,
		"checksum", doc.Checksum.Algorithm+":"+doc.Checksum.Value,
	)
	return nil
}

func (LogSink) Forget(ctx context.Context, project, path string) error {
	logger.InfoCtx(ctx, "Metadata withdrawn",
		logger.Project(project),
		logger.Path(path),
	)
	return nil
}

// NopSink discards everything.
type NopSink struct{}

// Compile-time interface check.
var _ Sink = NopSink{}

func (NopSink) Store(context.Context, *Document) error       { return nil }
func (NopSink) Forget(context.Context, string, string) error { return nil }

// Generator produces metadata documents for file changes.
type Generator struct {
	catalog    store.Store
	spool      *spool.Spool
	sink       Sink
	dispatcher *jobs.Dispatcher
}

// New creates a generator. A nil sink falls back to LogSink.
func New(catalog store.Store, sp *spool.Spool, sink Sink, dispatcher *jobs.Dispatcher) *Generator {
	if sink == nil {
		sink = LogSink{}
	}
	return &Generator{
		catalog:    catalog,
		spool:      sp,
		sink:       sink,
		dispatcher: dispatcher,
	}
}

// Bind subscribes the generator to the bus so every durable change gets a
// metadata job.
func (g *Generator) Bind(bus *events.Bus) {
	bus.Subscribe(g.onEvent)
}

// RegisterHandlers binds the generator's job kinds on the dispatcher.
func (g *Generator) RegisterHandlers(d *jobs.Dispatcher) {
	d.Register(KindGenerate, g.handleGenerate)
}

// onEvent submits one job per change. Submit failures are logged and
// dropped; metadata is derived state and the next change to the same file
// produces a fresh chance.
func (g *Generator) onEvent(ctx context.Context, event events.Event) {
	var removed bool
	switch event.Type {
	case events.TypeFileCommitted:
		removed = false
	case events.TypeFileDeleted:
		removed = true
	default:
		return
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		Kind:      KindGenerate,
		State:     string(models.TaskStateQueued),
		ProjectID: event.Project,
		Path:      event.Path,
	}

	payload := Job{Project: event.Project, Path: event.Path, Removed: removed}
	if _, err := g.dispatcher.Submit(ctx, jobs.QueueMetadata, task, payload); err != nil {
		logger.WarnCtx(ctx, "Failed to submit metadata job",
			logger.Project(event.Project),
			logger.Path(event.Path),
			logger.Err(err),
		)
	}
}

// handleGenerate runs one metadata job.
func (g *Generator) handleGenerate(ctx context.Context, job *state.Job) error {
	payload, err := jobs.Decode[Job](job)
	if err != nil {
		return jobs.Permanent(err)
	}

	path, err := resource.ParseFile(payload.Path)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("metadata job names an invalid path: %w", err))
	}

	if payload.Removed {
		if err := g.sink.Forget(ctx, payload.Project, path.String()); err != nil {
			return fmt.Errorf("failed to withdraw metadata: %w", err)
		}
		return nil
	}

	record, err := g.catalog.GetFile(ctx, payload.Project, path.String())
	if errors.Is(err, models.ErrFileNotFound) {
		// Deleted between commit and this delivery. The deletion raised
		// its own event, and that job tells the sink.
		logger.DebugCtx(ctx, "File vanished before metadata generation",
			logger.Project(payload.Project),
			logger.Path(path.String()),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load file record: %w", err)
	}

	doc := g.document(ctx, payload.Project, path, record)
	if err := g.sink.Store(ctx, doc); err != nil {
		return fmt.Errorf("failed to deliver metadata document: %w", err)
	}

	logger.DebugCtx(ctx, "Generated file metadata",
		logger.Project(payload.Project),
		logger.Path(path.String()),
		"identifier", doc.Identifier,
	)
	return nil
}

// document assembles the outbound description of one stored file.
func (g *Generator) document(ctx context.Context, project string, path resource.Path, record *models.FileRecord) *Document {
	var digest Digest
	if sum, err := checksum.Parse(record.Checksum); err == nil {
		digest = Digest{Algorithm: string(sum.Algorithm), Value: sum.Hex}
	}

	return &Document{
		Identifier:  uuid.New().URN(),
		Project:     project,
		Path:        path.String(),
		Name:        path.Base(),
		ContentType: g.contentType(ctx, project, path),
		ByteSize:    record.Size,
		Checksum:    digest,
		StoredAt:    record.StoredAt,
	}
}

// contentType resolves a MIME type from the file extension, falling back to
// sniffing the stored bytes when the name says nothing.
func (g *Generator) contentType(ctx context.Context, project string, path resource.Path) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path.Base())); byExt != "" {
		return byExt
	}

	f, err := g.spool.Open(project, path)
	if err != nil {
		logger.DebugCtx(ctx, "Content sniff skipped, payload unreadable",
			logger.Project(project),
			logger.Path(path.String()),
			logger.Err(err),
		)
		return contentTypeDefault
	}
	defer f.Close()

	head := bufpool.Get(sniffLen)
	defer bufpool.Put(head)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return contentTypeDefault
	}
	if n == 0 {
		return contentTypeDefault
	}
	return http.DetectContentType(head[:n])
}
