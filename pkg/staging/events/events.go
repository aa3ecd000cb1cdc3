// Package events is the outbound seam between the staging area and the
// metadata catalog. The staging core announces durable changes here; what
// happens downstream (metadata generation jobs, an external catalog client)
// is wired in by subscribers.
//
// Publishing is strictly after the fact: an event describes a change that is
// already durable, so delivery failures never unwind the change.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/stagefs/stagefs/internal/logger"
)

// Type names a kind of staging event.
type Type string

const (
	// TypeFileCommitted fires when a file becomes durable, whether by
	// upload finalize or archive extraction.
	TypeFileCommitted Type = "file.committed"

	// TypeFileDeleted fires when a durable file is removed, by client
	// request or by the retention sweeper.
	TypeFileDeleted Type = "file.deleted"
)

// Event is one durable change announcement.
type Event struct {
	// Type says what happened.
	Type Type `json:"type"`

	// Project and Path locate the file.
	Project string `json:"project"`
	Path    string `json:"path"`

	// Checksum ("algorithm:hex") and Size describe committed content.
	// Empty for deletions.
	Checksum string `json:"checksum,omitempty"`
	Size     int64  `json:"size,omitempty"`

	// OccurredAt is when the change became durable.
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher announces durable changes. Implementations must never block the
// calling operation for long and must never return the failure to it; the
// change already happened.
type Publisher interface {
	FileCommitted(ctx context.Context, project, path, checksum string, size int64)
	FileDeleted(ctx context.Context, project, path string)
}

// Handler consumes events. Handlers run synchronously on the publishing
// goroutine; anything slow should hand off to its own queue.
type Handler func(ctx context.Context, event Event)

// Bus is an in-process fan-out Publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// Compile-time interface check.
var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// FileCommitted implements Publisher.
func (b *Bus) FileCommitted(ctx context.Context, project, path, checksum string, size int64) {
	b.publish(ctx, Event{
		Type:       TypeFileCommitted,
		Project:    project,
		Path:       path,
		Checksum:   checksum,
		Size:       size,
		OccurredAt: time.Now(),
	})
}

// FileDeleted implements Publisher.
func (b *Bus) FileDeleted(ctx context.Context, project, path string) {
	b.publish(ctx, Event{
		Type:       TypeFileDeleted,
		Project:    project,
		Path:       path,
		OccurredAt: time.Now(),
	})
}

func (b *Bus) publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			// A misbehaving subscriber must not take down the operation
			// that produced the event.
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Event handler panicked",
						"type", string(event.Type),
						"project", event.Project,
						"panic", r)
				}
			}()
			handler(ctx, event)
		}()
	}
}

// NopPublisher discards all events. Used when no downstream consumer is
// configured.
type NopPublisher struct{}

// Compile-time interface check.
var _ Publisher = NopPublisher{}

func (NopPublisher) FileCommitted(context.Context, string, string, string, int64) {}
func (NopPublisher) FileDeleted(context.Context, string, string)                  {}
