package models

import (
	"fmt"
	"time"
)

// UploadKind distinguishes what an upload session produces.
type UploadKind string

const (
	// UploadKindFile stages a single file at the session path.
	UploadKindFile UploadKind = "file"

	// UploadKindArchive stages an archive whose entries are extracted under
	// the session path after the bytes arrive.
	UploadKindArchive UploadKind = "archive"
)

// IsValid checks if the kind is a known UploadKind.
func (k UploadKind) IsValid() bool {
	return k == UploadKindFile || k == UploadKindArchive
}

// UploadState tracks an upload session through its life.
type UploadState string

const (
	// UploadStateActive accepts appends at the current offset.
	UploadStateActive UploadState = "active"

	// UploadStateFinalizing has all bytes and is being verified and
	// published, inline or by a background job. No further appends.
	UploadStateFinalizing UploadState = "finalizing"
)

// UploadSession is a resumable upload in progress. Appends land at exactly
// Offset; anything else is rejected without touching the workspace. The
// session owns a lock lease on its target path and a quota reservation for
// its expected size; both are settled when the session ends, on every exit
// path.
type UploadSession struct {
	// ID is the client-facing upload identifier.
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// ProjectID and Path name the target. For archive sessions Path is the
	// extraction directory ("" = project root).
	ProjectID string `gorm:"index;not null;size:64" json:"project_id"`
	Path      string `gorm:"not null;size:4096" json:"path"`

	// Kind says whether this stages a file or an archive.
	Kind string `gorm:"not null;size:16" json:"kind"`

	// State gates what the session accepts.
	State string `gorm:"not null;size:16" json:"state"`

	// Offset is the number of bytes received so far. The next append must
	// start exactly here. The column is named offset_bytes because OFFSET
	// is a reserved word in PostgreSQL.
	Offset int64 `gorm:"column:offset_bytes;not null;default:0" json:"offset"`

	// Size is the declared total length, or UnknownSize when the client
	// did not declare one.
	Size int64 `gorm:"not null" json:"size"`

	// ReservedBytes is the amount held against the project quota: the
	// declared size, or the configured maximum for size-unknown sessions.
	ReservedBytes int64 `gorm:"not null;default:0" json:"-"`

	// Checksum is the expected content digest in "algorithm:hex" form,
	// empty when the client supplied none.
	Checksum string `gorm:"size:128" json:"checksum,omitempty"`

	// LeaseID is the lock lease held on the target path.
	LeaseID string `gorm:"size:128" json:"-"`

	// Holder is the lease holder token for renew/release.
	Holder string `gorm:"size:64" json:"-"`

	// ReservationID is the quota reservation backing this session.
	ReservationID string `gorm:"size:36" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// UpdatedAt doubles as the idle clock: sessions untouched past the
	// expiry window are abandoned and swept.
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// UnknownSize marks a session whose total length was not declared. Quota is
// reserved against the configured per-upload maximum instead.
const UnknownSize int64 = -1

// TableName returns the table name for UploadSession.
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// SizeKnown reports whether the client declared a total length.
func (u *UploadSession) SizeKnown() bool {
	return u.Size != UnknownSize
}

// Complete reports whether all declared bytes have arrived.
func (u *UploadSession) Complete() bool {
	return u.SizeKnown() && u.Offset == u.Size
}

// Validate checks if the session has valid configuration.
func (u *UploadSession) Validate() error {
	if u.ProjectID == "" {
		return fmt.Errorf("project id is required")
	}
	if !UploadKind(u.Kind).IsValid() {
		return fmt.Errorf("invalid upload kind %q", u.Kind)
	}
	if u.Offset < 0 {
		return fmt.Errorf("offset cannot be negative")
	}
	if u.Size < UnknownSize {
		return fmt.Errorf("invalid size %d", u.Size)
	}
	return nil
}
