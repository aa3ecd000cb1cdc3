package models

import "time"

// FileRecord is the catalog entry for one durable file in a project's
// staging tree. The row is written in the same breath as the atomic rename
// that publishes the file; a path either has a record and content, or
// neither.
type FileRecord struct {
	// ID is a stable identifier, independent of the path.
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// ProjectID plus Path locate the file. One record per live path.
	ProjectID string `gorm:"uniqueIndex:idx_files_project_path;not null;size:64" json:"project_id"`
	Path      string `gorm:"uniqueIndex:idx_files_project_path;not null;size:4096" json:"path"`

	// Size is the content length in bytes.
	Size int64 `gorm:"not null" json:"size"`

	// Checksum is the verified content digest in "algorithm:hex" form.
	Checksum string `gorm:"size:128" json:"checksum"`

	// Source notes how the file arrived: "upload" or "archive".
	Source string `gorm:"size:32" json:"source,omitempty"`

	// StoredAt is when the file became durable.
	StoredAt time.Time `gorm:"index;not null" json:"stored_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for FileRecord.
func (FileRecord) TableName() string {
	return "files"
}

// File arrival sources.
const (
	FileSourceUpload  = "upload"
	FileSourceArchive = "archive"
)
