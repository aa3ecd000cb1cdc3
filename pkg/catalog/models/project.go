package models

import (
	"fmt"
	"time"
)

// Project is a tenant of the staging area. All files, uploads, locks and
// quota accounting are scoped to one project.
//
// Quota bookkeeping lives on the project row as two counters: CommittedBytes
// (durable files) and ReservedBytes (in-flight uploads). Both are mutated
// only through version-guarded updates; the Version column makes every
// mutation a compare-and-swap, so concurrent reservations can never lose an
// update regardless of backend isolation level.
type Project struct {
	// ID is the client-facing project identifier.
	ID string `gorm:"primaryKey;size:64" json:"id"`

	// QuotaBytes is the total allowance. CommittedBytes + ReservedBytes
	// never exceeds it.
	QuotaBytes int64 `gorm:"not null" json:"quota_bytes"`

	// CommittedBytes counts durable file content.
	CommittedBytes int64 `gorm:"not null;default:0" json:"committed_bytes"`

	// ReservedBytes counts space promised to in-flight operations.
	ReservedBytes int64 `gorm:"not null;default:0" json:"reserved_bytes"`

	// Version guards concurrent counter updates.
	Version uint64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Project.
func (Project) TableName() string {
	return "projects"
}

// FreeBytes returns the quota still available for new reservations.
func (p *Project) FreeBytes() int64 {
	free := p.QuotaBytes - p.CommittedBytes - p.ReservedBytes
	if free < 0 {
		return 0
	}
	return free
}

// Validate checks if the project has valid configuration.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if p.QuotaBytes < 0 {
		return fmt.Errorf("quota cannot be negative")
	}
	if p.CommittedBytes < 0 || p.ReservedBytes < 0 {
		return fmt.Errorf("usage counters cannot be negative")
	}
	return nil
}

// Reservation is a quota hold for one in-flight operation. It exists from
// reserve until commit or release; commit and release both delete the row,
// which is what makes them idempotent per reservation ID.
type Reservation struct {
	// ID is the reservation identifier handed back to the operation.
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// ProjectID scopes the reservation.
	ProjectID string `gorm:"index;not null;size:64" json:"project_id"`

	// Bytes is the reserved amount, released or converted on settlement.
	Bytes int64 `gorm:"not null" json:"bytes"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Reservation.
func (Reservation) TableName() string {
	return "reservations"
}
