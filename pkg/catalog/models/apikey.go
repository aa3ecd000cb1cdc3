package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// KeyRole represents what an API key may do.
type KeyRole string

const (
	// RoleReader may read files and poll tasks.
	RoleReader KeyRole = "reader"

	// RoleWriter may additionally upload, extract and delete.
	RoleWriter KeyRole = "writer"

	// RoleAdmin may additionally manage projects and keys. Admin keys are
	// not bound to a project.
	RoleAdmin KeyRole = "admin"
)

// IsValid checks if the role is a known KeyRole.
func (r KeyRole) IsValid() bool {
	return r == RoleReader || r == RoleWriter || r == RoleAdmin
}

// CanWrite reports whether the role allows mutating operations.
func (r KeyRole) CanWrite() bool {
	return r == RoleWriter || r == RoleAdmin
}

// APIKey authenticates a client. The wire token is "<id>.<secret>"; only
// the bcrypt hash of the secret is stored.
type APIKey struct {
	// ID is the public half of the token.
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Label is a human-readable name for key management.
	Label string `gorm:"not null;size:255" json:"label"`

	// SecretHash is the bcrypt hash of the secret half.
	SecretHash string `gorm:"not null" json:"-"`

	// ProjectID scopes the key to one project. Empty for admin keys.
	ProjectID string `gorm:"index;size:64" json:"project_id,omitempty"`

	// Role is the permission level.
	Role string `gorm:"not null;size:16" json:"role"`

	// Enabled allows revoking a key without deleting its record.
	Enabled bool `gorm:"default:true" json:"enabled"`

	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// TableName returns the table name for APIKey.
func (APIKey) TableName() string {
	return "api_keys"
}

// GetRole returns the key's role as a KeyRole type.
func (k *APIKey) GetRole() KeyRole {
	return KeyRole(k.Role)
}

// IsAdmin checks if the key has the admin role.
func (k *APIKey) IsAdmin() bool {
	return k.Role == string(RoleAdmin)
}

// Allows reports whether the key may act on the given project.
func (k *APIKey) Allows(projectID string) bool {
	return k.IsAdmin() || k.ProjectID == projectID
}

// Validate checks if the key has valid configuration.
func (k *APIKey) Validate() error {
	if k.Label == "" {
		return fmt.Errorf("label is required")
	}
	if !KeyRole(k.Role).IsValid() {
		return fmt.Errorf("invalid role %q", k.Role)
	}
	if k.Role != string(RoleAdmin) && k.ProjectID == "" {
		return fmt.Errorf("non-admin keys must be bound to a project")
	}
	return nil
}

// GenerateSecret produces a new random key secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret hashes a key secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key secret: %w", err)
	}
	return string(hash), nil
}

// CheckSecret compares a presented secret against the stored hash.
func (k *APIKey) CheckSecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)) == nil
}
