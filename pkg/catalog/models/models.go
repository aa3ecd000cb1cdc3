// Package models defines the catalog records and their sentinel errors.
package models

// AllModels returns all models for auto-migration.
func AllModels() []any {
	return []any{
		&Project{},
		&Reservation{},
		&FileRecord{},
		&UploadSession{},
		&Task{},
		&APIKey{},
	}
}
