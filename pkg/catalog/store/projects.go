package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/stagefs/stagefs/pkg/catalog/models"
)

// ============================================
// PROJECT OPERATIONS
// ============================================

func (s *GORMStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return getByField[models.Project](s.db, ctx, "id", id, models.ErrProjectNotFound)
}

func (s *GORMStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return listAll[models.Project](s.db, ctx)
}

func (s *GORMStore) CreateProject(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateProject
		}
		return err
	}
	return nil
}

func (s *GORMStore) UpdateProjectQuota(ctx context.Context, id string, quotaBytes int64) error {
	if quotaBytes < 0 {
		return fmt.Errorf("quota cannot be negative")
	}

	// Bumping the version invalidates any reservation that read the old
	// quota, forcing it to retry against the new limit.
	result := s.db.WithContext(ctx).
		Model(&models.Project{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"quota_bytes": quotaBytes,
			"version":     gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrProjectNotFound
	}
	return nil
}

func (s *GORMStore) DeleteProject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", id).First(&project).Error; err != nil {
			return convertNotFoundError(err, models.ErrProjectNotFound)
		}

		// Delete dependent records
		if err := tx.Where("project_id = ?", id).Delete(&models.Reservation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.FileRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.UploadSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}

		return tx.Delete(&project).Error
	})
}

// ============================================
// QUOTA RESERVATION OPERATIONS
// ============================================

func (s *GORMStore) ReserveBytes(ctx context.Context, projectID, reservationID string, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("cannot reserve a negative amount")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", projectID).First(&project).Error; err != nil {
			return convertNotFoundError(err, models.ErrProjectNotFound)
		}

		if bytes > project.FreeBytes() {
			return models.ErrInsufficientQuota
		}

		if err := casProjectCounters(tx, &project, map[string]any{
			"reserved_bytes": project.ReservedBytes + bytes,
		}); err != nil {
			return err
		}

		reservation := &models.Reservation{
			ID:        reservationID,
			ProjectID: projectID,
			Bytes:     bytes,
		}
		return tx.Create(reservation).Error
	})
}

func (s *GORMStore) CommitReservation(ctx context.Context, projectID, reservationID string, actualBytes int64) error {
	if actualBytes < 0 {
		return fmt.Errorf("cannot commit a negative amount")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, project, err := loadReservation(tx, projectID, reservationID)
		if err != nil {
			return err
		}

		// Callers reserve pessimistically, so landing more bytes than were
		// held means the admission check was bypassed.
		if actualBytes > reservation.Bytes {
			return fmt.Errorf("%w: reserved %d, committing %d",
				models.ErrOverCommit, reservation.Bytes, actualBytes)
		}

		if err := casProjectCounters(tx, project, map[string]any{
			"reserved_bytes":  clampBytes(project.ReservedBytes - reservation.Bytes),
			"committed_bytes": project.CommittedBytes + actualBytes,
		}); err != nil {
			return err
		}

		// Removing the row is what makes a second settlement of the same
		// reservation report ErrReservationNotFound instead of double
		// counting.
		return tx.Delete(reservation).Error
	})
}

func (s *GORMStore) ReleaseReservation(ctx context.Context, projectID, reservationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, project, err := loadReservation(tx, projectID, reservationID)
		if err != nil {
			return err
		}

		if err := casProjectCounters(tx, project, map[string]any{
			"reserved_bytes": clampBytes(project.ReservedBytes - reservation.Bytes),
		}); err != nil {
			return err
		}

		return tx.Delete(reservation).Error
	})
}

func (s *GORMStore) ReleaseCommitted(ctx context.Context, projectID string, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("cannot release a negative amount")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", projectID).First(&project).Error; err != nil {
			return convertNotFoundError(err, models.ErrProjectNotFound)
		}

		return casProjectCounters(tx, &project, map[string]any{
			"committed_bytes": clampBytes(project.CommittedBytes - bytes),
		})
	})
}

func (s *GORMStore) ListReservations(ctx context.Context, projectID string) ([]*models.Reservation, error) {
	return listByField[models.Reservation](s.db, ctx, "project_id", projectID, "created_at")
}

// casProjectCounters applies a counter update guarded by the version the
// project was read at. Zero rows affected means another writer got there
// first; the caller surfaces ErrStaleProject and retries from a fresh read.
func casProjectCounters(tx *gorm.DB, project *models.Project, updates map[string]any) error {
	updates["version"] = project.Version + 1

	result := tx.Model(&models.Project{}).
		Where("id = ? AND version = ?", project.ID, project.Version).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrStaleProject
	}
	return nil
}

// loadReservation fetches a reservation and its project inside a transaction.
func loadReservation(tx *gorm.DB, projectID, reservationID string) (*models.Reservation, *models.Project, error) {
	var reservation models.Reservation
	if err := tx.Where("id = ? AND project_id = ?", reservationID, projectID).First(&reservation).Error; err != nil {
		return nil, nil, convertNotFoundError(err, models.ErrReservationNotFound)
	}

	var project models.Project
	if err := tx.Where("id = ?", projectID).First(&project).Error; err != nil {
		return nil, nil, convertNotFoundError(err, models.ErrProjectNotFound)
	}

	return &reservation, &project, nil
}

func clampBytes(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
