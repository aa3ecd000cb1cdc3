package store

import (
	"context"
	"fmt"
	"time"

	"github.com/stagefs/stagefs/pkg/catalog/models"
)

// ============================================
// UPLOAD SESSION OPERATIONS
// ============================================

func (s *GORMStore) CreateUpload(ctx context.Context, session *models.UploadSession) error {
	if session.State == "" {
		session.State = string(models.UploadStateActive)
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid upload session: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateUpload
		}
		return err
	}
	return nil
}

func (s *GORMStore) GetUpload(ctx context.Context, id string) (*models.UploadSession, error) {
	return getByField[models.UploadSession](s.db, ctx, "id", id, models.ErrUploadNotFound)
}

func (s *GORMStore) ListUploads(ctx context.Context, projectID string) ([]*models.UploadSession, error) {
	return listByField[models.UploadSession](s.db, ctx, "project_id", projectID, "created_at")
}

func (s *GORMStore) ListUploadsIdleSince(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error) {
	var sessions []*models.UploadSession
	err := s.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Order("updated_at").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *GORMStore) AdvanceUploadOffset(ctx context.Context, id string, oldOffset, newOffset int64) error {
	result := s.db.WithContext(ctx).
		Model(&models.UploadSession{}).
		Where("id = ? AND offset_bytes = ?", id, oldOffset).
		Update("offset_bytes", newOffset)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish a vanished session from a lost race on the offset.
		var session models.UploadSession
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}
		return models.ErrStaleUpload
	}
	return nil
}

func (s *GORMStore) SetUploadState(ctx context.Context, id string, state models.UploadState) error {
	result := s.db.WithContext(ctx).
		Model(&models.UploadSession{}).
		Where("id = ?", id).
		Update("state", string(state))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUploadNotFound
	}
	return nil
}

func (s *GORMStore) DeleteUpload(ctx context.Context, id string) error {
	return deleteByField[models.UploadSession](s.db, ctx, "id", id, models.ErrUploadNotFound)
}
