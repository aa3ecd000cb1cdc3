package store

import (
	"context"
	"time"

	"github.com/stagefs/stagefs/pkg/catalog/models"
)

// ============================================
// FILE RECORD OPERATIONS
// ============================================

func (s *GORMStore) CreateFile(ctx context.Context, file *models.FileRecord) (string, error) {
	if file.StoredAt.IsZero() {
		file.StoredAt = time.Now()
	}
	return createWithID(s.db, ctx, file, func(f *models.FileRecord, id string) { f.ID = id }, file.ID, models.ErrDuplicateFile)
}

func (s *GORMStore) GetFile(ctx context.Context, projectID, path string) (*models.FileRecord, error) {
	var file models.FileRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND path = ?", projectID, path).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

func (s *GORMStore) ListFiles(ctx context.Context, projectID, prefix string) ([]*models.FileRecord, error) {
	var files []*models.FileRecord
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if prefix != "" {
		// The prefix names a directory: match the path itself and
		// everything below it, never "data/set10" for prefix "data/set1".
		q = q.Where("(path = ? OR path LIKE ?)", prefix, prefix+"/%")
	}
	if err := q.Order("path").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (s *GORMStore) ListFilesStoredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.FileRecord, error) {
	var files []*models.FileRecord
	q := s.db.WithContext(ctx).
		Where("stored_at < ?", cutoff).
		Order("stored_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (s *GORMStore) DeleteFile(ctx context.Context, projectID, path string) error {
	result := s.db.WithContext(ctx).
		Where("project_id = ? AND path = ?", projectID, path).
		Delete(&models.FileRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

func (s *GORMStore) DeleteFilesByPrefix(ctx context.Context, projectID, prefix string) (int64, error) {
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if prefix != "" {
		q = q.Where("(path = ? OR path LIKE ?)", prefix, prefix+"/%")
	}
	result := q.Delete(&models.FileRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
