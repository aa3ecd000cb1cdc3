package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/pkg/catalog/models"
)

// ============================================
// TASK OPERATIONS
// ============================================

func (s *GORMStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.State == "" {
		task.State = string(models.TaskStateQueued)
	}
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *GORMStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getByField[models.Task](s.db, ctx, "id", id, models.ErrTaskNotFound)
}

func (s *GORMStore) ListTasks(ctx context.Context, projectID string, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	q := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *GORMStore) MarkTaskRunning(ctx context.Context, id string, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      string(models.TaskStateRunning),
			"started_at": startedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

func (s *GORMStore) RequeueTask(ctx context.Context, id string, message string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":   string(models.TaskStateQueued),
			"message": message,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

func (s *GORMStore) MarkTaskFinished(ctx context.Context, id string, state models.TaskState, message string, finishedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":       string(state),
			"message":     message,
			"finished_at": finishedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

func (s *GORMStore) DeleteTasksFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).
		Delete(&models.Task{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
