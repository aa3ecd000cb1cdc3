package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/pkg/catalog/models"
)

// ============================================
// API KEY OPERATIONS
// ============================================

func (s *GORMStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("invalid api key: %w", err)
	}
	_, err := createWithID(s.db, ctx, key, func(k *models.APIKey, id string) { k.ID = id }, key.ID, models.ErrDuplicateAPIKey)
	return err
}

func (s *GORMStore) GetAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	return getByField[models.APIKey](s.db, ctx, "id", id, models.ErrAPIKeyNotFound)
}

func (s *GORMStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	return listAll[models.APIKey](s.db, ctx)
}

func (s *GORMStore) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteByField[models.APIKey](s.db, ctx, "id", id, models.ErrAPIKeyNotFound)
}

func (s *GORMStore) SetAPIKeyEnabled(ctx context.Context, id string, enabled bool) error {
	result := s.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("enabled", enabled)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrAPIKeyNotFound
	}
	return nil
}

func (s *GORMStore) ValidateAPIKey(ctx context.Context, token string) (*models.APIKey, error) {
	id, secret, found := strings.Cut(token, ".")
	if !found || id == "" || secret == "" {
		return nil, models.ErrInvalidAPIKey
	}

	key, err := s.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrAPIKeyNotFound) {
			// Do not reveal whether the ID exists.
			return nil, models.ErrInvalidAPIKey
		}
		return nil, err
	}

	if !key.Enabled {
		return nil, models.ErrAPIKeyDisabled
	}

	if !key.CheckSecret(secret) {
		return nil, models.ErrInvalidAPIKey
	}

	return key, nil
}

func (s *GORMStore) TouchAPIKey(ctx context.Context, id string, timestamp time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", timestamp)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrAPIKeyNotFound
	}
	return nil
}

// ============================================
// ADMIN INITIALIZATION
// ============================================

// BootstrapKeyLabel is the label of the admin key minted on first start.
const BootstrapKeyLabel = "bootstrap-admin"

func (s *GORMStore) EnsureAdminKey(ctx context.Context) (string, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("role = ? AND enabled = ?", string(models.RoleAdmin), true).
		Count(&count).Error
	if err != nil {
		return "", fmt.Errorf("failed to check for admin keys: %w", err)
	}
	if count > 0 {
		return "", nil // an enabled admin key already exists
	}

	secret, err := models.GenerateSecret()
	if err != nil {
		return "", err
	}
	hash, err := models.HashSecret(secret)
	if err != nil {
		return "", err
	}

	key := &models.APIKey{
		ID:         uuid.NewString(),
		Label:      BootstrapKeyLabel,
		SecretHash: hash,
		Role:       string(models.RoleAdmin),
		Enabled:    true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return "", fmt.Errorf("failed to create bootstrap admin key: %w", err)
	}

	return key.ID + "." + secret, nil
}
