package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Field-level rules (required values, enumerations, ranges) live in the
// struct tags and are enforced with the validator library. Rules that
// depend on which backend or feature is active are checked explicitly,
// because a tag cannot express "postgres credentials are required only
// when postgres is selected".
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	// Backend-selecting sections validate only their active branch.
	if err := cfg.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := validateState(&cfg.State); err != nil {
		return err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("storage root: %w", err)
	}

	// Telemetry needs somewhere to send traces once enabled.
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}

	return nil
}

// validateState checks the state store section against its selected backend.
func validateState(cfg *StateConfig) error {
	switch cfg.Type {
	case StateStoreBadger:
		if cfg.Badger.Path == "" && !cfg.Badger.InMemory {
			return fmt.Errorf("state: badger path is required")
		}
	case StateStorePostgres:
		if err := cfg.Postgres.Validate(); err != nil {
			return fmt.Errorf("state: %w", err)
		}
	default:
		return fmt.Errorf("state: unsupported store type: %s", cfg.Type)
	}
	return nil
}
