package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql

	"github.com/stagefs/stagefs/pkg/state/postgres/migrations"
)

// runMigrations executes database migrations using golang-migrate.
// golang-migrate takes a PostgreSQL advisory lock, so concurrent instances
// never run migrations at the same time.
func runMigrations(ctx context.Context, connString string, log *slog.Logger) error {
	log.Info("Running database migrations...")

	// golang-migrate requires database/sql
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "state_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err == migrate.ErrNoChange {
		log.Info("No migrations to apply (database is up to date)")
	} else {
		log.Info("Migrations completed successfully")
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Info("No migrations applied yet")
	} else {
		log.Info("Current schema version",
			"version", version,
			"dirty", dirty,
		)
		if dirty {
			log.Warn("Database schema is in dirty state - manual intervention may be required")
		}
	}

	return nil
}

// RunMigrations applies pending migrations. Called from the migrate CLI
// command.
func RunMigrations(ctx context.Context, cfg *Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return runMigrations(ctx, cfg.ConnectionString(), slog.Default())
}
