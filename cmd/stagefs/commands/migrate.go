package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/config"
	pgstate "github.com/stagefs/stagefs/pkg/state/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the catalog and state databases.

This command applies pending migrations to the configured catalog database
(SQLite or PostgreSQL) and, when the state store runs on PostgreSQL, to the
state schema holding lock leases and job queues. It is required after
upgrading stagefs when schema changes have been made.

Examples:
  # Run migrations with default config
  stagefs migrate

  # Run migrations with custom config
  stagefs migrate --config /etc/stagefs/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	logger.Info("Running catalog migrations", "type", cfg.Catalog.Type)

	// Opening the catalog store triggers auto-migration
	catalog, err := store.New(&cfg.Catalog)
	if err != nil {
		return fmt.Errorf("catalog migration failed: %w", err)
	}
	defer func() { _ = catalog.Close() }()

	// Verify the migration worked by checking if we can query projects
	if _, err := catalog.ListProjects(ctx); err != nil {
		return fmt.Errorf("catalog migration verification failed: %w", err)
	}

	// The badger state store needs no migrations; postgres does.
	if cfg.State.Type == config.StateStorePostgres {
		logger.Info("Running state store migrations", "type", cfg.State.Type)
		if err := pgstate.RunMigrations(ctx, &cfg.State.Postgres); err != nil {
			return fmt.Errorf("state store migration failed: %w", err)
		}
	}

	fmt.Printf("Migrations completed successfully (catalog: %s, state: %s)\n", cfg.Catalog.Type, cfg.State.Type)
	return nil
}
