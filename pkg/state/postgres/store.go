// Package postgres implements the state store on PostgreSQL.
//
// This implementation is suitable for:
//   - Distributed multi-node deployments sharing one lease and queue space
//   - Production setups where the spool lives on shared storage
//
// Storage Model:
//   - leases table: one row per lock lease, serialized per project through
//     transaction-scoped advisory locks
//   - jobs table: one row per queued job, dequeued with FOR UPDATE SKIP
//     LOCKED so concurrent workers never contend on the same row
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/state"
)

// Store implements state.Store on a PostgreSQL database.
type Store struct {
	pool   *pgxpool.Pool
	config *Config
	logger *slog.Logger
}

// Compile-time interface check.
var _ state.Store = (*Store)(nil)

// New creates a PostgreSQL-backed state store.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	cfg.ApplyDefaults()

	log := logger.With("component", "postgres_state_store")

	pool, err := createConnectionPool(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if cfg.AutoMigrate {
		log.Info("AutoMigrate is enabled, running migrations...")
		if err := runMigrations(ctx, cfg.ConnectionString(), log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	} else {
		log.Info("AutoMigrate is disabled, skipping migrations")
		log.Info("Run 'stagefs migrate' to apply migrations manually")
	}

	log.Info("PostgreSQL state store initialized successfully",
		"host", cfg.Host,
		"database", cfg.Database,
		"max_conns", cfg.MaxConns,
	)

	return &Store{
		pool:   pool,
		config: cfg,
		logger: log,
	}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *Store) Close() error {
	s.logger.Info("Closing PostgreSQL state store...")
	s.pool.Close()
	return nil
}

// createConnectionPool creates a new PostgreSQL connection pool with the
// given configuration.
func createConnectionPool(ctx context.Context, cfg *Config, log *slog.Logger) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	if cfg.QueryTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%dms", cfg.QueryTimeout.Milliseconds())
	}

	log.Info("Creating PostgreSQL connection pool",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"user", cfg.User,
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
		"ssl_mode", cfg.SSLMode,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return pool, nil
}

// withTx executes fn within a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return mapTxnError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTxnError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// mapTxnError translates PostgreSQL serialization and deadlock failures into
// the store-neutral retry signal. Other errors pass through untouched.
func mapTxnError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return state.ErrTxnConflict
		}
	}
	return err
}
