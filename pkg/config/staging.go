package config

import (
	"context"
	"fmt"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/state"
	badgerstate "github.com/stagefs/stagefs/pkg/state/badger"
	pgstate "github.com/stagefs/stagefs/pkg/state/postgres"
	"github.com/stagefs/stagefs/pkg/staging/archive"
	"github.com/stagefs/stagefs/pkg/staging/events"
	"github.com/stagefs/stagefs/pkg/staging/finalize"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/metadata"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/sweep"
	"github.com/stagefs/stagefs/pkg/staging/upload"
)

// Staging is the assembled staging service graph: stores at the bottom,
// the upload/archive/metadata services on top, with the dispatcher and
// sweeper around them.
//
// Build one with InitializeStaging; tear it down with Close.
type Staging struct {
	Catalog *store.GORMStore
	State   state.Store
	Spool   *spool.Spool
	Bus     *events.Bus

	Locks      *lock.Manager
	Ledger     *quota.Ledger
	Dispatcher *jobs.Dispatcher
	Finalizer  *finalize.Finalizer
	Uploads    *upload.Service
	Archives   *archive.Extractor
	Metadata   *metadata.Generator
	Sweeper    *sweep.Sweeper
}

// InitializeStaging creates the fully wired staging service graph from the
// provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Opens the catalog database and the state store
//  2. Opens the staging spool on disk
//  3. Builds the lock manager, quota ledger, and job dispatcher
//  4. Builds the upload, finalize, archive, and metadata services
//  5. Registers every job handler and binds the metadata generator to
//     the event bus
//
// Job workers and the sweeper are wired but not running; the caller
// decides when to call Dispatcher.Start and Sweeper.Start.
//
// The metrics result may be nil (or carry nil recorders) to run without
// instrumentation.
func InitializeStaging(ctx context.Context, cfg *Config, m *MetricsResult) (*Staging, error) {
	if m == nil {
		m = &MetricsResult{}
	}

	logger.Debug("Initializing staging services from configuration")

	catalog, err := store.New(&cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	logger.Info("Catalog opened", "type", cfg.Catalog.Type)

	stateStore, err := createStateStore(ctx, cfg)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}
	logger.Info("State store opened", "type", cfg.State.Type)

	sp, err := spool.New(cfg.Storage)
	if err != nil {
		_ = stateStore.Close()
		_ = catalog.Close()
		return nil, fmt.Errorf("failed to open spool: %w", err)
	}
	logger.Info("Spool opened", "root", cfg.Storage.Root)

	bus := events.NewBus()
	locks := lock.NewManager(stateStore, cfg.Lock, m.Lock)
	ledger := quota.NewLedger(catalog, m.Quota)
	dispatcher := jobs.NewDispatcher(stateStore, catalog, cfg.Jobs, m.Jobs)

	finalizer := finalize.New(catalog, sp, ledger, locks, bus)
	uploads := upload.NewService(catalog, sp, locks, ledger, finalizer, dispatcher, cfg.Upload, m.Upload)
	archives := archive.New(catalog, sp, locks, ledger, bus)
	generator := metadata.New(catalog, sp, nil, dispatcher)
	sweeper := sweep.New(catalog, sp, locks, ledger, bus, nil, cfg.Sweep, m.Sweep)

	// Every job kind gets its handler before the dispatcher starts, so a
	// queue drained from a previous run never sees an unknown kind.
	uploads.RegisterHandlers(dispatcher)
	archives.RegisterHandlers(dispatcher)
	generator.RegisterHandlers(dispatcher)
	generator.Bind(bus)

	return &Staging{
		Catalog:    catalog,
		State:      stateStore,
		Spool:      sp,
		Bus:        bus,
		Locks:      locks,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Finalizer:  finalizer,
		Uploads:    uploads,
		Archives:   archives,
		Metadata:   generator,
		Sweeper:    sweeper,
	}, nil
}

// createStateStore creates the state store selected by configuration.
func createStateStore(ctx context.Context, cfg *Config) (state.Store, error) {
	switch cfg.State.Type {
	case StateStoreBadger, "":
		s, err := badgerstate.New(cfg.State.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger state store: %w", err)
		}
		return s, nil

	case StateStorePostgres:
		s, err := pgstate.New(ctx, &cfg.State.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres state store: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown state store type: %q", cfg.State.Type)
	}
}

// Close tears the service graph down in dependency order: spool first so
// in-flight publishes fail fast, stores last.
func (s *Staging) Close() error {
	var firstErr error

	if err := s.Spool.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close spool: %w", err)
	}
	if err := s.State.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close state store: %w", err)
	}
	if err := s.Catalog.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close catalog: %w", err)
	}

	return firstErr
}
