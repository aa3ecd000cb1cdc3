// Package badger implements the state store on BadgerDB.
//
// This implementation is suitable for:
//   - Embedded single-node deployments
//   - Development and testing without external services
//
// All mutations run inside BadgerDB managed transactions. Badger detects
// read-write conflicts at commit time; those surface to callers as
// state.ErrTxnConflict so the usual retry loop applies.
package badger

import (
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/stagefs/stagefs/pkg/state"
)

// Config holds the BadgerDB state store configuration.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string `mapstructure:"path" json:"path" yaml:"path"`

	// InMemory runs the store without persistence. Test use only.
	InMemory bool `mapstructure:"in_memory" json:"in_memory" yaml:"in_memory"`
}

// Store implements state.Store on a single BadgerDB database.
type Store struct {
	db *badgerdb.DB
}

// Compile-time interface check.
var _ state.Store = (*Store)(nil)

// New opens the BadgerDB state store.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger state store requires a path")
	}

	opts := badgerdb.DefaultOptions(cfg.Path)
	opts.Logger = nil
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger state store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// mapTxnError translates BadgerDB commit conflicts into the store-neutral
// retry signal. Other errors pass through untouched.
func mapTxnError(err error) error {
	if err == badgerdb.ErrConflict {
		return state.ErrTxnConflict
	}
	return err
}
