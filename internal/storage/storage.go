// Package storage defines the backend-agnostic store interface for the
// import pipeline plus the factory registry that backends attach to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStoreFailure marks a fatal storage error (connection loss, failed
// transaction). The file being loaded is reported failed and rolled back;
// other files are unaffected.
var ErrStoreFailure = errors.New("storage: store failure")

// Config is the minimal configuration needed to create a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Store is the narrow interface the pipeline loads through. Each backend
// implements the same semantics in its own idiomatic way (Postgres
// ON CONFLICT, SQLite OR IGNORE, MSSQL NOT EXISTS).
type Store interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// EnsureTables creates the fixed target tables with create-if-not-exists
	// semantics. Idempotent; safe to call on every run.
	EnsureTables(ctx context.Context) error

	// ExistingKeys returns the canonical composite-key set currently present
	// for table over keyColumns (see CompositeKey). Used for the
	// duplicate-in-store pre-check and for referential filtering.
	ExistingKeys(ctx context.Context, table string, keyColumns []string) (map[string]struct{}, error)

	// InsertRows appends rows inside a single transaction; any fatal error
	// rolls the whole call back. When dedupeColumns is non-empty the insert
	// is idempotent on those columns: a constraint conflict is skipped by the
	// engine, never surfaced as an error. Returns rows actually inserted.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "sqlite", "postgres").
// Called from backend init(). Re-registering a kind panics: failing fast
// beats ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
