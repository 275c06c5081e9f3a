// Package storage defines the backend-agnostic database sink used to load
// extracted records, plus the registry backends add themselves to.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
type Config struct {
	// Kind must match a registered backend ("sqlite", "postgres", "mssql").
	Kind string
	// DSN is passed through to the backend; validation is backend-specific.
	DSN string
}

// Repository is the minimal set of operations the loader needs. Each backend
// implements them in its own idiom (COPY for Postgres, batched INSERT for
// SQLite and SQL Server).
type Repository interface {
	// Close releases connections. Call once.
	Close()

	// EnsureTables creates any missing tables. Existing tables are left as is.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InsertRows appends rows to table. Every row has len(columns) values;
	// nil values are stored as NULL. It returns the number of rows written.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is meant to be called
// from a backend package's init function and panics on an empty kind, a nil
// factory or a duplicate registration.
func Register(kind string, f Factory) {
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

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}
	return repo, nil
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
