// Package engine runs query text against registered data sources.
//
// Each data source gets one pooled *sql.DB, opened lazily on first use and
// reused for every later execution. DuckDB and SQLite are supported.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // registers the duckdb driver
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver

	"querydesk/internal/domain"
)

var _ domain.QueryRunner = (*Registry)(nil)

// driverNames maps data source types to database/sql driver names.
var driverNames = map[string]string{
	domain.DataSourceTypeDuckDB: "duckdb",
	domain.DataSourceTypeSQLite: "sqlite3",
}

type pool struct {
	options string
	db      *sql.DB
}

// Registry implements domain.QueryRunner over a cache of database pools keyed
// by data source ID.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*pool
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{entries: make(map[string]*pool), logger: logger}
}

// Run executes queryText against ds and materializes the full row set.
func (r *Registry) Run(ctx context.Context, ds *domain.DataSource, queryText string) (*domain.ResultData, error) {
	db, err := r.open(ds)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	data, err := scanData(rows)
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	return data, nil
}

// open returns the pool for ds, creating it on first use. A data source whose
// options changed since the pool was opened gets a fresh pool.
func (r *Registry) open(ds *domain.DataSource) (*sql.DB, error) {
	r.mu.RLock()
	if p, ok := r.entries[ds.ID]; ok && p.options == ds.Options {
		r.mu.RUnlock()
		return p.db, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if p, ok := r.entries[ds.ID]; ok {
		if p.options == ds.Options {
			return p.db, nil
		}
		_ = p.db.Close()
		delete(r.entries, ds.ID)
	}

	driver, ok := driverNames[ds.Type]
	if !ok {
		return nil, domain.ErrValidation("unsupported data source type %q", ds.Type)
	}
	db, err := sql.Open(driver, ds.Options)
	if err != nil {
		return nil, fmt.Errorf("open %s data source %q: %w", ds.Type, ds.Name, err)
	}
	if ds.Options == "" || ds.Options == ":memory:" {
		// In-memory databases are per connection.
		db.SetMaxOpenConns(1)
	}

	r.entries[ds.ID] = &pool{options: ds.Options, db: db}
	r.logger.Info("opened data source pool", "data_source", ds.Name, "type", ds.Type)
	return db, nil
}

// Close closes every open pool.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, p := range r.entries {
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close pool %s: %w", id, err)
		}
		delete(r.entries, id)
	}
	return firstErr
}
