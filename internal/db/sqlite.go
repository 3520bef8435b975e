// Package db opens the querydesk metastore and applies its schema.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Mode selects how a metastore pool is configured.
type Mode string

// Pool modes. The write pool holds a single connection and begins every
// transaction IMMEDIATE, which is what makes the job lock insert-if-absent
// atomic across concurrent submitters.
const (
	ModeWrite Mode = "write"
	ModeRead  Mode = "read"
)

const (
	defaultReadConns   = 4
	defaultBusyTimeout = 5 * time.Second
)

// Options tune the metastore pools. Zero values pick the defaults.
type Options struct {
	ReadConns   int
	BusyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadConns <= 0 {
		o.ReadConns = defaultReadConns
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}
	return o
}

// Metastore is the write/read pool pair over one SQLite file.
type Metastore struct {
	Write *sql.DB
	Read  *sql.DB
}

// Open opens both pools for the SQLite file at path.
func Open(path string, opts Options) (*Metastore, error) {
	opts = opts.withDefaults()

	write, err := openPool(path, ModeWrite, 1, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	read, err := openPool(path, ModeRead, opts.ReadConns, opts.BusyTimeout)
	if err != nil {
		_ = write.Close()
		return nil, err
	}
	return &Metastore{Write: write, Read: read}, nil
}

// Close closes both pools.
func (m *Metastore) Close() error {
	return errors.Join(m.Read.Close(), m.Write.Close())
}

// OpenSQLite opens a single pool. maxOpen only applies to read pools; write
// pools are always limited to one connection.
func OpenSQLite(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	switch mode {
	case ModeWrite:
		maxOpen = 1
	case ModeRead:
		if maxOpen <= 0 {
			maxOpen = defaultReadConns
		}
	default:
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}
	return openPool(path, mode, maxOpen, defaultBusyTimeout)
}

func openPool(path string, mode Mode, conns int, busy time.Duration) (*sql.DB, error) {
	pool, err := sql.Open("sqlite3", buildDSN(path, mode, busy))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}
	pool.SetMaxOpenConns(conns)
	pool.SetMaxIdleConns(conns)
	pool.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return pool, nil
}

func buildDSN(path string, mode Mode, busy time.Duration) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
