package db

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	write := buildDSN("/tmp/meta.sqlite", ModeWrite, 2*time.Second)
	assert.True(t, strings.HasPrefix(write, "/tmp/meta.sqlite?"))
	assert.Contains(t, write, "_journal_mode=WAL")
	assert.Contains(t, write, "_busy_timeout=2000")
	assert.Contains(t, write, "_foreign_keys=on")
	assert.Contains(t, write, "_txlock=immediate")

	read := buildDSN("/tmp/meta.sqlite", ModeRead, defaultBusyTimeout)
	assert.Contains(t, read, "_busy_timeout=5000")
	assert.NotContains(t, read, "_txlock")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), "bogus", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpen_PoolSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      Options
		wantReads int
	}{
		{"defaults", Options{}, 4},
		{"custom", Options{ReadConns: 2, BusyTimeout: time.Second}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ms, err := Open(filepath.Join(t.TempDir(), "x.db"), tt.opts)
			require.NoError(t, err)
			t.Cleanup(func() { _ = ms.Close() })

			assert.Equal(t, 1, ms.Write.Stats().MaxOpenConnections)
			assert.Equal(t, tt.wantReads, ms.Read.Stats().MaxOpenConnections)

			var mode string
			require.NoError(t, ms.Read.QueryRow("PRAGMA journal_mode").Scan(&mode))
			assert.Equal(t, "wal", strings.ToLower(mode))
		})
	}
}

func TestOpenSQLite_WriteIgnoresMaxOpen(t *testing.T) {
	t.Parallel()

	pool, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), ModeWrite, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	assert.Equal(t, 1, pool.Stats().MaxOpenConnections)
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite("/nonexistent/dir/x.db", ModeWrite, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping sqlite")
}

func TestMigrate_CreatesSchema(t *testing.T) {
	t.Parallel()

	writeDB, readDB := OpenTestSQLite(t)

	for _, table := range []string{
		"principals", "groups", "group_members", "api_keys", "data_sources",
		"data_source_groups", "queries", "query_results", "jobs", "job_locks", "audit_log",
	} {
		var name string
		err := readDB.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}

	// Running again is a no-op at the same version.
	version, err := Migrate(context.Background(), writeDB)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestJobLocks_UniquePerFingerprint(t *testing.T) {
	t.Parallel()

	writeDB, _ := OpenTestSQLite(t)

	_, err := writeDB.Exec(`INSERT INTO jobs (id, data_source_id, query_hash, query_text, queue, state) VALUES ('j1', 'ds', 'h', 'SELECT 1', 'queries', 'waiting_in_queue')`)
	require.NoError(t, err)
	_, err = writeDB.Exec(`INSERT INTO job_locks (data_source_id, query_hash, job_id) VALUES ('ds', 'h', 'j1')`)
	require.NoError(t, err)

	_, err = writeDB.Exec(`INSERT INTO job_locks (data_source_id, query_hash, job_id) VALUES ('ds', 'h', 'j1')`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
}

func TestOpen_ConcurrentReads(t *testing.T) {
	t.Parallel()

	writeDB, readDB := OpenTestSQLite(t)
	_, err := writeDB.Exec(`INSERT INTO principals (id, name) VALUES ('p1', 'alice')`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			var n int
			errs[idx] = readDB.QueryRow(`SELECT count(*) FROM principals`).Scan(&n)
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		assert.NoError(t, e, "reader %d", i)
	}
}
