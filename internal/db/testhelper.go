package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite returns a migrated metastore in a temp dir. Most tests only
// need the write pool.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	ms, err := Open(filepath.Join(t.TempDir(), "meta.sqlite"), Options{})
	if err != nil {
		t.Fatalf("open metastore: %v", err)
	}
	t.Cleanup(func() { _ = ms.Close() })

	if _, err := Migrate(context.Background(), ms.Write); err != nil {
		t.Fatalf("migrate metastore: %v", err)
	}
	return ms.Write, ms.Read
}
