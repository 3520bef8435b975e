package engine_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydesk/internal/domain"
	"querydesk/internal/engine"
)

func TestRegistry_RunSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "src.sqlite")
	seed, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = seed.ExecContext(ctx, `
		CREATE TABLE regions (name TEXT, value INTEGER, note BLOB);
		INSERT INTO regions VALUES ('north', 1, 'a'), ('south', 2, NULL);
	`)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	reg := engine.NewRegistry(nil)
	t.Cleanup(func() { _ = reg.Close() })

	ds := &domain.DataSource{ID: "ds-1", Name: "src", Type: domain.DataSourceTypeSQLite, Options: path}
	data, err := reg.Run(ctx, ds, "SELECT name, value, note FROM regions ORDER BY value")
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "value", "note"}, data.ColumnNames())
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "north", data.Rows[0]["name"])
	assert.Equal(t, int64(1), data.Rows[0]["value"])
	assert.Equal(t, "a", data.Rows[0]["note"], "byte slices become strings")
	assert.Nil(t, data.Rows[1]["note"])
}

func TestRegistry_RunDuckDBInMemory(t *testing.T) {
	t.Parallel()

	reg := engine.NewRegistry(nil)
	t.Cleanup(func() { _ = reg.Close() })

	ds := &domain.DataSource{ID: "duck", Name: "duck", Type: domain.DataSourceTypeDuckDB}
	data, err := reg.Run(context.Background(), ds, "SELECT 42 AS answer")
	require.NoError(t, err)
	require.Len(t, data.Rows, 1)
	assert.Equal(t, "answer", data.Columns[0].Name)
	assert.EqualValues(t, 42, data.Rows[0]["answer"])
}

func TestRegistry_EmptyResult(t *testing.T) {
	t.Parallel()

	reg := engine.NewRegistry(nil)
	t.Cleanup(func() { _ = reg.Close() })

	ds := &domain.DataSource{ID: "mem", Name: "mem", Type: domain.DataSourceTypeSQLite, Options: ":memory:"}
	data, err := reg.Run(context.Background(), ds, "SELECT 1 AS n WHERE 1 = 0")
	require.NoError(t, err)
	assert.NotNil(t, data.Rows)
	assert.Empty(t, data.Rows)
	assert.Equal(t, []string{"n"}, data.ColumnNames())
}

func TestRegistry_Errors(t *testing.T) {
	t.Parallel()

	reg := engine.NewRegistry(nil)
	t.Cleanup(func() { _ = reg.Close() })

	_, err := reg.Run(context.Background(), &domain.DataSource{ID: "x", Type: "oracle"}, "SELECT 1")
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)

	ds := &domain.DataSource{ID: "mem", Name: "mem", Type: domain.DataSourceTypeSQLite, Options: ":memory:"}
	_, err = reg.Run(context.Background(), ds, "SELEC nonsense")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute query")
}

func TestRegistry_ReopensOnOptionChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	reg := engine.NewRegistry(nil)
	t.Cleanup(func() { _ = reg.Close() })

	for i, name := range []string{"a.sqlite", "b.sqlite"} {
		ds := &domain.DataSource{ID: "same", Name: "s", Type: domain.DataSourceTypeSQLite, Options: filepath.Join(dir, name)}
		_, err := reg.Run(ctx, ds, "CREATE TABLE IF NOT EXISTS t (n INTEGER)")
		require.NoError(t, err)
		_, err = reg.Run(ctx, ds, "INSERT INTO t VALUES (1)")
		require.NoError(t, err)

		data, err := reg.Run(ctx, ds, "SELECT count(*) AS c FROM t")
		require.NoError(t, err)
		assert.EqualValues(t, 1, data.Rows[0]["c"], "pool %d points at its own file", i)
	}
}
