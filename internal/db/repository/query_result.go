package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"querydesk/internal/domain"
)

var _ domain.QueryResultRepository = (*QueryResultRepo)(nil)

// QueryResultRepo stores immutable query results in SQLite.
type QueryResultRepo struct {
	db *sql.DB
}

// NewQueryResultRepo creates a new QueryResultRepo.
func NewQueryResultRepo(db *sql.DB) *QueryResultRepo {
	return &QueryResultRepo{db: db}
}

const resultColumns = `id, data_source_id, query_hash, query_text, data_json, runtime_ms, retrieved_at`

// Create inserts a new result. RetrievedAt defaults to now.
func (r *QueryResultRepo) Create(ctx context.Context, res *domain.Result) (*domain.Result, error) {
	if res.ID == "" {
		res.ID = domain.NewID()
	}
	if res.RetrievedAt.IsZero() {
		res.RetrievedAt = time.Now()
	}
	res.RetrievedAt = res.RetrievedAt.UTC()

	data := res.Data
	if data.Columns == nil {
		data.Columns = []domain.Column{}
	}
	if data.Rows == nil {
		data.Rows = []domain.Row{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal result data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO query_results (id, data_source_id, query_hash, query_text, data_json, runtime_ms, retrieved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, res.ID, res.DataSourceID, res.QueryHash, res.QueryText, string(dataJSON),
		res.Runtime.Milliseconds(), res.RetrievedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, res.ID)
}

// GetByID returns a result by ID.
func (r *QueryResultRepo) GetByID(ctx context.Context, id string) (*domain.Result, error) {
	return scanResult(r.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM query_results WHERE id = ?`, id))
}

// GetLatest returns the most recently retrieved result for a fingerprint.
func (r *QueryResultRepo) GetLatest(ctx context.Context, dataSourceID, queryHash string) (*domain.Result, error) {
	return scanResult(r.db.QueryRowContext(ctx, `
		SELECT `+resultColumns+`
		FROM query_results
		WHERE data_source_id = ? AND query_hash = ?
		ORDER BY retrieved_at DESC, rowid DESC
		LIMIT 1
	`, dataSourceID, queryHash))
}

// DeleteUnused removes results retrieved before olderThan that no query points at.
func (r *QueryResultRepo) DeleteUnused(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM query_results
		WHERE retrieved_at < ?
		  AND id NOT IN (SELECT latest_result_id FROM queries WHERE latest_result_id IS NOT NULL)
	`, olderThan.UTC())
	if err != nil {
		return 0, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func scanResult(row rowScanner) (*domain.Result, error) {
	var (
		res       domain.Result
		dataJSON  string
		runtimeMs int64
	)
	err := row.Scan(&res.ID, &res.DataSourceID, &res.QueryHash, &res.QueryText, &dataJSON, &runtimeMs, &res.RetrievedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	res.Runtime = time.Duration(runtimeMs) * time.Millisecond
	if err := json.Unmarshal([]byte(dataJSON), &res.Data); err != nil {
		return nil, fmt.Errorf("unmarshal result data: %w", err)
	}
	return &res, nil
}
