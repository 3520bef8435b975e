package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"querydesk/internal/domain"
)

var _ domain.QueryRepository = (*QueryRepo)(nil)

// QueryRepo stores saved queries in SQLite.
type QueryRepo struct {
	db *sql.DB
}

// NewQueryRepo creates a new QueryRepo.
func NewQueryRepo(db *sql.DB) *QueryRepo {
	return &QueryRepo{db: db}
}

const queryColumns = `id, data_source_id, name, query_text, query_hash, parameters_json,
	latest_result_id, api_key, schedule, created_by, created_at, updated_at`

// Create inserts a new query. An API key is generated when none is set.
func (r *QueryRepo) Create(ctx context.Context, q *domain.Query) (*domain.Query, error) {
	if q.ID == "" {
		q.ID = domain.NewID()
	}
	if q.APIKey == "" {
		q.APIKey = domain.NewAPIKey()
	}
	params := q.Parameters
	if params == nil {
		params = []domain.Parameter{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO queries (id, data_source_id, name, query_text, query_hash, parameters_json,
		                     latest_result_id, api_key, schedule, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.ID, q.DataSourceID, q.Name, q.QueryText, q.QueryHash, string(paramsJSON),
		nullString(q.LatestResultID), q.APIKey, nullString(q.Schedule), q.CreatedBy)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, q.ID)
}

// GetByID returns a query by ID.
func (r *QueryRepo) GetByID(ctx context.Context, id string) (*domain.Query, error) {
	q, err := scanQuery(r.db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return q, nil
}

// GetByAPIKey returns the query owning the given API key.
func (r *QueryRepo) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Query, error) {
	return scanQuery(r.db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE api_key = ?`, apiKey))
}

// ListScheduled returns all queries with a refresh schedule.
func (r *QueryRepo) ListScheduled(ctx context.Context) ([]domain.Query, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queryColumns+` FROM queries WHERE schedule IS NOT NULL AND schedule != '' ORDER BY id
	`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// Delete removes a query. Results it pointed at are left in place.
func (r *QueryRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM queries WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("query %q not found", id)
	}
	return nil
}

// UpdateLatestResult points all queries with a matching fingerprint at resultID.
func (r *QueryRepo) UpdateLatestResult(ctx context.Context, dataSourceID, queryHash, resultID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE queries
		SET latest_result_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE data_source_id = ? AND query_hash = ?
		RETURNING id
	`, resultID, dataSourceID, queryHash)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan query id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanQuery(row rowScanner) (*domain.Query, error) {
	var (
		q                        domain.Query
		paramsJSON               string
		latestResultID, schedule sql.NullString
	)
	err := row.Scan(&q.ID, &q.DataSourceID, &q.Name, &q.QueryText, &q.QueryHash, &paramsJSON,
		&latestResultID, &q.APIKey, &schedule, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	q.LatestResultID = stringPtr(latestResultID)
	q.Schedule = stringPtr(schedule)
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &q.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	return &q, nil
}
