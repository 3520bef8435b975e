package repository

import (
	"context"
	"database/sql"
	"strings"

	"querydesk/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo stores the access and execution audit trail.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Insert appends an audit entry.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, principal_name, action, data_source_id, query_id, query_hash, status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.PrincipalName, e.Action, nullString(e.DataSourceID), nullString(e.QueryID),
		nullString(e.QueryHash), e.Status, nullString(e.Detail))
	return mapDBError(err)
}

// List returns audit entries matching the filter, newest first.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.PrincipalName != nil {
		where = append(where, "principal_name = ?")
		args = append(args, *filter.PrincipalName)
	}
	if filter.Action != nil {
		where = append(where, "action = ?")
		args = append(args, *filter.Action)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}

	stmt := `SELECT id, principal_name, action, data_source_id, query_id, query_hash, status, detail, created_at
		FROM audit_log`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	stmt += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var dsID, queryID, queryHash, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.PrincipalName, &e.Action, &dsID, &queryID, &queryHash,
			&e.Status, &detail, &e.CreatedAt); err != nil {
			return nil, mapDBError(err)
		}
		e.DataSourceID = stringPtr(dsID)
		e.QueryID = stringPtr(queryID)
		e.QueryHash = stringPtr(queryHash)
		e.Detail = stringPtr(detail)
		out = append(out, e)
	}
	return out, rows.Err()
}
