package repository

import (
	"context"
	"database/sql"
	"fmt"

	"querydesk/internal/db/crypto"
	"querydesk/internal/domain"
)

var _ domain.DataSourceRepository = (*DataSourceRepo)(nil)

// DataSourceRepo stores data sources and their group attachments in SQLite.
type DataSourceRepo struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

// NewDataSourceRepo creates a new DataSourceRepo.
func NewDataSourceRepo(db *sql.DB) *DataSourceRepo {
	return &DataSourceRepo{db: db}
}

// WithCipher seals the options column with c. Connection options often carry
// credentials.
func (r *DataSourceRepo) WithCipher(c *crypto.Cipher) *DataSourceRepo {
	r.cipher = c
	return r
}

const dataSourceColumns = `id, name, type, options, view_only, paused, pause_reason,
	queue_name, scheduled_queue_name, created_at`

// Create inserts a data source together with its group attachments.
func (r *DataSourceRepo) Create(ctx context.Context, ds *domain.DataSource) (*domain.DataSource, error) {
	if ds.ID == "" {
		ds.ID = domain.NewID()
	}

	options, err := r.cipher.Seal(ds.Options)
	if err != nil {
		return nil, fmt.Errorf("seal options: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO data_sources (id, name, type, options, view_only, paused, pause_reason, queue_name, scheduled_queue_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ds.ID, ds.Name, ds.Type, options, boolToInt(ds.ViewOnly), boolToInt(ds.Paused), ds.PauseReason,
		ds.Queue(false), ds.Queue(true))
	if err != nil {
		return nil, mapDBError(err)
	}

	for _, groupID := range ds.Groups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO data_source_groups (data_source_id, group_id) VALUES (?, ?)
		`, ds.ID, groupID); err != nil {
			return nil, mapDBError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.GetByID(ctx, ds.ID)
}

// GetByID returns a data source by ID.
func (r *DataSourceRepo) GetByID(ctx context.Context, id string) (*domain.DataSource, error) {
	ds, err := r.scan(r.db.QueryRowContext(ctx, `SELECT `+dataSourceColumns+` FROM data_sources WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadGroups(ctx, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// GetByName returns a data source by name.
func (r *DataSourceRepo) GetByName(ctx context.Context, name string) (*domain.DataSource, error) {
	ds, err := r.scan(r.db.QueryRowContext(ctx, `SELECT `+dataSourceColumns+` FROM data_sources WHERE name = ?`, name))
	if err != nil {
		return nil, err
	}
	if err := r.loadGroups(ctx, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// List returns all data sources ordered by name.
func (r *DataSourceRepo) List(ctx context.Context) ([]domain.DataSource, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+dataSourceColumns+` FROM data_sources ORDER BY name`)
	if err != nil {
		return nil, mapDBError(err)
	}
	var out []domain.DataSource
	for rows.Next() {
		ds, err := r.scan(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, *ds)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := r.loadGroups(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetPaused pauses or resumes a data source.
func (r *DataSourceRepo) SetPaused(ctx context.Context, id string, paused bool, reason string) error {
	if !paused {
		reason = ""
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE data_sources SET paused = ?, pause_reason = ? WHERE id = ?
	`, boolToInt(paused), reason, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("data source %q not found", id)
	}
	return nil
}

func (r *DataSourceRepo) loadGroups(ctx context.Context, ds *domain.DataSource) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id FROM data_source_groups WHERE data_source_id = ? ORDER BY group_id
	`, ds.ID)
	if err != nil {
		return mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	ds.Groups = nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan data source group: %w", err)
		}
		ds.Groups = append(ds.Groups, id)
	}
	return rows.Err()
}

func (r *DataSourceRepo) scan(row rowScanner) (*domain.DataSource, error) {
	var (
		ds               domain.DataSource
		viewOnly, paused int64
	)
	err := row.Scan(&ds.ID, &ds.Name, &ds.Type, &ds.Options, &viewOnly, &paused, &ds.PauseReason,
		&ds.QueueName, &ds.ScheduledQueueName, &ds.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	if ds.Options, err = r.cipher.Open(ds.Options); err != nil {
		return nil, fmt.Errorf("open options for data source %q: %w", ds.Name, err)
	}
	ds.ViewOnly = viewOnly != 0
	ds.Paused = paused != 0
	return &ds, nil
}
