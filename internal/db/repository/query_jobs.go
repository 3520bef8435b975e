package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"querydesk/internal/domain"
)

var _ domain.JobRepository = (*JobRepo)(nil)

// JobRepo stores execution job lifecycle state and the per-fingerprint
// in-flight lock in SQLite.
//
// The repo must be handed the write pool: SubmitOrJoin relies on the write
// pool's immediate transactions to serialize concurrent submitters.
type JobRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewJobRepo creates a new JobRepo.
func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db, now: time.Now}
}

const jobColumns = `id, data_source_id, query_hash, query_text, query_id, queue, state, worker,
	error_message, result_id, created_at, started_at, finished_at, updated_at`

// SubmitOrJoin returns the outstanding job for the fingerprint, or creates a
// new waiting job and takes the lock for it.
func (r *JobRepo) SubmitOrJoin(ctx context.Context, req domain.JobRequest) (*domain.Job, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lockedID string
	err = tx.QueryRowContext(ctx, `
		SELECT job_id FROM job_locks WHERE data_source_id = ? AND query_hash = ?
	`, req.DataSourceID, req.QueryHash).Scan(&lockedID)
	switch {
	case err == nil:
		existing, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, lockedID))
		if err != nil {
			return nil, false, err
		}
		if !existing.State.IsTerminal() {
			if err := tx.Commit(); err != nil {
				return nil, false, fmt.Errorf("commit: %w", err)
			}
			return existing, false, nil
		}
		// Lock outlived its job; replace it.
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_locks WHERE data_source_id = ? AND query_hash = ?`,
			req.DataSourceID, req.QueryHash); err != nil {
			return nil, false, mapDBError(err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, false, mapDBError(err)
	}

	id := domain.NewID()
	now := r.now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, data_source_id, query_hash, query_text, query_id, queue, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, req.DataSourceID, req.QueryHash, req.QueryText, nullString(req.QueryID), req.Queue,
		string(domain.JobWaiting), now, now)
	if err != nil {
		return nil, false, mapDBError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_locks (data_source_id, query_hash, job_id) VALUES (?, ?, ?)
	`, req.DataSourceID, req.QueryHash, id); err != nil {
		return nil, false, mapDBError(err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return job, true, nil
}

// GetByID returns a job by ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.ErrNotFound("job %q not found", id)
		}
		return nil, err
	}
	return job, nil
}

// ListOutstanding returns waiting and started jobs on queue, oldest first.
func (r *JobRepo) ListOutstanding(ctx context.Context, queue string) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = ? AND state IN (?, ?)
		ORDER BY created_at, rowid
	`, queue, string(domain.JobWaiting), string(domain.JobStarted))
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// Claim moves the oldest waiting job on queue to started.
func (r *JobRepo) Claim(ctx context.Context, queue, worker string) (*domain.Job, error) {
	now := r.now().UTC()
	job, err := scanJob(r.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = ?, worker = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND state = ?
			ORDER BY created_at, rowid
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(domain.JobStarted), worker, now, now, queue, string(domain.JobWaiting)))
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkDone records the result and releases the fingerprint lock.
func (r *JobRepo) MarkDone(ctx context.Context, id, resultID string) error {
	return r.finish(ctx, id, domain.JobDone, sql.NullString{String: resultID, Valid: true}, sql.NullString{})
}

// MarkFailed records the failure and releases the fingerprint lock.
func (r *JobRepo) MarkFailed(ctx context.Context, id, message string) error {
	return r.finish(ctx, id, domain.JobFailed, sql.NullString{}, sql.NullString{String: message, Valid: true})
}

// FailAbandoned fails started jobs left behind by a stopped worker and
// releases their locks in one transaction.
func (r *JobRepo) FailAbandoned(ctx context.Context, workerPrefix string, startedBefore time.Time, message string) ([]string, error) {
	if workerPrefix == "" && startedBefore.IsZero() {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// substr, not LIKE: '_' and '%' in host names are literal.
	var cutoff any
	if !startedBefore.IsZero() {
		cutoff = startedBefore.UTC()
	}
	now := r.now().UTC()
	rows, err := tx.QueryContext(ctx, `
		UPDATE jobs
		SET state = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE state = ? AND (
			(? <> '' AND substr(worker, 1, length(?)) = ?)
			OR (? IS NOT NULL AND started_at < ?)
		)
		RETURNING id
	`, string(domain.JobFailed), message, now, now, string(domain.JobStarted),
		workerPrefix, workerPrefix, workerPrefix, cutoff, cutoff)
	if err != nil {
		return nil, mapDBError(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck
			return nil, mapDBError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, mapDBError(err)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDBError(err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_locks WHERE job_id = ?`, id); err != nil {
			return nil, mapDBError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func (r *JobRepo) finish(ctx context.Context, id string, state domain.JobState, resultID, message sql.NullString) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := r.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, result_id = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state NOT IN (?, ?)
	`, string(state), resultID, message, now, now, id, string(domain.JobDone), string(domain.JobFailed))
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound("job %q not found", id)
		}
		if err != nil {
			return mapDBError(err)
		}
		return domain.ErrConflict("job %q is already %s", id, current)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_locks WHERE job_id = ?`, id); err != nil {
		return mapDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                           domain.Job
		state                         string
		queryID, worker, errorMessage sql.NullString
		resultID                      sql.NullString
		startedAt, finishedAt         sql.NullTime
	)
	err := row.Scan(&job.ID, &job.DataSourceID, &job.QueryHash, &job.QueryText, &queryID, &job.Queue,
		&state, &worker, &errorMessage, &resultID, &job.CreatedAt, &startedAt, &finishedAt, &job.UpdatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	job.State = domain.JobState(state)
	job.QueryID = stringPtr(queryID)
	job.Worker = stringPtr(worker)
	job.Error = stringPtr(errorMessage)
	job.ResultID = stringPtr(resultID)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	return &job, nil
}
