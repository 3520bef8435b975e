package domain

import (
	"context"
	"time"
)

// PrincipalRepository provides CRUD operations for principals.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) (*Principal, error)
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByName(ctx context.Context, name string) (*Principal, error)
}

// GroupRepository provides CRUD operations for groups and membership.
type GroupRepository interface {
	Create(ctx context.Context, g *Group) (*Group, error)
	GetByName(ctx context.Context, name string) (*Group, error)
	AddMember(ctx context.Context, groupID, principalID string) error
	GroupIDsForPrincipal(ctx context.Context, principalID string) ([]string, error)
}

// APIKeyRepository stores hashed user API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) (*APIKey, error)
	LookupPrincipalByAPIKeyHash(ctx context.Context, keyHash string) (string, error)
}

// DataSourceRepository provides CRUD operations for data sources.
type DataSourceRepository interface {
	Create(ctx context.Context, ds *DataSource) (*DataSource, error)
	GetByID(ctx context.Context, id string) (*DataSource, error)
	GetByName(ctx context.Context, name string) (*DataSource, error)
	List(ctx context.Context) ([]DataSource, error)
	SetPaused(ctx context.Context, id string, paused bool, reason string) error
}

// QueryRepository provides CRUD operations for saved queries.
type QueryRepository interface {
	Create(ctx context.Context, q *Query) (*Query, error)
	GetByID(ctx context.Context, id string) (*Query, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Query, error)
	ListScheduled(ctx context.Context) ([]Query, error)
	Delete(ctx context.Context, id string) error
	// UpdateLatestResult points every query matching the data source and
	// fingerprint at resultID and returns the affected query ids.
	UpdateLatestResult(ctx context.Context, dataSourceID, queryHash, resultID string) ([]string, error)
}

// QueryResultRepository stores immutable execution results.
type QueryResultRepository interface {
	Create(ctx context.Context, r *Result) (*Result, error)
	GetByID(ctx context.Context, id string) (*Result, error)
	// GetLatest returns the most recently retrieved result for the fingerprint.
	GetLatest(ctx context.Context, dataSourceID, queryHash string) (*Result, error)
	// DeleteUnused removes results older than the cutoff that no query points at.
	DeleteUnused(ctx context.Context, olderThan time.Time) (int64, error)
}

// JobRepository stores job lifecycle state and the per-fingerprint in-flight lock.
type JobRepository interface {
	// SubmitOrJoin atomically returns the outstanding job for the request's
	// fingerprint or creates a new waiting one. created reports which.
	SubmitOrJoin(ctx context.Context, req JobRequest) (job *Job, created bool, err error)
	GetByID(ctx context.Context, id string) (*Job, error)
	ListOutstanding(ctx context.Context, queue string) ([]Job, error)
	// Claim moves the oldest waiting job on queue to started and binds it to worker.
	// It returns NotFoundError when the queue is empty.
	Claim(ctx context.Context, queue, worker string) (*Job, error)
	MarkDone(ctx context.Context, id, resultID string) error
	MarkFailed(ctx context.Context, id, message string) error
	// FailAbandoned fails started jobs whose worker name begins with
	// workerPrefix, or that started before startedBefore, and releases their
	// locks. An empty prefix or zero time disables that condition. It returns
	// the IDs of the failed jobs.
	FailAbandoned(ctx context.Context, workerPrefix string, startedBefore time.Time, message string) ([]string, error)
}

// AuditRepository records access and execution decisions.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// QueryRunner executes query text against a data source and returns its data.
// Engines are black boxes behind this port.
type QueryRunner interface {
	Run(ctx context.Context, ds *DataSource, queryText string) (*ResultData, error)
}
