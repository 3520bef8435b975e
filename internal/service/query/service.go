// Package query orchestrates result requests: access checks, parameter
// binding, cache lookups and job submission.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"querydesk/internal/domain"
	"querydesk/internal/fingerprint"
	"querydesk/internal/service/auditutil"
	"querydesk/internal/service/jobs"
	"querydesk/internal/service/params"
	"querydesk/internal/service/results"
	"querydesk/internal/service/security"
)

// Audit actions.
const (
	actionExecute    = "EXECUTE_QUERY"
	actionViewResult = "VIEW_RESULT"
	actionSaveQuery  = "SAVE_QUERY"
	actionDropQuery  = "DELETE_QUERY"
)

// ExecuteRequest asks for a result of Query on DataSource.
type ExecuteRequest struct {
	Caps       *security.Capabilities
	Query      *domain.Query
	DataSource *domain.DataSource
	Parameters map[string]any
	// MaxAge is the accepted staleness in seconds. Negative accepts any cached
	// result and zero always executes.
	MaxAge int
	// Scheduled routes the job to the data source's scheduled queue.
	Scheduled bool
}

// Outcome carries exactly one of a cached Result or the Job producing one.
type Outcome struct {
	Result *domain.Result
	Job    *domain.Job
}

// AdhocRequest executes unsaved query text.
type AdhocRequest struct {
	DataSourceID string
	QueryText    string
	Parameters   map[string]any
	MaxAge       int
}

// ScheduleNotifier is told when the set of scheduled queries changes.
// Implemented by schedule.Scheduler.
type ScheduleNotifier interface {
	Reload(ctx context.Context) error
}

// Service is the entry point for result requests.
type Service struct {
	queries  domain.QueryRepository
	sources  domain.DataSourceRepository
	results  domain.QueryResultRepository
	cache    *results.Cache
	eval     *security.Evaluator
	resolver *params.Resolver
	coord    *jobs.Coordinator
	audit    domain.AuditRepository
	logger   *slog.Logger
	schedule ScheduleNotifier
}

// NewService creates a Service.
func NewService(
	queries domain.QueryRepository,
	sources domain.DataSourceRepository,
	resultRepo domain.QueryResultRepository,
	cache *results.Cache,
	eval *security.Evaluator,
	resolver *params.Resolver,
	coord *jobs.Coordinator,
	audit domain.AuditRepository,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		queries:  queries,
		sources:  sources,
		results:  resultRepo,
		cache:    cache,
		eval:     eval,
		resolver: resolver,
		coord:    coord,
		audit:    audit,
		logger:   logger,
	}
}

// SetScheduleNotifier registers n to hear about schedule changes. The
// scheduler refreshes through the Service, so it is attached after both exist.
func (s *Service) SetScheduleNotifier(n ScheduleNotifier) {
	s.schedule = n
}

// GetOrExecute returns a fresh cached result, or the job that will produce
// one. Access is checked before the cache is consulted.
func (s *Service) GetOrExecute(ctx context.Context, req ExecuteRequest) (*Outcome, error) {
	q, ds := req.Query, req.DataSource
	principal := req.Caps.Name()

	// Undeclared placeholders count as raw parameters for the safety check.
	checked := *q
	checked.Parameters = params.Schema(q)
	if err := s.eval.CanExecute(req.Caps, &checked, ds); err != nil {
		auditutil.LogDenied(ctx, s.audit, principal, actionExecute,
			auditutil.WithDataSource(ds.ID), auditutil.WithQuery(q.ID), auditutil.WithDetail(err.Error()))
		return nil, err
	}

	bound, err := s.resolver.Bind(ctx, q, req.Parameters)
	if err != nil {
		return nil, err
	}
	hash := fingerprint.Compute(ds.ID, bound.Text, bound.Params)

	res, err := s.cache.Lookup(ctx, ds.ID, hash, req.MaxAge)
	if err != nil {
		return nil, err
	}
	if res != nil {
		s.logger.DebugContext(ctx, "served cached result", "result_id", res.ID, "query_hash", hash)
		return &Outcome{Result: res}, nil
	}

	jobReq := domain.JobRequest{
		DataSourceID: ds.ID,
		QueryHash:    hash,
		QueryText:    bound.Text,
		Queue:        ds.Queue(req.Scheduled),
	}
	if q.ID != "" {
		jobReq.QueryID = &q.ID
	}
	job, _, err := s.coord.SubmitOrJoin(ctx, jobReq)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	auditutil.LogAllowed(ctx, s.audit, principal, actionExecute,
		auditutil.WithDataSource(ds.ID), auditutil.WithQuery(q.ID), auditutil.WithQueryHash(hash))
	return &Outcome{Job: job}, nil
}

// ExecuteAdhoc runs unsaved query text. Placeholders in the text become raw
// parameters.
func (s *Service) ExecuteAdhoc(ctx context.Context, caps *security.Capabilities, req AdhocRequest) (*Outcome, error) {
	if req.DataSourceID == "" {
		return nil, domain.ErrValidation("data_source_id is required")
	}
	if req.QueryText == "" {
		return nil, domain.ErrValidation("query text is required")
	}
	ds, err := s.sources.GetByID(ctx, req.DataSourceID)
	if err != nil {
		return nil, err
	}
	q := &domain.Query{DataSourceID: ds.ID, QueryText: req.QueryText}
	return s.GetOrExecute(ctx, ExecuteRequest{
		Caps:       caps,
		Query:      q,
		DataSource: ds,
		Parameters: req.Parameters,
		MaxAge:     req.MaxAge,
	})
}

// ExecuteSaved runs a saved query with the given parameter values.
func (s *Service) ExecuteSaved(ctx context.Context, caps *security.Capabilities, queryID string, values map[string]any, maxAge int) (*Outcome, error) {
	q, ds, err := s.load(ctx, queryID)
	if err != nil {
		return nil, err
	}
	return s.GetOrExecute(ctx, ExecuteRequest{
		Caps:       caps,
		Query:      q,
		DataSource: ds,
		Parameters: values,
		MaxAge:     maxAge,
	})
}

// Refresh re-executes a saved query on its data source's scheduled queue.
func (s *Service) Refresh(ctx context.Context, caps *security.Capabilities, queryID string) (*domain.Job, error) {
	q, ds, err := s.load(ctx, queryID)
	if err != nil {
		return nil, err
	}
	out, err := s.GetOrExecute(ctx, ExecuteRequest{
		Caps:       caps,
		Query:      q,
		DataSource: ds,
		MaxAge:     0,
		Scheduled:  true,
	})
	if err != nil {
		return nil, err
	}
	return out.Job, nil
}

// GetByID returns a result by ID. Access to the owning data source is checked
// first. When queryID is set the result must then belong to that query's
// fingerprint or be its latest result, otherwise it is reported as not found
// even to callers who could read it directly.
func (s *Service) GetByID(ctx context.Context, caps *security.Capabilities, resultID string, queryID *string) (*domain.Result, error) {
	res, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, notFound(err, "query result %q not found", resultID)
	}

	var q *domain.Query
	if queryID != nil {
		q, err = s.queries.GetByID(ctx, *queryID)
		if err != nil {
			return nil, notFound(err, "query %q not found", *queryID)
		}
	}

	ds, err := s.sources.GetByID(ctx, res.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("load data source: %w", err)
	}
	if err := s.eval.CanViewResult(caps, q, res, ds); err != nil {
		auditutil.LogDenied(ctx, s.audit, caps.Name(), actionViewResult,
			auditutil.WithDataSource(ds.ID), auditutil.WithQueryHash(res.QueryHash))
		return nil, err
	}
	if q != nil && !security.ResultBelongsTo(res, q) {
		return nil, domain.ErrNotFound("no cached result found for this query")
	}
	return res, nil
}

// Latest returns the latest result of a saved query.
func (s *Service) Latest(ctx context.Context, caps *security.Capabilities, queryID string) (*domain.Result, error) {
	q, ds, err := s.load(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if q.LatestResultID == nil {
		// Still check access so the absence of a result is not leaked.
		if err := s.canViewQuery(caps, q, ds); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotFound("no cached result found for this query")
	}

	res, err := s.results.GetByID(ctx, *q.LatestResultID)
	if err != nil {
		return nil, notFound(err, "no cached result found for this query")
	}
	if err := s.eval.CanViewResult(caps, q, res, ds); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) canViewQuery(caps *security.Capabilities, q *domain.Query, ds *domain.DataSource) error {
	if caps.QueryScoped() {
		if caps.ScopedQuery().ID != q.ID {
			return domain.ErrNotFound("query %q not found", q.ID)
		}
		return nil
	}
	return s.eval.CanView(caps, ds)
}

func (s *Service) load(ctx context.Context, queryID string) (*domain.Query, *domain.DataSource, error) {
	q, err := s.queries.GetByID(ctx, queryID)
	if err != nil {
		return nil, nil, notFound(err, "query %q not found", queryID)
	}
	ds, err := s.sources.GetByID(ctx, q.DataSourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load data source: %w", err)
	}
	return q, ds, nil
}

// notFound replaces a repository NotFoundError with a descriptive one.
func notFound(err error, format string, args ...any) error {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return domain.ErrNotFound(format, args...)
	}
	return err
}
