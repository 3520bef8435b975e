package query

import (
	"context"

	"querydesk/internal/domain"
	"querydesk/internal/fingerprint"
	"querydesk/internal/service/auditutil"
	"querydesk/internal/service/security"
)

// CreateQuery saves a query template. The caller needs view access to the
// target data source.
func (s *Service) CreateQuery(ctx context.Context, caps *security.Capabilities, req domain.CreateQueryRequest) (*domain.Query, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ds, err := s.sources.GetByID(ctx, req.DataSourceID)
	if err != nil {
		return nil, err
	}
	if err := s.eval.CanView(caps, ds); err != nil {
		auditutil.LogDenied(ctx, s.audit, caps.Name(), actionSaveQuery, auditutil.WithDataSource(ds.ID))
		return nil, err
	}

	q, err := s.queries.Create(ctx, &domain.Query{
		DataSourceID: ds.ID,
		Name:         req.Name,
		QueryText:    req.QueryText,
		QueryHash:    fingerprint.Compute(ds.ID, req.QueryText, nil),
		Parameters:   req.Parameters,
		Schedule:     req.Schedule,
		CreatedBy:    caps.Name(),
	})
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, caps.Name(), actionSaveQuery,
		auditutil.WithDataSource(ds.ID), auditutil.WithQuery(q.ID))
	s.scheduleChanged(ctx, q)
	return q, nil
}

// GetQuery returns a saved query the caller can view.
func (s *Service) GetQuery(ctx context.Context, caps *security.Capabilities, queryID string) (*domain.Query, error) {
	q, ds, err := s.load(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if err := s.canViewQuery(caps, q, ds); err != nil {
		return nil, err
	}
	return q, nil
}

// DeleteQuery removes a saved query. Only its creator or an admin may.
func (s *Service) DeleteQuery(ctx context.Context, caps *security.Capabilities, queryID string) error {
	q, _, err := s.load(ctx, queryID)
	if err != nil {
		return err
	}
	if caps.QueryScoped() || (!caps.IsAdmin() && q.CreatedBy != caps.Name()) {
		auditutil.LogDenied(ctx, s.audit, caps.Name(), actionDropQuery, auditutil.WithQuery(q.ID))
		return domain.ErrAccessDenied("only the creator or an admin may delete query %q", queryID)
	}
	if err := s.queries.Delete(ctx, q.ID); err != nil {
		return err
	}
	auditutil.LogAllowed(ctx, s.audit, caps.Name(), actionDropQuery, auditutil.WithQuery(q.ID))
	s.scheduleChanged(ctx, q)
	return nil
}

// scheduleChanged reloads the scheduler when q carries a schedule. The query
// change is already committed, so a failed reload is only logged.
func (s *Service) scheduleChanged(ctx context.Context, q *domain.Query) {
	if s.schedule == nil || q.Schedule == nil || *q.Schedule == "" {
		return
	}
	if err := s.schedule.Reload(ctx); err != nil {
		s.logger.Warn("reload schedules failed", "query_id", q.ID, "error", err)
	}
}
