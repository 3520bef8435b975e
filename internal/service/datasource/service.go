// Package datasource manages registered query targets.
package datasource

import (
	"context"
	"log/slog"

	"querydesk/internal/domain"
	"querydesk/internal/service/auditutil"
	"querydesk/internal/service/security"
)

const (
	actionCreate = "CREATE_DATA_SOURCE"
	actionPause  = "PAUSE_DATA_SOURCE"
	actionResume = "RESUME_DATA_SOURCE"
)

// Service provides data source registration and pause control.
type Service struct {
	repo   domain.DataSourceRepository
	eval   *security.Evaluator
	audit  domain.AuditRepository
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(repo domain.DataSourceRepository, eval *security.Evaluator, audit domain.AuditRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, eval: eval, audit: audit, logger: logger}
}

// Create registers a data source. Admin only.
func (s *Service) Create(ctx context.Context, caps *security.Capabilities, req domain.CreateDataSourceRequest) (*domain.DataSource, error) {
	if err := security.RequireAdmin(caps); err != nil {
		auditutil.LogDenied(ctx, s.audit, caps.Name(), actionCreate)
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ds, err := s.repo.Create(ctx, &domain.DataSource{
		Name:               req.Name,
		Type:               req.Type,
		Options:            req.Options,
		Groups:             req.Groups,
		ViewOnly:           req.ViewOnly,
		QueueName:          req.QueueName,
		ScheduledQueueName: req.ScheduledQueueName,
	})
	if err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, caps.Name(), actionCreate, auditutil.WithDataSource(ds.ID))
	s.logger.InfoContext(ctx, "data source created", "data_source_id", ds.ID, "name", ds.Name, "type", ds.Type)
	return ds, nil
}

// Get returns a data source the caller can view.
func (s *Service) Get(ctx context.Context, caps *security.Capabilities, id string) (*domain.DataSource, error) {
	ds, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.eval.CanView(caps, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// List returns the data sources the caller can view.
func (s *Service) List(ctx context.Context, caps *security.Capabilities) ([]domain.DataSource, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.DataSource, 0, len(all))
	for i := range all {
		if s.eval.CanView(caps, &all[i]) == nil {
			visible = append(visible, all[i])
		}
	}
	return visible, nil
}

// Pause stops execution on a data source. Cached results stay readable.
// Admin only.
func (s *Service) Pause(ctx context.Context, caps *security.Capabilities, id, reason string) (*domain.DataSource, error) {
	return s.setPaused(ctx, caps, id, true, reason, actionPause)
}

// Resume re-enables execution on a paused data source. Admin only.
func (s *Service) Resume(ctx context.Context, caps *security.Capabilities, id string) (*domain.DataSource, error) {
	return s.setPaused(ctx, caps, id, false, "", actionResume)
}

func (s *Service) setPaused(ctx context.Context, caps *security.Capabilities, id string, paused bool, reason, action string) (*domain.DataSource, error) {
	if err := security.RequireAdmin(caps); err != nil {
		auditutil.LogDenied(ctx, s.audit, caps.Name(), action, auditutil.WithDataSource(id))
		return nil, err
	}
	if err := s.repo.SetPaused(ctx, id, paused, reason); err != nil {
		return nil, err
	}
	auditutil.LogAllowed(ctx, s.audit, caps.Name(), action,
		auditutil.WithDataSource(id), auditutil.WithDetail(reason))
	s.logger.InfoContext(ctx, "data source pause state changed", "data_source_id", id, "paused", paused)
	return s.repo.GetByID(ctx, id)
}
