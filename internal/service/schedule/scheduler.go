// Package schedule refreshes saved queries on their cron schedules and
// prunes unreferenced results.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"querydesk/internal/domain"
	"querydesk/internal/service/security"
)

// systemPrincipal is the name recorded for scheduler-initiated executions.
const systemPrincipal = "system:scheduler"

// Refresher re-executes a saved query. Implemented by query.Service.
type Refresher interface {
	Refresh(ctx context.Context, caps *security.Capabilities, queryID string) (*domain.Job, error)
}

// Cleaner removes results nothing points at. Implemented by results.Cache.
type Cleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Config holds the result cleanup settings. An empty CleanupSchedule disables
// cleanup.
type Config struct {
	CleanupSchedule string
	CleanupMaxAge   time.Duration
}

// Scheduler manages cron-based query refresh and result cleanup.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	cleaner   Cleaner
	queries   domain.QueryRepository
	cfg       Config
	caps      *security.Capabilities
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID // query ID → cron entry
	cleanup cron.EntryID
}

// NewScheduler creates a Scheduler. Refreshes run with admin capabilities.
func NewScheduler(refresher Refresher, cleaner Cleaner, queries domain.QueryRepository, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cron:      cron.New(),
		refresher: refresher,
		cleaner:   cleaner,
		queries:   queries,
		cfg:       cfg,
		caps:      security.ForPrincipal(systemPrincipal, true, nil),
		logger:    logger.With("component", "scheduler"),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start loads all scheduled queries and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadSchedules(ctx); err != nil {
		return err
	}
	if s.cfg.CleanupSchedule != "" && s.cleaner != nil {
		id, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() { s.runCleanup(context.Background()) })
		if err != nil {
			return domain.ErrValidation("invalid cleanup schedule %q: %v", s.cfg.CleanupSchedule, err)
		}
		s.cleanup = id
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "queries", len(s.entries))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Reload clears all query entries and reloads them from the database. The
// cleanup entry is kept.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadSchedules(ctx)
}

// Next returns the next run time of queryID's refresh, if it is scheduled.
func (s *Scheduler) Next(queryID string) (time.Time, bool) {
	s.mu.Lock()
	entryID, ok := s.entries[queryID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(entryID).Next, true
}

// loadSchedules adds a cron entry per scheduled query. Invalid expressions
// are logged and skipped. Callers hold s.mu.
func (s *Scheduler) loadSchedules(ctx context.Context) error {
	queries, err := s.queries.ListScheduled(ctx)
	if err != nil {
		return err
	}

	for _, q := range queries {
		if q.Schedule == nil || *q.Schedule == "" {
			continue
		}
		schedule := *q.Schedule
		queryID := q.ID

		entryID, err := s.cron.AddFunc(schedule, func() { s.refresh(context.Background(), queryID) })
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				"query_id", queryID,
				"schedule", schedule,
				"error", err,
			)
			continue
		}
		s.entries[queryID] = entryID
		s.logger.Debug("scheduled query", "query_id", queryID, "schedule", schedule)
	}
	return nil
}

func (s *Scheduler) refresh(ctx context.Context, queryID string) {
	job, err := s.refresher.Refresh(ctx, s.caps, queryID)
	if err != nil {
		s.logger.Warn("scheduled refresh failed", "query_id", queryID, "error", err)
		return
	}
	s.logger.Info("scheduled refresh submitted", "query_id", queryID, "job_id", job.ID)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	n, err := s.cleaner.Cleanup(ctx, s.cfg.CleanupMaxAge)
	if err != nil {
		s.logger.Warn("result cleanup failed", "error", err)
		return
	}
	s.logger.Info("result cleanup finished", "deleted", n)
}
