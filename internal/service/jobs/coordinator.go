// Package jobs coordinates asynchronous query execution: deduplicated job
// submission, queue observation, and the worker pool that runs jobs.
package jobs

import (
	"context"
	"log/slog"

	"querydesk/internal/domain"
)

// Coordinator submits and observes jobs. It never transitions job state;
// only workers do.
type Coordinator struct {
	jobs    domain.JobRepository
	sources domain.DataSourceRepository
	logger  *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(jobs domain.JobRepository, sources domain.DataSourceRepository, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{jobs: jobs, sources: sources, logger: logger}
}

// SubmitOrJoin returns the outstanding job for the request's fingerprint or
// enqueues a new one. created reports which happened.
func (c *Coordinator) SubmitOrJoin(ctx context.Context, req domain.JobRequest) (*domain.Job, bool, error) {
	job, created, err := c.jobs.SubmitOrJoin(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if created {
		c.logger.InfoContext(ctx, "job enqueued",
			"job_id", job.ID, "queue", job.Queue, "data_source_id", job.DataSourceID, "query_hash", job.QueryHash)
	} else {
		c.logger.DebugContext(ctx, "joined outstanding job", "job_id", job.ID, "state", job.State)
	}
	return job, created, nil
}

// Get returns a job by ID.
func (c *Coordinator) Get(ctx context.Context, id string) (*domain.Job, error) {
	return c.jobs.GetByID(ctx, id)
}

// QueueStatus snapshots the waiting and running jobs of a queue. When queue
// is empty it is taken from dataSourceID's configuration, falling back to the
// default queue.
func (c *Coordinator) QueueStatus(ctx context.Context, queue, dataSourceID string) (*domain.QueueStatus, error) {
	if queue == "" && dataSourceID != "" {
		ds, err := c.sources.GetByID(ctx, dataSourceID)
		if err != nil {
			return nil, err
		}
		queue = ds.Queue(false)
	}
	if queue == "" {
		queue = domain.DefaultQueueName
	}

	outstanding, err := c.jobs.ListOutstanding(ctx, queue)
	if err != nil {
		return nil, err
	}
	status := &domain.QueueStatus{Queue: queue, NumTasks: len(outstanding), Tasks: make([]domain.QueuedTask, 0, len(outstanding))}
	for _, j := range outstanding {
		status.Tasks = append(status.Tasks, domain.QueuedTask{
			ID:           j.ID,
			State:        j.State,
			Queue:        j.Queue,
			DataSourceID: j.DataSourceID,
			QueryHash:    j.QueryHash,
			Worker:       j.Worker,
			CreatedAt:    j.CreatedAt,
			StartedAt:    j.StartedAt,
		})
	}
	return status, nil
}
