package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"querydesk/internal/domain"
	"querydesk/internal/service/results"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Queues           []string
	Concurrency      int // workers per queue
	PollInterval     time.Duration
	ExecutionTimeout time.Duration
}

// Pool runs jobs from one or more queues on a fixed set of workers.
type Pool struct {
	cfg     PoolConfig
	jobs    domain.JobRepository
	sources domain.DataSourceRepository
	queries domain.QueryRepository
	cache   *results.Cache
	runner  domain.QueryRunner
	logger  *slog.Logger
	host    string
}

// NewPool creates a Pool. Zero config values get defaults.
func NewPool(
	cfg PoolConfig,
	jobs domain.JobRepository,
	sources domain.DataSourceRepository,
	queries domain.QueryRepository,
	cache *results.Cache,
	runner domain.QueryRunner,
	logger *slog.Logger,
) *Pool {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{domain.DefaultQueueName, domain.DefaultScheduledQueueName}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return &Pool{
		cfg:     cfg,
		jobs:    jobs,
		sources: sources,
		queries: queries,
		cache:   cache,
		runner:  runner,
		logger:  logger,
		host:    host,
	}
}

// finishTimeout bounds the terminal writes made after the pool context is gone.
const finishTimeout = 10 * time.Second

// Run releases jobs abandoned by an earlier run, then starts every worker
// and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	if _, err := p.ReapAbandoned(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range p.cfg.Queues {
		for i := range p.cfg.Concurrency {
			worker := fmt.Sprintf("%s:%s:%d", p.host, queue, i)
			g.Go(func() error {
				p.loop(ctx, queue, worker)
				return nil
			})
		}
	}
	p.logger.Info("worker pool started", "queues", p.cfg.Queues, "concurrency", p.cfg.Concurrency)
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

// ReapAbandoned fails jobs still marked started by a previous process on
// this host, or running longer than the execution timeout allows, and
// releases their locks so the next submission runs them again.
func (p *Pool) ReapAbandoned(ctx context.Context) (int, error) {
	var cutoff time.Time
	if p.cfg.ExecutionTimeout > 0 {
		cutoff = time.Now().Add(-(p.cfg.ExecutionTimeout + finishTimeout))
	}
	var ids []string
	err := p.persist(ctx, func(ctx context.Context) error {
		var err error
		ids, err = p.jobs.FailAbandoned(ctx, p.host+":", cutoff, "worker stopped before the job finished")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reap abandoned jobs: %w", err)
	}
	if len(ids) > 0 {
		p.logger.Warn("failed abandoned jobs", "count", len(ids), "job_ids", ids)
	}
	return len(ids), nil
}

func (p *Pool) loop(ctx context.Context, queue, worker string) {
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := p.RunOnce(ctx, queue, worker)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("worker iteration failed", "worker", worker, "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce claims and executes a single job from queue. It reports whether a
// job was processed, successfully or not. Execution failures are recorded on
// the job and are not returned.
func (p *Pool) RunOnce(ctx context.Context, queue, worker string) (bool, error) {
	job, err := p.jobs.Claim(ctx, queue, worker)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim job: %w", err)
	}

	logger := p.logger.With("job_id", job.ID, "worker", worker, "queue", queue)
	logger.Info("job started", "data_source_id", job.DataSourceID, "query_hash", job.QueryHash)

	res, execErr := p.execute(ctx, job)

	// The job holds its lock until it reaches a terminal state, so the
	// final writes must outlive a cancelled pool context.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if execErr != nil {
		logger.Warn("job failed", "error", execErr)
		if err := p.persist(finishCtx, func(ctx context.Context) error {
			return p.jobs.MarkFailed(ctx, job.ID, execErr.Error())
		}); err != nil {
			return true, fmt.Errorf("mark job %s failed: %w", job.ID, err)
		}
		return true, nil
	}

	var updated []string
	if err := p.persist(finishCtx, func(ctx context.Context) error {
		var err error
		updated, err = p.queries.UpdateLatestResult(ctx, job.DataSourceID, job.QueryHash, res.ID)
		if err != nil {
			return err
		}
		return p.jobs.MarkDone(ctx, job.ID, res.ID)
	}); err != nil {
		return true, fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	logger.Info("job done", "result_id", res.ID, "runtime", res.Runtime, "rows", len(res.Data.Rows), "queries_updated", len(updated))
	return true, nil
}

// execute runs the job's query and stores the result.
func (p *Pool) execute(ctx context.Context, job *domain.Job) (*domain.Result, error) {
	ds, err := p.sources.GetByID(ctx, job.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("load data source: %w", err)
	}

	runCtx := ctx
	if p.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.ExecutionTimeout)
		defer cancel()
	}

	start := time.Now()
	data, err := p.runner.Run(runCtx, ds, job.QueryText)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, errors.New("query interrupted: worker is shutting down")
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("query timed out after %s", p.cfg.ExecutionTimeout)
		}
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	var res *domain.Result
	err = p.persist(storeCtx, func(ctx context.Context) error {
		var err error
		res, err = p.cache.Put(ctx, &domain.Result{
			DataSourceID: job.DataSourceID,
			QueryHash:    job.QueryHash,
			QueryText:    job.QueryText,
			Data:         *data,
			Runtime:      time.Since(start),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}
	return res, nil
}

// persist retries metastore writes that fail because the database is busy.
func (p *Pool) persist(ctx context.Context, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(4, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
