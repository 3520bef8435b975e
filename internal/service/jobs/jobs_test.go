package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "querydesk/internal/db"
	"querydesk/internal/db/repository"
	"querydesk/internal/domain"
	"querydesk/internal/service/results"
	"querydesk/internal/testutil"
)

type env struct {
	coord   *Coordinator
	jobs    *repository.JobRepo
	sources *repository.DataSourceRepo
	queries *repository.QueryRepo
	results *repository.QueryResultRepo
	ds      *domain.DataSource
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	e := &env{
		jobs:    repository.NewJobRepo(writeDB),
		sources: repository.NewDataSourceRepo(writeDB),
		queries: repository.NewQueryRepo(writeDB),
		results: repository.NewQueryResultRepo(writeDB),
	}
	e.coord = NewCoordinator(e.jobs, e.sources, nil)

	ds, err := e.sources.Create(context.Background(), &domain.DataSource{Name: "src", Type: domain.DataSourceTypeSQLite})
	require.NoError(t, err)
	e.ds = ds
	return e
}

func (e *env) pool(runner domain.QueryRunner, timeout time.Duration) *Pool {
	return NewPool(PoolConfig{ExecutionTimeout: timeout}, e.jobs, e.sources, e.queries,
		results.NewCache(e.results, nil), runner, nil)
}

func (e *env) request(text string) domain.JobRequest {
	return domain.JobRequest{
		DataSourceID: e.ds.ID,
		QueryHash:    "hash:" + text,
		QueryText:    text,
		Queue:        e.ds.Queue(false),
	}
}

func TestCoordinator_QueueStatusCountsDistinctQueries(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	for i, text := range []string{"SELECT 1", "SELECT 2", "SELECT 3"} {
		_, created, err := e.coord.SubmitOrJoin(ctx, e.request(text))
		require.NoError(t, err)
		assert.True(t, created)

		status, err := e.coord.QueueStatus(ctx, "", e.ds.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultQueueName, status.Queue)
		assert.Equal(t, i+1, status.NumTasks)
		assert.Len(t, status.Tasks, i+1)
	}

	// Resubmitting a known fingerprint does not grow the queue.
	_, created, err := e.coord.SubmitOrJoin(ctx, e.request("SELECT 2"))
	require.NoError(t, err)
	assert.False(t, created)

	status, err := e.coord.QueueStatus(ctx, domain.DefaultQueueName, "")
	require.NoError(t, err)
	assert.Equal(t, 3, status.NumTasks)
	assert.Equal(t, domain.JobWaiting, status.Tasks[0].State)
	assert.Nil(t, status.Tasks[0].Worker)
}

func TestCoordinator_ConcurrentSubmissionsConverge(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, _, err := e.coord.SubmitOrJoin(ctx, e.request("SELECT hot"))
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	status, err := e.coord.QueueStatus(ctx, "", e.ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.NumTasks)
}

func TestCoordinator_QueueStatusUnknownSource(t *testing.T) {
	e := setupEnv(t)

	_, err := e.coord.QueueStatus(context.Background(), "", "missing")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestPool_RunOnceSuccess(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	req := e.request("SELECT 1 AS n")
	q, err := e.queries.Create(ctx, &domain.Query{DataSourceID: e.ds.ID, QueryText: req.QueryText, QueryHash: req.QueryHash})
	require.NoError(t, err)

	job, _, err := e.coord.SubmitOrJoin(ctx, req)
	require.NoError(t, err)

	runner := &testutil.MockQueryRunner{}
	processed, err := e.pool(runner, 0).RunOnce(ctx, domain.DefaultQueueName, "w-1")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{"SELECT 1 AS n"}, runner.Texts)

	done, err := e.coord.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, done.State)
	require.NotNil(t, done.ResultID)

	res, err := e.results.GetByID(ctx, *done.ResultID)
	require.NoError(t, err)
	assert.Equal(t, req.QueryHash, res.QueryHash)
	assert.Len(t, res.Data.Rows, 1)

	q, err = e.queries.GetByID(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, q.LatestResultID)
	assert.Equal(t, res.ID, *q.LatestResultID)

	status, err := e.coord.QueueStatus(ctx, domain.DefaultQueueName, "")
	require.NoError(t, err)
	assert.Zero(t, status.NumTasks)
}

func TestPool_RunOnceEmptyQueue(t *testing.T) {
	e := setupEnv(t)

	processed, err := e.pool(&testutil.MockQueryRunner{}, 0).RunOnce(context.Background(), domain.DefaultQueueName, "w")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestPool_RunOnceFailureIsRecordedOnJob(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	job, _, err := e.coord.SubmitOrJoin(ctx, e.request("SELEC broken"))
	require.NoError(t, err)

	runner := &testutil.MockQueryRunner{
		RunFn: func(context.Context, *domain.DataSource, string) (*domain.ResultData, error) {
			return nil, errors.New(`near "SELEC": syntax error`)
		},
	}
	processed, err := e.pool(runner, 0).RunOnce(ctx, domain.DefaultQueueName, "w")
	require.NoError(t, err, "execution failures are not returned to the caller")
	assert.True(t, processed)

	failed, err := e.coord.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.State)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "syntax error")

	// The failed job released its lock.
	_, created, err := e.coord.SubmitOrJoin(ctx, e.request("SELEC broken"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestPool_RunOnceTimeout(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	job, _, err := e.coord.SubmitOrJoin(ctx, e.request("SELECT slow"))
	require.NoError(t, err)

	runner := &testutil.MockQueryRunner{
		RunFn: func(ctx context.Context, _ *domain.DataSource, _ string) (*domain.ResultData, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	_, err = e.pool(runner, 20*time.Millisecond).RunOnce(ctx, domain.DefaultQueueName, "w")
	require.NoError(t, err)

	failed, err := e.coord.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.State)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "timed out")
}

func TestPool_RunDrainsQueues(t *testing.T) {
	e := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var submitted []string
	for i := range 5 {
		job, _, err := e.coord.SubmitOrJoin(ctx, e.request(fmt.Sprintf("SELECT %d", i)))
		require.NoError(t, err)
		submitted = append(submitted, job.ID)
	}

	p := NewPool(PoolConfig{Concurrency: 2, PollInterval: 10 * time.Millisecond}, e.jobs, e.sources, e.queries,
		results.NewCache(e.results, nil), &testutil.MockQueryRunner{}, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, id := range submitted {
			job, err := e.coord.Get(context.Background(), id)
			if err != nil || job.State != domain.JobDone {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_RunOnceShutdownReleasesJob(t *testing.T) {
	e := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, _, err := e.coord.SubmitOrJoin(ctx, e.request("SELECT long"))
	require.NoError(t, err)

	runner := &testutil.MockQueryRunner{
		RunFn: func(ctx context.Context, _ *domain.DataSource, _ string) (*domain.ResultData, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	processed, err := e.pool(runner, time.Minute).RunOnce(ctx, domain.DefaultQueueName, "w")
	require.NoError(t, err)
	assert.True(t, processed)

	failed, err := e.coord.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.State)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "interrupted")

	_, created, err := e.coord.SubmitOrJoin(context.Background(), e.request("SELECT long"))
	require.NoError(t, err)
	assert.True(t, created, "the interrupted job released its lock")
}

func TestPool_ReapAbandoned(t *testing.T) {
	tests := []struct {
		name    string
		worker  func(p *Pool) string
		timeout time.Duration
		reaped  bool
	}{
		{"owned by this host", func(p *Pool) string { return p.host + ":queries:0" }, 0, true},
		{"other host within timeout", func(*Pool) string { return "elsewhere:queries:0" }, time.Hour, false},
		{"other host without timeout", func(*Pool) string { return "elsewhere:queries:0" }, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := setupEnv(t)
			ctx := context.Background()
			p := e.pool(&testutil.MockQueryRunner{}, tt.timeout)

			job, _, err := e.coord.SubmitOrJoin(ctx, e.request("SELECT 1"))
			require.NoError(t, err)
			_, err = e.jobs.Claim(ctx, domain.DefaultQueueName, tt.worker(p))
			require.NoError(t, err)

			n, err := p.ReapAbandoned(ctx)
			require.NoError(t, err)

			got, err := e.coord.Get(ctx, job.ID)
			require.NoError(t, err)
			if tt.reaped {
				assert.Equal(t, 1, n)
				assert.Equal(t, domain.JobFailed, got.State)
			} else {
				assert.Zero(t, n)
				assert.Equal(t, domain.JobStarted, got.State)
			}

			_, created, err := e.coord.SubmitOrJoin(ctx, e.request("SELECT 1"))
			require.NoError(t, err)
			assert.Equal(t, tt.reaped, created)
		})
	}
}

func TestPool_RunReapsBeforeStarting(t *testing.T) {
	e := setupEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(PoolConfig{PollInterval: 10 * time.Millisecond}, e.jobs, e.sources, e.queries,
		results.NewCache(e.results, nil), &testutil.MockQueryRunner{}, nil)

	job, _, err := e.coord.SubmitOrJoin(ctx, e.request("SELECT left over"))
	require.NoError(t, err)
	_, err = e.jobs.Claim(ctx, domain.DefaultQueueName, p.host+":queries:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := e.coord.Get(context.Background(), job.ID)
		return err == nil && got.State == domain.JobFailed
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}
