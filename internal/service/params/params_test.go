package params

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	internaldb "querydesk/internal/db"
	"querydesk/internal/db/repository"
	"querydesk/internal/domain"
	"querydesk/internal/service/security"
)

type env struct {
	resolver   *Resolver
	principals *repository.PrincipalRepo
	groups     *repository.GroupRepo
	sources    *repository.DataSourceRepo
	queries    *repository.QueryRepo
	results    *repository.QueryResultRepo
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	e := &env{
		principals: repository.NewPrincipalRepo(writeDB),
		groups:     repository.NewGroupRepo(writeDB),
		sources:    repository.NewDataSourceRepo(writeDB),
		queries:    repository.NewQueryRepo(writeDB),
		results:    repository.NewQueryResultRepo(writeDB),
	}
	eval := security.NewEvaluator(e.principals, e.groups, e.queries)
	e.resolver = NewResolver(e.queries, e.sources, e.results, eval)
	return e
}

func (e *env) group(t *testing.T, name string) *domain.Group {
	t.Helper()
	g, err := e.groups.Create(context.Background(), &domain.Group{Name: name})
	require.NoError(t, err)
	return g
}

func (e *env) source(t *testing.T, name string, groups ...string) *domain.DataSource {
	t.Helper()
	ds, err := e.sources.Create(context.Background(), &domain.DataSource{Name: name, Type: domain.DataSourceTypeSQLite, Groups: groups})
	require.NoError(t, err)
	return ds
}

func (e *env) query(t *testing.T, ds *domain.DataSource, text string, params ...domain.Parameter) *domain.Query {
	t.Helper()
	q, err := e.queries.Create(context.Background(), &domain.Query{
		DataSourceID: ds.ID, QueryText: text, QueryHash: "hash-" + text, Parameters: params,
	})
	require.NoError(t, err)
	return q
}

// cache stores data as q's latest result.
func (e *env) cache(t *testing.T, q *domain.Query, data domain.ResultData) {
	t.Helper()
	ctx := context.Background()
	res, err := e.results.Create(ctx, &domain.Result{DataSourceID: q.DataSourceID, QueryHash: q.QueryHash, QueryText: q.QueryText, Data: data})
	require.NoError(t, err)
	_, err = e.queries.UpdateLatestResult(ctx, q.DataSourceID, q.QueryHash, res.ID)
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }
