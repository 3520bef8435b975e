package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	internaldb "querydesk/internal/db"
	"querydesk/internal/domain"
)

type fixture struct {
	db         *sql.DB
	principals *PrincipalRepo
	groups     *GroupRepo
	sources    *DataSourceRepo
	queries    *QueryRepo
	results    *QueryResultRepo
	jobs       *JobRepo
	audit      *AuditRepo
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return &fixture{
		db:         writeDB,
		principals: NewPrincipalRepo(writeDB),
		groups:     NewGroupRepo(writeDB),
		sources:    NewDataSourceRepo(writeDB),
		queries:    NewQueryRepo(writeDB),
		results:    NewQueryResultRepo(writeDB),
		jobs:       NewJobRepo(writeDB),
		audit:      NewAuditRepo(writeDB),
	}
}

func (f *fixture) dataSource(t *testing.T, name string) *domain.DataSource {
	t.Helper()
	ds, err := f.sources.Create(context.Background(), &domain.DataSource{
		Name:    name,
		Type:    domain.DataSourceTypeSQLite,
		Options: ":memory:",
	})
	require.NoError(t, err)
	return ds
}
