package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydesk/internal/domain"
	"querydesk/internal/service/params"
)

func TestSavedQueryRoutes(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)

	rec := e.do(t, http.MethodPost, "/api/queries", memberKey, map[string]any{
		"data_source_id": e.ds.ID,
		"name":           "daily",
		"query":          "SELECT * FROM t WHERE d = {{d}}",
		"parameters":     []map[string]any{{"name": "d", "type": "date"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[queryJSON](t, rec)
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.APIKey)
	assert.Equal(t, "alice", created.CreatedBy)
	require.Len(t, created.Parameters, 1)
	assert.Equal(t, domain.ParamDate, created.Parameters[0].Type)

	t.Run("query key reads the query without its key", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/queries/"+created.ID+"?api_key="+created.APIKey, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Empty(t, decode[queryJSON](t, rec).APIKey)
	})

	t.Run("outsider cannot read it", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/queries/"+created.ID, outsiderKey, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown parameter type", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/queries", memberKey, map[string]any{
			"data_source_id": e.ds.ID,
			"query":          "SELECT {{x}}",
			"parameters":     []map[string]any{{"name": "x", "type": "blob"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("only the creator or an admin deletes", func(t *testing.T) {
		rec := e.do(t, http.MethodDelete, "/api/queries/"+created.ID, outsiderKey, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = e.do(t, http.MethodDelete, "/api/queries/"+created.ID, memberKey, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = e.do(t, http.MethodGet, "/api/queries/"+created.ID, memberKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDropdownRoutes(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)

	options := e.saved(t, "SELECT name, value FROM opts")
	e.seedResult(t, "SELECT name, value FROM opts", domain.ResultData{
		Columns: []domain.Column{{Name: "name"}, {Name: "value"}},
		Rows:    []domain.Row{{"name": "Netherlands", "value": "NL"}},
	}, true)
	parent := e.saved(t, "SELECT * FROM t WHERE c = {{c}}",
		domain.Parameter{Name: "c", Type: domain.ParamQuery, QueryID: &options.ID})
	unrelated := e.saved(t, "SELECT 3")
	want := []params.Option{{Name: "Netherlands", Value: "NL"}}

	tests := []struct {
		name     string
		path     string
		key      string
		wantCode int
		want     []params.Option
	}{
		{"own options", "/api/queries/" + options.ID + "/dropdown", memberKey, http.StatusOK, want},
		{"associated dropdown", "/api/queries/" + parent.ID + "/dropdowns/" + options.ID, memberKey, http.StatusOK, want},
		{"unassociated dropdown", "/api/queries/" + unrelated.ID + "/dropdowns/" + options.ID, memberKey, http.StatusForbidden, nil},
		{"unassociated dropdown for outsider", "/api/queries/" + unrelated.ID + "/dropdowns/" + options.ID, outsiderKey, http.StatusNotFound, nil},
		{"associated dropdown for outsider", "/api/queries/" + parent.ID + "/dropdowns/" + options.ID, outsiderKey, http.StatusForbidden, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, tt.path, tt.key, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.want != nil {
				assert.Equal(t, tt.want, decode[[]params.Option](t, rec))
			}
		})
	}
}

func TestJobRoutes(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)
	q := e.saved(t, "SELECT 1")
	other := e.saved(t, "SELECT 2")

	rec := e.do(t, http.MethodPost, "/api/queries/"+q.ID+"/results", memberKey, map[string]any{"max_age": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jobID, ok := (*decode[outcomeResponse](t, rec).Job)["id"].(string)
	require.True(t, ok)

	t.Run("job handle", func(t *testing.T) {
		tests := []struct {
			name     string
			path     string
			key      string
			wantCode int
		}{
			{"member", "/api/jobs/" + jobID, memberKey, http.StatusOK},
			{"admin", "/api/jobs/" + jobID, adminKey, http.StatusOK},
			{"outsider", "/api/jobs/" + jobID, outsiderKey, http.StatusForbidden},
			{"own query key", "/api/jobs/" + jobID + "?api_key=" + q.APIKey, "", http.StatusOK},
			{"other query key", "/api/jobs/" + jobID + "?api_key=" + other.APIKey, "", http.StatusNotFound},
			{"unknown", "/api/jobs/nope", memberKey, http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := e.do(t, http.MethodGet, tt.path, tt.key, nil)
				assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			})
		}
	})

	t.Run("job handle shape", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/jobs/"+jobID, memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		job := *decode[outcomeResponse](t, rec).Job
		assert.Equal(t, jobID, job["id"])
		assert.Equal(t, string(domain.JobWaiting), job["state"])
		assert.Contains(t, job, "updated_at")
		assert.NotContains(t, job, "query_result_id")
	})

	t.Run("queue status", func(t *testing.T) {
		for _, path := range []string{"/api/queue_status", "/api/queue_status/" + jobID, "/api/queue_status?data_source=" + e.ds.ID} {
			rec := e.do(t, http.MethodGet, path, memberKey, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			status := decode[domain.QueueStatus](t, rec)
			assert.Equal(t, domain.DefaultQueueName, status.Queue, path)
			assert.Equal(t, 1, status.NumTasks, path)
			require.Len(t, status.Tasks, 1, path)
			assert.Equal(t, jobID, status.Tasks[0].ID)
		}
	})

	t.Run("query key does not see parameterized runs", func(t *testing.T) {
		pq := e.saved(t, "SELECT {{n}}", domain.Parameter{Name: "n", Type: domain.ParamNumber})
		rec := e.do(t, http.MethodPost, "/api/queries/"+pq.ID+"/results", memberKey,
			map[string]any{"parameters": map[string]any{"n": 7}, "max_age": 0})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		paramJobID, ok := (*decode[outcomeResponse](t, rec).Job)["id"].(string)
		require.True(t, ok)

		rec = e.do(t, http.MethodGet, "/api/jobs/"+paramJobID+"?api_key="+pq.APIKey, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
		rec = e.do(t, http.MethodGet, "/api/jobs/"+paramJobID, memberKey, nil)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("queue status of an empty queue", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/queue_status?queue="+domain.DefaultScheduledQueueName, memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		status := decode[domain.QueueStatus](t, rec)
		assert.Zero(t, status.NumTasks)
		assert.Empty(t, status.Tasks)
	})
}

func TestDataSourceRoutes(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)

	t.Run("list is filtered by access", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/data_sources", memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]dataSourceJSON](t, rec), 1)

		rec = e.do(t, http.MethodGet, "/api/data_sources", outsiderKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]dataSourceJSON](t, rec))
	})

	t.Run("create is admin only", func(t *testing.T) {
		body := map[string]any{"name": "warehouse", "type": domain.DataSourceTypeDuckDB, "options": "/tmp/w.duckdb"}
		rec := e.do(t, http.MethodPost, "/api/data_sources", memberKey, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = e.do(t, http.MethodPost, "/api/data_sources", adminKey, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		ds := decode[dataSourceJSON](t, rec)
		assert.Equal(t, "warehouse", ds.Name)
		assert.Equal(t, domain.DefaultQueueName, ds.QueueName)
		assert.NotContains(t, rec.Body.String(), "/tmp/w.duckdb")
	})

	t.Run("pause and resume", func(t *testing.T) {
		path := "/api/data_sources/" + e.ds.ID
		rec := e.do(t, http.MethodPost, path+"/pause", memberKey, map[string]any{"reason": "upgrade"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = e.do(t, http.MethodPost, path+"/pause", adminKey, map[string]any{"reason": "upgrade"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		ds := decode[dataSourceJSON](t, rec)
		assert.True(t, ds.Paused)
		assert.Equal(t, "upgrade", ds.PauseReason)

		rec = e.do(t, http.MethodGet, path, memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[dataSourceJSON](t, rec).Paused)

		rec = e.do(t, http.MethodPost, path+"/resume", adminKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decode[dataSourceJSON](t, rec).Paused)
	})
}
