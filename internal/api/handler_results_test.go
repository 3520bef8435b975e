package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"querydesk/internal/domain"
	"querydesk/internal/middleware"
)

func TestExecuteAdhoc(t *testing.T) {
	t.Parallel()

	t.Run("member gets a job handle", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		rec := e.do(t, http.MethodPost, "/api/query_results", memberKey,
			map[string]any{"data_source_id": e.ds.ID, "query": "SELECT 42"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		out := decode[outcomeResponse](t, rec)
		require.NotNil(t, out.Job)
		assert.Nil(t, out.QueryResult)
		job := *out.Job
		assert.NotEmpty(t, job["id"])
		assert.Equal(t, string(domain.JobWaiting), job["state"])
		assert.Equal(t, domain.DefaultQueueName, job["queue"])
	})

	t.Run("cached result is returned for any max age", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		res := e.seedResult(t, "SELECT 1", oneColumn(), false)

		rec := e.do(t, http.MethodPost, "/api/query_results", memberKey,
			map[string]any{"data_source_id": e.ds.ID, "query": "SELECT   1 -- cached", "max_age": -1})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		out := decode[outcomeResponse](t, rec)
		require.NotNil(t, out.QueryResult)
		assert.Nil(t, out.Job)
		assert.Equal(t, res.ID, (*out.QueryResult)["id"])
		assert.InDelta(t, 0.25, (*out.QueryResult)["runtime"], 0.001)
	})

	t.Run("max age as string is accepted", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		e.seedResult(t, "SELECT 1", oneColumn(), false)

		rec := e.do(t, http.MethodPost, "/api/query_results", memberKey,
			map[string]any{"data_source_id": e.ds.ID, "query": "SELECT 1", "max_age": "0"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotNil(t, decode[outcomeResponse](t, rec).Job)
	})

	t.Run("denied caller gets a failed placeholder job", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		rec := e.do(t, http.MethodPost, "/api/query_results", outsiderKey,
			map[string]any{"data_source_id": e.ds.ID, "query": "SELECT 1"})
		require.Equal(t, http.StatusForbidden, rec.Code)

		out := decode[outcomeResponse](t, rec)
		require.NotNil(t, out.Job)
		job := *out.Job
		assert.Equal(t, "", job["id"])
		assert.Equal(t, string(domain.JobFailed), job["state"])
		assert.Equal(t, out.Message, job["error"])
		assert.NotContains(t, job, "queue")
	})

	t.Run("paused source is a bad request", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		require.NoError(t, e.sources.SetPaused(context.Background(), e.ds.ID, true, "maintenance"))

		rec := e.do(t, http.MethodPost, "/api/query_results", memberKey,
			map[string]any{"data_source_id": e.ds.ID, "query": "SELECT 1"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		out := decode[outcomeResponse](t, rec)
		require.NotNil(t, out.Job)
		assert.Contains(t, out.Message, "maintenance")
	})

	t.Run("missing parameter values are a bad request", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		rec := e.do(t, http.MethodPost, "/api/query_results", memberKey,
			map[string]any{"data_source_id": e.ds.ID, "query": "SELECT {{n}}"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotNil(t, decode[outcomeResponse](t, rec).Job)
	})

	t.Run("query string parameters bind", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		rec := e.do(t, http.MethodPost, "/api/query_results?p_n=7", memberKey,
			map[string]any{"data_source_id": e.ds.ID, "query": "SELECT {{n}}"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotNil(t, decode[outcomeResponse](t, rec).Job)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		e := setupAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/api/query_results", strings.NewReader("{"))
		req.Header.Set(middleware.DefaultAPIKeyHeader, memberKey)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotNil(t, decode[outcomeResponse](t, rec).Job)
	})
}

func TestExecuteSaved(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)
	q := e.saved(t, "SELECT * FROM t WHERE n = {{n}}", domain.Parameter{Name: "n", Type: domain.ParamNumber})

	t.Run("body parameters win over the query string", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/queries/"+q.ID+"/results?p_n=abc", memberKey,
			map[string]any{"parameters": map[string]any{"n": 3}, "max_age": 0})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotNil(t, decode[outcomeResponse](t, rec).Job)
	})

	t.Run("invalid parameter value", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/queries/"+q.ID+"/results?p_n=abc", memberKey, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(domain.JobFailed), (*decode[outcomeResponse](t, rec).Job)["state"])
	})

	t.Run("query API key cannot execute", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/queries/"+q.ID+"/results?p_n=1&api_key="+q.APIKey, "", nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.NotNil(t, decode[outcomeResponse](t, rec).Job)
	})

	t.Run("unknown query", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/queries/nope/results", memberKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)
	q := e.saved(t, "SELECT 1")

	rec := e.do(t, http.MethodPost, "/api/queries/"+q.ID+"/refresh", memberKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	job := *decode[outcomeResponse](t, rec).Job
	assert.Equal(t, domain.DefaultScheduledQueueName, job["queue"])
}

func TestQueryResults_CacheControl(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)
	q := e.saved(t, "SELECT 1")
	res := e.seedResult(t, "SELECT 1", oneColumn(), true)

	t.Run("latest result is not cacheable", func(t *testing.T) {
		for _, path := range []string{"/results", "/results.json"} {
			rec := e.do(t, http.MethodGet, "/api/queries/"+q.ID+path, memberKey, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Empty(t, rec.Header().Get("Cache-Control"), path)
			assert.Equal(t, res.ID, (*decode[outcomeResponse](t, rec).QueryResult)["id"])
		}
	})

	t.Run("specific result is privately cacheable", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/queries/"+q.ID+"/results/"+res.ID, memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, fmt.Sprintf("private, max-age=%d", testCacheMaxAge), rec.Header().Get("Cache-Control"))
	})

	t.Run("direct result access is not cacheable", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/query_results/"+res.ID, memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Empty(t, rec.Header().Get("Cache-Control"))
	})

	t.Run("no latest result", func(t *testing.T) {
		other := e.saved(t, "SELECT 2")
		rec := e.do(t, http.MethodGet, "/api/queries/"+other.ID+"/results", memberKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/queries/"+q.ID+"/results/"+res.ID+".pdf", memberKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQueryResults_Access(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)
	q := e.saved(t, "SELECT 1")
	own := e.seedResult(t, "SELECT 1", oneColumn(), true)
	foreign := e.seedResult(t, "SELECT 2", oneColumn(), false)

	tests := []struct {
		name     string
		path     string
		key      string
		wantCode int
	}{
		{"outsider direct", "/api/query_results/" + own.ID, outsiderKey, http.StatusForbidden},
		{"outsider through query", "/api/queries/" + q.ID + "/results/" + own.ID, outsiderKey, http.StatusForbidden},
		{"member mismatched result", "/api/queries/" + q.ID + "/results/" + foreign.ID, memberKey, http.StatusNotFound},
		{"admin mismatched result", "/api/queries/" + q.ID + "/results/" + foreign.ID, adminKey, http.StatusNotFound},
		{"query key own result", "/api/queries/" + q.ID + "/results/" + own.ID + "?api_key=" + q.APIKey, "", http.StatusOK},
		{"query key latest", "/api/queries/" + q.ID + "/results.json?api_key=" + q.APIKey, "", http.StatusOK},
		{"query key foreign result", "/api/queries/" + q.ID + "/results/" + foreign.ID + "?api_key=" + q.APIKey, "", http.StatusNotFound},
		{"query key direct access", "/api/query_results/" + own.ID + "?api_key=" + q.APIKey, "", http.StatusForbidden},
		{"wrong query key", "/api/queries/" + q.ID + "/results/" + own.ID + "?api_key=bogus", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, tt.path, tt.key, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestQueryResults_Downloads(t *testing.T) {
	t.Parallel()
	e := setupAPI(t)
	q := e.saved(t, "SELECT a, b FROM t")
	res := e.seedResult(t, "SELECT a, b FROM t", domain.ResultData{
		Columns: []domain.Column{{Name: "a"}, {Name: "b"}},
		Rows:    []domain.Row{{"a": 1}, {"b": "x"}},
	}, true)

	t.Run("csv writes blanks for missing keys", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/queries/"+q.ID+"/results/"+res.ID+".csv", memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
		assert.Equal(t, "a,b\n1,\n,x\n", rec.Body.String())
	})

	t.Run("xlsx writes blanks for missing keys", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/queries/"+q.ID+"/results.xlsx", memberKey, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close() //nolint:errcheck
		rows, err := f.GetRows(sheetName)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"a", "b"}, rows[0])
		assert.Equal(t, []string{"1"}, rows[1])
		assert.Equal(t, []string{"", "x"}, rows[2])
	})
}
