// Package api exposes query execution, cached results and job status over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"querydesk/internal/domain"
	"querydesk/internal/service/datasource"
	"querydesk/internal/service/jobs"
	"querydesk/internal/service/params"
	"querydesk/internal/service/query"
	"querydesk/internal/service/security"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config wires the services behind the handlers.
type Config struct {
	Queries     *query.Service
	Params      *params.Resolver
	Jobs        *jobs.Coordinator
	DataSources *datasource.Service
	Evaluator   *security.Evaluator
	// CacheMaxAge is the Cache-Control max-age in seconds sent with
	// specific-result responses.
	CacheMaxAge int
	Logger      *slog.Logger
}

// Handler serves the /api routes.
type Handler struct {
	queries     *query.Service
	params      *params.Resolver
	jobs        *jobs.Coordinator
	sources     *datasource.Service
	eval        *security.Evaluator
	cacheMaxAge int
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		queries:     cfg.Queries,
		params:      cfg.Params,
		jobs:        cfg.Jobs,
		sources:     cfg.DataSources,
		eval:        cfg.Evaluator,
		cacheMaxAge: cfg.CacheMaxAge,
		logger:      logger,
	}
}

// Routes registers the API routes on r. Authentication is expected to run
// before them.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/query_results", h.executeAdhoc)
	r.Get("/query_results/{resultID}", h.getResult)

	r.Post("/queries", h.createQuery)
	r.Get("/queries/{queryID}", h.getQuery)
	r.Delete("/queries/{queryID}", h.deleteQuery)
	r.Post("/queries/{queryID}/results", h.executeSaved)
	r.Get("/queries/{queryID}/results", h.latestResult(formatJSON))
	r.Get("/queries/{queryID}/results.json", h.latestResult(formatJSON))
	r.Get("/queries/{queryID}/results.csv", h.latestResult(formatCSV))
	r.Get("/queries/{queryID}/results.xlsx", h.latestResult(formatXLSX))
	r.Get("/queries/{queryID}/results/{resultID}", h.queryResult)
	r.Post("/queries/{queryID}/refresh", h.refresh)
	r.Get("/queries/{queryID}/dropdown", h.dropdown)
	r.Get("/queries/{queryID}/dropdowns/{dropdownID}", h.associatedDropdown)

	r.Get("/jobs/{jobID}", h.getJob)
	r.Get("/queue_status", h.queueStatus)
	r.Get("/queue_status/{jobID}", h.queueStatus)

	r.Get("/data_sources", h.listDataSources)
	r.Post("/data_sources", h.createDataSource)
	r.Get("/data_sources/{dataSourceID}", h.getDataSource)
	r.Post("/data_sources/{dataSourceID}/pause", h.pauseDataSource)
	r.Post("/data_sources/{dataSourceID}/resume", h.resumeDataSource)
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// callerCaps resolves capabilities for routes that are not scoped to a query.
func (h *Handler) callerCaps(ctx context.Context) (*security.Capabilities, error) {
	return h.eval.ForContext(ctx)
}

// queryCaps resolves capabilities for routes that target queryID, where a
// query API key is also accepted.
func (h *Handler) queryCaps(ctx context.Context, queryID string) (*security.Capabilities, error) {
	return h.eval.ForRequest(ctx, queryID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Code: status, Message: publicMessage(status, err)})
}

// writeJobError reports a failed execute request with a placeholder job.
func (h *Handler) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "execute failed", "path", r.URL.Path, "error", err)
	}
	msg := publicMessage(status, err)
	writeJSON(w, status, jobErrorBody{Job: placeholderJob(msg), Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// === Response shapes ===

type jobJSON struct {
	ID            string          `json:"id"`
	State         domain.JobState `json:"state"`
	Queue         string          `json:"queue,omitempty"`
	Worker        *string         `json:"worker,omitempty"`
	Error         *string         `json:"error,omitempty"`
	QueryResultID *string         `json:"query_result_id,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

func jobToAPI(j *domain.Job) jobJSON {
	updated := j.UpdatedAt
	return jobJSON{
		ID:            j.ID,
		State:         j.State,
		Queue:         j.Queue,
		Worker:        j.Worker,
		Error:         j.Error,
		QueryResultID: j.ResultID,
		UpdatedAt:     &updated,
	}
}

type resultJSON struct {
	ID           string            `json:"id"`
	QueryHash    string            `json:"query_hash"`
	Query        string            `json:"query"`
	Data         domain.ResultData `json:"data"`
	DataSourceID string            `json:"data_source_id"`
	Runtime      float64           `json:"runtime"`
	RetrievedAt  time.Time         `json:"retrieved_at"`
}

func resultToAPI(r *domain.Result) resultJSON {
	data := r.Data
	if data.Columns == nil {
		data.Columns = []domain.Column{}
	}
	if data.Rows == nil {
		data.Rows = []domain.Row{}
	}
	return resultJSON{
		ID:           r.ID,
		QueryHash:    r.QueryHash,
		Query:        r.QueryText,
		Data:         data,
		DataSourceID: r.DataSourceID,
		Runtime:      r.Runtime.Seconds(),
		RetrievedAt:  r.RetrievedAt,
	}
}

type queryJSON struct {
	ID             string             `json:"id"`
	DataSourceID   string             `json:"data_source_id"`
	Name           string             `json:"name"`
	Query          string             `json:"query"`
	QueryHash      string             `json:"query_hash"`
	Parameters     []domain.Parameter `json:"parameters"`
	LatestResultID *string            `json:"latest_query_data_id"`
	APIKey         string             `json:"api_key,omitempty"`
	Schedule       *string            `json:"schedule"`
	CreatedBy      string             `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
}

// queryToAPI renders q. The API key is only shown to principals.
func queryToAPI(q *domain.Query, caps *security.Capabilities) queryJSON {
	ps := q.Parameters
	if ps == nil {
		ps = []domain.Parameter{}
	}
	out := queryJSON{
		ID:             q.ID,
		DataSourceID:   q.DataSourceID,
		Name:           q.Name,
		Query:          q.QueryText,
		QueryHash:      q.QueryHash,
		Parameters:     ps,
		LatestResultID: q.LatestResultID,
		Schedule:       q.Schedule,
		CreatedBy:      q.CreatedBy,
		CreatedAt:      q.CreatedAt,
	}
	if !caps.QueryScoped() {
		out.APIKey = q.APIKey
	}
	return out
}

type dataSourceJSON struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	Groups             []string  `json:"groups"`
	ViewOnly           bool      `json:"view_only"`
	Paused             bool      `json:"paused"`
	PauseReason        string    `json:"pause_reason,omitempty"`
	QueueName          string    `json:"queue_name"`
	ScheduledQueueName string    `json:"scheduled_queue_name"`
	CreatedAt          time.Time `json:"created_at"`
}

// dataSourceToAPI renders ds without its connection options.
func dataSourceToAPI(ds *domain.DataSource) dataSourceJSON {
	groups := ds.Groups
	if groups == nil {
		groups = []string{}
	}
	return dataSourceJSON{
		ID:                 ds.ID,
		Name:               ds.Name,
		Type:               ds.Type,
		Groups:             groups,
		ViewOnly:           ds.ViewOnly,
		Paused:             ds.Paused,
		PauseReason:        ds.PauseReason,
		QueueName:          ds.Queue(false),
		ScheduledQueueName: ds.Queue(true),
		CreatedAt:          ds.CreatedAt,
	}
}
