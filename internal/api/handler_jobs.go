package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"querydesk/internal/domain"
	"querydesk/internal/service/security"
)

// getJob handles GET /jobs/{jobID}.
func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.visibleJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]jobJSON{"job": jobToAPI(job)})
}

// queueStatus handles GET /queue_status[/{jobID}]. With a job id the queue
// and data source default to the job's own.
func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queue := r.URL.Query().Get("queue")
	dataSourceID := r.URL.Query().Get("data_source")

	if jobID := chi.URLParam(r, "jobID"); jobID != "" {
		job, err := h.visibleJob(ctx, jobID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if queue == "" {
			queue = job.Queue
		}
		if dataSourceID == "" {
			dataSourceID = job.DataSourceID
		}
	} else if _, err := h.callerCaps(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}

	status, err := h.jobs.QueueStatus(ctx, queue, dataSourceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// visibleJob loads a job the caller may see: principals need view access to
// its data source, and a query API key only sees jobs of its own query that
// run the query's unparameterized text.
func (h *Handler) visibleJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var caps *security.Capabilities
	if _, ok := domain.PrincipalFromContext(ctx); ok || job.QueryID == nil {
		caps, err = h.callerCaps(ctx)
	} else {
		caps, err = h.queryCaps(ctx, *job.QueryID)
	}
	if err != nil {
		return nil, hideJob(err, jobID)
	}
	if caps.QueryScoped() {
		q := caps.ScopedQuery()
		if job.QueryHash != q.QueryHash || job.DataSourceID != q.DataSourceID {
			return nil, domain.ErrNotFound("job %q not found", jobID)
		}
		return job, nil
	}
	if _, err := h.sources.Get(ctx, caps, job.DataSourceID); err != nil {
		return nil, err
	}
	return job, nil
}

// hideJob reports a key mismatch on the job's query as the job not existing.
func hideJob(err error, jobID string) error {
	if httpStatusFromDomainError(err) == http.StatusNotFound {
		return domain.ErrNotFound("job %q not found", jobID)
	}
	return err
}
