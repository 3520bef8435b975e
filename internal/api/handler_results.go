package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"querydesk/internal/domain"
	"querydesk/internal/service/query"
)

// paramPrefix marks query-string parameter values, as in ?p_country=NL.
const paramPrefix = "p_"

type executeBody struct {
	DataSourceID any            `json:"data_source_id"`
	Query        string         `json:"query"`
	Parameters   map[string]any `json:"parameters"`
	MaxAge       any            `json:"max_age"`
}

// executeAdhoc handles POST /query_results.
func (h *Handler) executeAdhoc(w http.ResponseWriter, r *http.Request) {
	var body executeBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeJobError(w, r, err)
		return
	}
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	maxAge, err := parseMaxAge(body.MaxAge)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	dsID, err := cast.ToStringE(body.DataSourceID)
	if err != nil {
		h.writeJobError(w, r, domain.ErrValidation("invalid data_source_id"))
		return
	}

	out, err := h.queries.ExecuteAdhoc(r.Context(), caps, query.AdhocRequest{
		DataSourceID: dsID,
		QueryText:    body.Query,
		Parameters:   collectParameters(r, body.Parameters),
		MaxAge:       maxAge,
	})
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

// executeSaved handles POST /queries/{queryID}/results.
func (h *Handler) executeSaved(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	var body executeBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			h.writeJobError(w, r, err)
			return
		}
	}
	caps, err := h.queryCaps(r.Context(), queryID)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	maxAge, err := parseMaxAge(body.MaxAge)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	out, err := h.queries.ExecuteSaved(r.Context(), caps, queryID, collectParameters(r, body.Parameters), maxAge)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

// refresh handles POST /queries/{queryID}/refresh.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	caps, err := h.queryCaps(r.Context(), queryID)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	job, err := h.queries.Refresh(r.Context(), caps, queryID)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]jobJSON{"job": jobToAPI(job)})
}

// getResult handles GET /query_results/{resultID}.
func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	id, format, err := splitFormat(chi.URLParam(r, "resultID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.queries.GetByID(r.Context(), caps, id, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.render(w, r, format, res)
}

// latestResult handles GET /queries/{queryID}/results[.ext]. The latest
// result moves, so it is never marked cacheable.
func (h *Handler) latestResult(format resultFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queryID := chi.URLParam(r, "queryID")
		caps, err := h.queryCaps(r.Context(), queryID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		res, err := h.queries.Latest(r.Context(), caps, queryID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.render(w, r, format, res)
	}
}

// queryResult handles GET /queries/{queryID}/results/{resultID}[.ext].
// Results are immutable, so the response may be cached privately.
func (h *Handler) queryResult(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	id, format, err := splitFormat(chi.URLParam(r, "resultID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	caps, err := h.queryCaps(r.Context(), queryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.queries.GetByID(r.Context(), caps, id, &queryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cacheMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", h.cacheMaxAge))
	}
	h.render(w, r, format, res)
}

func writeOutcome(w http.ResponseWriter, out *query.Outcome) {
	if out.Result != nil {
		writeJSON(w, http.StatusOK, map[string]resultJSON{"query_result": resultToAPI(out.Result)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]jobJSON{"job": jobToAPI(out.Job)})
}

// collectParameters merges p_<name> query-string values with body values.
// Body values win.
func collectParameters(r *http.Request, body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for key, values := range r.URL.Query() {
		name, ok := strings.CutPrefix(key, paramPrefix)
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	for k, v := range body {
		out[k] = v
	}
	return out
}

// parseMaxAge accepts a number or numeric string. A missing value accepts
// any cached result.
func parseMaxAge(v any) (int, error) {
	if v == nil {
		return -1, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, domain.ErrValidation("max_age must be an integer")
	}
	return n, nil
}
