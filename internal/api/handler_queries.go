package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"querydesk/internal/domain"
	"querydesk/internal/service/params"
)

type createQueryBody struct {
	DataSourceID any                `json:"data_source_id"`
	Name         string             `json:"name"`
	Query        string             `json:"query"`
	Parameters   []domain.Parameter `json:"parameters"`
	Schedule     *string            `json:"schedule"`
}

// createQuery handles POST /queries.
func (h *Handler) createQuery(w http.ResponseWriter, r *http.Request) {
	var body createQueryBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dsID, err := cast.ToStringE(body.DataSourceID)
	if err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid data_source_id"))
		return
	}
	q, err := h.queries.CreateQuery(r.Context(), caps, domain.CreateQueryRequest{
		DataSourceID: dsID,
		Name:         body.Name,
		QueryText:    body.Query,
		Parameters:   body.Parameters,
		Schedule:     body.Schedule,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, queryToAPI(q, caps))
}

// getQuery handles GET /queries/{queryID}.
func (h *Handler) getQuery(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	caps, err := h.queryCaps(r.Context(), queryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := h.queries.GetQuery(r.Context(), caps, queryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryToAPI(q, caps))
}

// deleteQuery handles DELETE /queries/{queryID}.
func (h *Handler) deleteQuery(w http.ResponseWriter, r *http.Request) {
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.queries.DeleteQuery(r.Context(), caps, chi.URLParam(r, "queryID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dropdown handles GET /queries/{queryID}/dropdown.
func (h *Handler) dropdown(w http.ResponseWriter, r *http.Request) {
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	opts, err := h.params.QueryOptions(r.Context(), caps, chi.URLParam(r, "queryID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOptions(w, opts)
}

// associatedDropdown handles GET /queries/{queryID}/dropdowns/{dropdownID}.
func (h *Handler) associatedDropdown(w http.ResponseWriter, r *http.Request) {
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	opts, err := h.params.ResolveDropdown(r.Context(), caps, chi.URLParam(r, "queryID"), chi.URLParam(r, "dropdownID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOptions(w, opts)
}

func writeOptions(w http.ResponseWriter, opts []params.Option) {
	if opts == nil {
		opts = []params.Option{}
	}
	writeJSON(w, http.StatusOK, opts)
}
