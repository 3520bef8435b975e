package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"querydesk/internal/domain"
)

type createDataSourceBody struct {
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Options            string   `json:"options"`
	Groups             []string `json:"groups"`
	ViewOnly           bool     `json:"view_only"`
	QueueName          string   `json:"queue_name"`
	ScheduledQueueName string   `json:"scheduled_queue_name"`
}

type pauseBody struct {
	Reason string `json:"reason"`
}

// listDataSources handles GET /data_sources.
func (h *Handler) listDataSources(w http.ResponseWriter, r *http.Request) {
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sources, err := h.sources.List(r.Context(), caps)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]dataSourceJSON, len(sources))
	for i := range sources {
		out[i] = dataSourceToAPI(&sources[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// createDataSource handles POST /data_sources.
func (h *Handler) createDataSource(w http.ResponseWriter, r *http.Request) {
	var body createDataSourceBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ds, err := h.sources.Create(r.Context(), caps, domain.CreateDataSourceRequest{
		Name:               body.Name,
		Type:               body.Type,
		Options:            body.Options,
		Groups:             body.Groups,
		ViewOnly:           body.ViewOnly,
		QueueName:          body.QueueName,
		ScheduledQueueName: body.ScheduledQueueName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataSourceToAPI(ds))
}

// getDataSource handles GET /data_sources/{dataSourceID}.
func (h *Handler) getDataSource(w http.ResponseWriter, r *http.Request) {
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ds, err := h.sources.Get(r.Context(), caps, chi.URLParam(r, "dataSourceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataSourceToAPI(ds))
}

// pauseDataSource handles POST /data_sources/{dataSourceID}/pause. The body
// with a reason is optional.
func (h *Handler) pauseDataSource(w http.ResponseWriter, r *http.Request) {
	var body pauseBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ds, err := h.sources.Pause(r.Context(), caps, chi.URLParam(r, "dataSourceID"), body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataSourceToAPI(ds))
}

// resumeDataSource handles POST /data_sources/{dataSourceID}/resume.
func (h *Handler) resumeDataSource(w http.ResponseWriter, r *http.Request) {
	caps, err := h.callerCaps(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ds, err := h.sources.Resume(r.Context(), caps, chi.URLParam(r, "dataSourceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataSourceToAPI(ds))
}
