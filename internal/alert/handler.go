package alert

import (
	"net/http"

	"github.com/frahmantamala/facilities-console/internal"
	"github.com/frahmantamala/facilities-console/internal/transport"
	"github.com/go-chi/chi"
)

type AlertsResponse struct {
	Displayed *Alert  `json:"displayed,omitempty"`
	Queued    []Alert `json:"queued"`
}

type ToastsResponse struct {
	Toasts []Toast `json:"toasts"`
}

type AcknowledgeResponse struct {
	Key          string `json:"key"`
	Acknowledged bool   `json:"acknowledged"`
}

type Handler struct {
	*transport.BaseHandler
	Pipeline *Pipeline
}

func NewHandler(baseHandler *transport.BaseHandler, pipeline *Pipeline) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Pipeline:    pipeline,
	}
}

func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	snap := h.Pipeline.Snapshot()
	h.WriteJSON(w, http.StatusOK, AlertsResponse{
		Displayed: snap.Displayed,
		Queued:    snap.Queued,
	})
}

// Acknowledge retires the alert keyed by the report or audit id in the
// path. The call is an operator interaction even when the key is unknown.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	if !h.Pipeline.Acknowledge(key) {
		h.WriteError(w, r, internal.ErrNotificationNotFound)
		return
	}
	h.WriteJSON(w, http.StatusOK, AcknowledgeResponse{Key: key, Acknowledged: true})
}

func (h *Handler) GetToasts(w http.ResponseWriter, r *http.Request) {
	toasts := h.Pipeline.Toasts()
	if toasts == nil {
		toasts = []Toast{}
	}
	h.WriteJSON(w, http.StatusOK, ToastsResponse{Toasts: toasts})
}

func (h *Handler) DismissToast(w http.ResponseWriter, r *http.Request) {
	if !h.Pipeline.DismissToast(chi.URLParam(r, "id")) {
		h.WriteError(w, r, internal.ErrToastNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
