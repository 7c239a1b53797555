package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/facilities-console/internal"
	"github.com/frahmantamala/facilities-console/pkg/logger"
)

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an error response. AppErrors keep their status and
// code; anything else becomes a 500.
func (h *BaseHandler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := internal.IsAppError(err)
	if !ok {
		appErr = internal.NewInternalError("Internal server error", err)
	}

	status, body := appErr.ToHTTPResponse()
	if status == 0 {
		status = http.StatusInternalServerError
	}

	log := logger.From(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "code", appErr.Code, "error", err)
	} else {
		log.Warn("request rejected", "status", status, "code", appErr.Code, "message", appErr.Message)
	}

	h.WriteJSON(w, status, body)
}
