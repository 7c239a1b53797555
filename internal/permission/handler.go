package permission

import (
	"context"
	"net/http"
	"strings"

	"github.com/frahmantamala/facilities-console/internal/core/common/validation"
	"github.com/frahmantamala/facilities-console/internal/transport"
)

// ServiceAPI is what the handler needs from the evaluator.
type ServiceAPI interface {
	Checker
	Grants() []string
	Sync(ctx context.Context) ([]string, error)
}

type CheckResponse struct {
	Resource string `json:"resource"`
	Action   string `json:"action,omitempty"`
	Allowed  bool   `json:"allowed"`
}

type GrantsResponse struct {
	Permissions []string `json:"permissions"`
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// Check answers a single query. Without an action it asks whether any
// grant on the resource exists.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	action := strings.TrimSpace(r.URL.Query().Get("action"))
	if appErr := validation.ValidatePermissionQuery(resource, action); appErr != nil {
		h.WriteError(w, r, appErr)
		return
	}

	resp := CheckResponse{Resource: resource, Action: action}
	if action == "" {
		resp.Allowed = h.Service.HasResourcePermission(resource)
	} else {
		resp.Allowed = h.Service.HasPermission(resource, action)
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetGrants(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, GrantsResponse{Permissions: h.Service.Grants()})
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	grants, err := h.Service.Sync(r.Context())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	if grants == nil {
		grants = []string{}
	}
	h.WriteJSON(w, http.StatusOK, GrantsResponse{Permissions: grants})
}
