package session

import (
	"context"
	"net/http"
	"time"

	"github.com/frahmantamala/facilities-console/internal/transport"
)

// Terminator performs the full logout: server call, local clear and the
// teardown that follows the session.changed broadcast.
type Terminator interface {
	Logout(ctx context.Context) error
}

// ChannelStatus reports on the push channel.
type ChannelStatus interface {
	Connected() bool
	Running() bool
}

type ChannelResponse struct {
	Connected bool `json:"connected"`
	Running   bool `json:"running"`
}

type StatusResponse struct {
	Authenticated   bool            `json:"authenticated"`
	Account         *Account        `json:"account,omitempty"`
	AccessExpiresAt *time.Time      `json:"accessExpiresAt,omitempty"`
	Channel         ChannelResponse `json:"channel"`
}

type Handler struct {
	*transport.BaseHandler
	Manager    *Manager
	Terminator Terminator
	Channel    ChannelStatus
}

func NewHandler(baseHandler *transport.BaseHandler, manager *Manager, terminator Terminator, channel ChannelStatus) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Manager:     manager,
		Terminator:  terminator,
		Channel:     channel,
	}
}

func (h *Handler) Status() StatusResponse {
	s := h.Manager.Current()

	resp := StatusResponse{Authenticated: s.IsAuthenticated()}
	if s.Account != nil {
		account := *s.Account
		resp.Account = &account
	}
	if exp, ok := s.AccessExpiresAt(); ok {
		resp.AccessExpiresAt = &exp
	}
	if h.Channel != nil {
		resp.Channel = ChannelResponse{
			Connected: h.Channel.Connected(),
			Running:   h.Channel.Running(),
		}
	}
	return resp
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, h.Status())
}

// Logout is idempotent: signing out of an empty session still succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Terminator.Logout(r.Context()); err != nil {
		h.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
