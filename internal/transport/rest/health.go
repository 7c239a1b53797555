package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// Pinger is the session store check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChannelStatus is the push channel check.
type ChannelStatus interface {
	Connected() bool
	Running() bool
}

type HealthHandler struct {
	store   Pinger
	channel ChannelStatus
}

func NewHealthHandler(store Pinger, channel ChannelStatus) *HealthHandler {
	return &HealthHandler{store: store, channel: channel}
}

// pingHandler → just says the console is up
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "OK"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// healthCheckHandler → session store must answer; a closed push channel
// only degrades the console since it keeps working without live alerts
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]CheckEntry{
		"session_store": h.checkStore(ctx),
	}
	if h.channel != nil {
		components["push_channel"] = h.checkChannel()
	}

	status := HealthHealthy
	for _, entry := range components {
		switch entry.Status {
		case HealthUnhealthy:
			status = HealthUnhealthy
		case HealthDegraded:
			if status == HealthHealthy {
				status = HealthDegraded
			}
		}
	}

	resp := HealthResponse{
		Status:     status,
		CheckedAt:  time.Now(),
		Components: components,
	}

	statusCode := http.StatusOK
	if status == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) checkStore(ctx context.Context) CheckEntry {
	start := time.Now()
	err := h.store.Ping(ctx)

	entry := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	return entry
}

func (h *HealthHandler) checkChannel() CheckEntry {
	connected, running := h.channel.Connected(), h.channel.Running()

	entry := CheckEntry{
		Status:    HealthHealthy,
		CheckedAt: time.Now(),
		Details:   map[string]any{"connected": connected, "running": running},
	}
	if !connected {
		entry.Status = HealthDegraded
		entry.Message = "push channel not connected"
	}
	return entry
}
