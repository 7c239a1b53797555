package alert

import (
	"time"

	"github.com/frahmantamala/facilities-console/internal/core/datamodel/notification"
)

type State string

const (
	StateQueued    State = "queued"
	StateDisplayed State = "displayed"
	StateDismissed State = "dismissed"
)

// Dismissal reasons, also used as the metrics label.
const (
	ReasonAcknowledged = "acknowledged"
	ReasonTimeout      = "timeout"
	ReasonReset        = "reset"
)

type Alert struct {
	notification.Notification
	Key         string     `json:"key"`
	State       State      `json:"state"`
	QueuedAt    time.Time  `json:"queuedAt"`
	DisplayedAt *time.Time `json:"displayedAt,omitempty"`
}

// Toast is a non-blocking notice for a cancelled audit.
type Toast struct {
	ID string `json:"id"`
	notification.Notification
	ShownAt   time.Time `json:"shownAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Snapshot struct {
	Displayed *Alert  `json:"displayed,omitempty"`
	Queued    []Alert `json:"queued"`
	Toasts    []Toast `json:"toasts"`
}

// Presenter renders the pipeline state. Calls are serialised by the
// pipeline and must not call back into it.
type Presenter interface {
	ShowAlert(a Alert, pending int)
	HideAlert()
	ShowToasts(toasts []Toast)
}

// AudioPlayer loops the alert tone. Stop is only called after a Play that
// returned nil.
type AudioPlayer interface {
	Play() error
	Stop()
}

type nopPresenter struct{}

func (nopPresenter) ShowAlert(Alert, int) {}
func (nopPresenter) HideAlert()          {}
func (nopPresenter) ShowToasts([]Toast)  {}

type nopAudio struct{}

func (nopAudio) Play() error { return nil }
func (nopAudio) Stop()       {}
