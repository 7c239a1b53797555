package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/facilities-console/internal/core/datamodel/notification"
	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/obs"
	"github.com/google/uuid"
)

type Config struct {
	// DisplayTimeout retires the displayed alert, counted from display start.
	DisplayTimeout time.Duration
	// ToastTimeout removes a cancellation toast.
	ToastTimeout time.Duration

	Presenter Presenter
	Audio     AudioPlayer
	Logger    *slog.Logger
}

type entry struct {
	alert Alert
	timer *time.Timer
	// gen identifies the display window; a timer firing for an older
	// window is ignored.
	gen uint64
}

type toastEntry struct {
	toast Toast
	timer *time.Timer
}

// Pipeline queues critical notifications and shows them one at a time,
// newest first, with a looping tone while anything is on screen.
type Pipeline struct {
	config Config

	mu      sync.Mutex
	entries []*entry // index 0 is the front
	gen     uint64
	playing bool
	retry   bool
	toasts  []*toastEntry
}

func NewPipeline(config Config) *Pipeline {
	if config.DisplayTimeout <= 0 {
		config.DisplayTimeout = 30 * time.Second
	}
	if config.ToastTimeout <= 0 {
		config.ToastTimeout = 8 * time.Second
	}
	if config.Presenter == nil {
		config.Presenter = nopPresenter{}
	}
	if config.Audio == nil {
		config.Audio = nopAudio{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Pipeline{config: config}
}

// Attach subscribes the pipeline to pushed notifications and resets it when
// the session ends.
func (p *Pipeline) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeNotificationReceived, func(ctx context.Context, event events.Event) error {
		evt, ok := event.(*events.NotificationReceivedEvent)
		if !ok {
			return nil
		}
		p.Handle(evt.Notification)
		return nil
	})
	bus.Subscribe(events.EventTypeSessionChanged, func(ctx context.Context, event events.Event) error {
		evt, ok := event.(*events.SessionChangedEvent)
		if ok && !evt.Authenticated {
			p.Reset()
		}
		return nil
	})
}

// Handle routes a notification: cancellations become toasts, critical
// items enter the alert queue, everything else is ignored.
func (p *Pipeline) Handle(n notification.Notification) {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now()
	}

	switch {
	case n.IsCancellation():
		p.addToast(n)
	case n.IsCritical():
		p.enqueue(n)
	default:
		p.config.Logger.Debug("notification below alert threshold",
			"notification_id", n.ID,
			"type", n.Type,
			"priority", n.Priority)
	}
}

func (p *Pipeline) enqueue(n notification.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := n.Key()
	if i := p.indexOf(key); i >= 0 {
		p.config.Logger.Info("replacing queued alert", "key", key)
		p.entries[i].stop()
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
	}

	if len(p.entries) > 0 {
		p.entries[0].requeue()
	}

	e := &entry{alert: Alert{
		Notification: n,
		Key:          key,
		State:        StateQueued,
		QueuedAt:     time.Now(),
	}}
	p.entries = append([]*entry{e}, p.entries...)

	p.config.Logger.Warn("critical alert received",
		"key", key,
		"type", n.Type,
		"location", n.Location,
		"pending", len(p.entries))

	p.displayFront()
}

// displayFront shows entries[0] with a fresh display window.
func (p *Pipeline) displayFront() {
	front := p.entries[0]
	now := time.Now()

	p.gen++
	gen := p.gen
	front.gen = gen
	front.alert.State = StateDisplayed
	front.alert.DisplayedAt = &now
	front.timer = time.AfterFunc(p.config.DisplayTimeout, func() {
		p.expire(front.alert.Key, gen)
	})

	p.config.Presenter.ShowAlert(front.alert, len(p.entries)-1)
	p.startAudio(true)
}

func (p *Pipeline) expire(key string, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return
	}
	front := p.entries[0]
	if front.alert.Key != key || front.gen != gen || front.alert.State != StateDisplayed {
		return
	}
	p.config.Logger.Info("alert display timed out", "key", key)
	p.retire(0, ReasonTimeout)
}

// Acknowledge dismisses the alert with the given key, displayed or queued.
// It reports false when the key is unknown or already dismissed. It also
// counts as an operator interaction.
func (p *Pipeline) Acknowledge(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.indexOf(key)
	if i < 0 {
		p.config.Logger.Debug("acknowledge ignored: alert not active", "key", key)
		p.interact()
		return false
	}
	p.config.Logger.Info("alert acknowledged", "key", key)
	p.retire(i, ReasonAcknowledged)
	p.interact()
	return true
}

// AcknowledgeDisplayed dismisses whatever is on screen.
func (p *Pipeline) AcknowledgeDisplayed() (string, bool) {
	p.mu.Lock()
	if len(p.entries) == 0 {
		p.interact()
		p.mu.Unlock()
		return "", false
	}
	key := p.entries[0].alert.Key
	p.mu.Unlock()
	return key, p.Acknowledge(key)
}

func (p *Pipeline) retire(i int, reason string) {
	e := p.entries[i]
	e.stop()
	e.alert.State = StateDismissed
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	obs.AlertsDismissed.WithLabelValues(reason).Inc()

	if len(p.entries) == 0 {
		p.stopAudio()
		p.config.Presenter.HideAlert()
		return
	}
	if i == 0 {
		p.displayFront()
	} else {
		p.config.Presenter.ShowAlert(p.entries[0].alert, len(p.entries)-1)
	}
}

// Interact runs the pending audio retry, if one is armed.
func (p *Pipeline) Interact() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interact()
}

func (p *Pipeline) interact() {
	if !p.retry {
		return
	}
	p.retry = false
	if len(p.entries) == 0 || p.playing {
		return
	}
	p.config.Logger.Info("retrying alert tone after operator interaction")
	p.startAudio(false)
}

// startAudio plays the tone unless it is already playing. On failure a
// single retry is armed when arm is set.
func (p *Pipeline) startAudio(arm bool) {
	if p.playing {
		return
	}
	if err := p.config.Audio.Play(); err != nil {
		p.config.Logger.Warn("alert tone playback failed", "error", err, "retry_armed", arm)
		p.retry = arm
		return
	}
	p.playing = true
}

func (p *Pipeline) stopAudio() {
	p.retry = false
	if !p.playing {
		return
	}
	p.playing = false
	p.config.Audio.Stop()
}

func (p *Pipeline) addToast(n notification.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	t := &toastEntry{toast: Toast{
		ID:           uuid.New().String(),
		Notification: n,
		ShownAt:      now,
		ExpiresAt:    now.Add(p.config.ToastTimeout),
	}}
	id := t.toast.ID
	t.timer = time.AfterFunc(p.config.ToastTimeout, func() {
		p.DismissToast(id)
	})
	p.toasts = append([]*toastEntry{t}, p.toasts...)

	p.config.Logger.Info("audit cancellation notice",
		"toast_id", id,
		"audit_log_id", n.AuditLogID)
	p.config.Presenter.ShowToasts(p.toastList())
}

// DismissToast removes one toast. It reports false for unknown ids.
func (p *Pipeline) DismissToast(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, t := range p.toasts {
		if t.toast.ID != id {
			continue
		}
		t.timer.Stop()
		p.toasts = append(p.toasts[:i], p.toasts[i+1:]...)
		p.config.Presenter.ShowToasts(p.toastList())
		return true
	}
	return false
}

func (p *Pipeline) Toasts() []Toast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.toastList()
}

// Displayed returns the alert on screen, if any.
func (p *Pipeline) Displayed() (Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return Alert{}, false
	}
	return p.entries[0].alert, true
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{Queued: []Alert{}, Toasts: p.toastList()}
	for i, e := range p.entries {
		if i == 0 {
			a := e.alert
			s.Displayed = &a
			continue
		}
		s.Queued = append(s.Queued, e.alert)
	}
	return s
}

// Reset drops every alert and toast, cancels their timers and silences
// the tone.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	hadAlerts := len(p.entries) > 0
	for _, e := range p.entries {
		e.stop()
		obs.AlertsDismissed.WithLabelValues(ReasonReset).Inc()
	}
	p.entries = nil
	for _, t := range p.toasts {
		t.timer.Stop()
	}
	hadToasts := len(p.toasts) > 0
	p.toasts = nil

	p.stopAudio()
	if hadAlerts {
		p.config.Presenter.HideAlert()
	}
	if hadToasts {
		p.config.Presenter.ShowToasts(nil)
	}
	p.config.Logger.Debug("alert pipeline reset")
}

func (p *Pipeline) indexOf(key string) int {
	for i, e := range p.entries {
		if e.alert.Key == key {
			return i
		}
	}
	return -1
}

func (p *Pipeline) toastList() []Toast {
	out := make([]Toast, len(p.toasts))
	for i, t := range p.toasts {
		out[i] = t.toast
	}
	return out
}

func (e *entry) stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// requeue returns a preempted alert to the queue.
func (e *entry) requeue() {
	e.stop()
	e.alert.State = StateQueued
	e.alert.DisplayedAt = nil
}
