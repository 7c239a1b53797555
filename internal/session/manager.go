package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/frahmantamala/facilities-console/internal/core/events"
)

// Change reasons carried on session.changed events.
const (
	ReasonLoaded    = "loaded"
	ReasonLogin     = "login"
	ReasonRefreshed = "refreshed"
	ReasonSynced    = "synced"
	ReasonLogout    = "logout"
	ReasonExpired   = "expired"
	ReasonExternal  = "external"
)

// Manager owns the process-wide session. Every mutation goes through it so
// that the persisted copy, the in-memory copy and the session.changed
// broadcast never drift apart.
type Manager struct {
	repo   Repository
	bus    *events.EventBus
	logger *slog.Logger

	// writes orders mutations and their broadcasts.
	writes sync.Mutex

	mu      sync.RWMutex
	current Session
	epoch   uint64
}

func NewManager(repo Repository, bus *events.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// Init loads the persisted session. It does not broadcast.
func (m *Manager) Init(ctx context.Context) error {
	s, err := m.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.logger.Info("session loaded",
		"authenticated", s.IsAuthenticated(),
		"user_id", s.UserID())
	return nil
}

func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSession(m.current)
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.IsAuthenticated()
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.AccessToken
}

func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.RefreshToken
}

// Epoch identifies the current session. It moves on every login, logout
// and external change, but not on a token refresh or a permission sync.
func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Update replaces the whole session.
func (m *Manager) Update(ctx context.Context, s Session, reason string) error {
	m.writes.Lock()
	defer m.writes.Unlock()
	return m.commit(ctx, s, reason, true)
}

// UpdateTokens stores a credential pair obtained while epoch was current.
// A nil account keeps the cached one. It returns ErrNotAuthenticated when
// the session ended or was replaced in the meantime.
func (m *Manager) UpdateTokens(ctx context.Context, epoch uint64, creds Credentials, account *Account) error {
	m.writes.Lock()
	defer m.writes.Unlock()

	next, err := m.currentAt(epoch)
	if err != nil {
		m.logger.Warn("discarding refreshed tokens", "error", err)
		return err
	}
	next.Credentials = creds
	if account != nil {
		next.Account = account
	}
	return m.commit(ctx, next, ReasonRefreshed, false)
}

// UpdateAccount replaces the cached account record, keeping the credentials.
// Like UpdateTokens it refuses to write into a session other than epoch.
func (m *Manager) UpdateAccount(ctx context.Context, epoch uint64, account Account) error {
	m.writes.Lock()
	defer m.writes.Unlock()

	next, err := m.currentAt(epoch)
	if err != nil {
		m.logger.Warn("discarding synced account", "error", err)
		return err
	}
	next.Account = &account
	return m.commit(ctx, next, ReasonSynced, false)
}

// Clear purges every stored credential.
func (m *Manager) Clear(ctx context.Context, reason string) error {
	m.writes.Lock()
	defer m.writes.Unlock()

	if err := m.repo.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	m.mu.Lock()
	m.current = Session{}
	m.epoch++
	m.mu.Unlock()

	m.broadcast(ctx, Session{}, reason)
	return nil
}

// commit persists s, swaps it in and broadcasts it. The caller holds writes.
func (m *Manager) commit(ctx context.Context, s Session, reason string, renew bool) error {
	if err := m.repo.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.mu.Lock()
	m.current = cloneSession(s)
	if renew {
		m.epoch++
	}
	m.mu.Unlock()

	m.broadcast(ctx, s, reason)
	return nil
}

func (m *Manager) currentAt(epoch uint64) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.epoch != epoch {
		return Session{}, fmt.Errorf("%w: session changed since epoch %d", ErrNotAuthenticated, epoch)
	}
	if !m.current.IsAuthenticated() {
		return Session{}, ErrNotAuthenticated
	}
	return cloneSession(m.current), nil
}

// Reload re-reads the store after another process wrote to it and
// broadcasts only when the stored session differs from the one in memory.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	m.writes.Lock()
	defer m.writes.Unlock()

	s, err := m.repo.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reload session: %w", err)
	}

	m.mu.Lock()
	if m.current.Equal(s) {
		m.mu.Unlock()
		return false, nil
	}
	m.current = cloneSession(s)
	m.epoch++
	m.mu.Unlock()

	m.logger.Info("session changed outside this process",
		"authenticated", s.IsAuthenticated(),
		"user_id", s.UserID())
	m.broadcast(ctx, s, ReasonExternal)
	return true, nil
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.repo.Ping(ctx)
}

// Subscribe registers a handler for session.changed events. Handlers run
// before the mutation that fired them returns, so they may read the session
// but must not change it.
func (m *Manager) Subscribe(handler func(ctx context.Context, evt *events.SessionChangedEvent) error) {
	m.bus.Subscribe(events.EventTypeSessionChanged, func(ctx context.Context, event events.Event) error {
		evt, ok := event.(*events.SessionChangedEvent)
		if !ok {
			return nil
		}
		return handler(ctx, evt)
	})
}

func (m *Manager) broadcast(ctx context.Context, s Session, reason string) {
	evt := events.NewSessionChangedEvent(s.IsAuthenticated(), s.UserID(), s.Role(), reason)
	if err := m.bus.PublishSync(ctx, evt); err != nil {
		m.logger.Error("session change handler failed", "reason", reason, "error", err)
	}
}

func cloneSession(s Session) Session {
	if s.Account == nil {
		return s
	}
	acct := *s.Account
	acct.Permissions = append([]string(nil), s.Account.Permissions...)
	s.Account = &acct
	return s
}
