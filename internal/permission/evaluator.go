package permission

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/session"
)

const (
	// ActionAll on a resource subsumes every action on that resource.
	ActionAll = "ALL"
	// ActionAdmin on any resource subsumes every (resource, action) pair.
	ActionAdmin = "ADMIN_ACTION"
)

// Fetcher retrieves the operator's role and grants from the API.
type Fetcher interface {
	FetchGrants(ctx context.Context) (role string, grants []string, err error)
}

// AccountStore is where the evaluator reads and writes the cached account.
type AccountStore interface {
	Current() session.Session
	Epoch() uint64
	UpdateAccount(ctx context.Context, epoch uint64, account session.Account) error
}

// Checker answers permission questions. The HTTP middleware depends on it.
type Checker interface {
	HasPermission(resource, action string) bool
	HasResourcePermission(resource string) bool
}

// Evaluator holds the current grant set. Checks never touch the network.
type Evaluator struct {
	fetcher Fetcher
	store   AccountStore
	logger  *slog.Logger

	mu        sync.RWMutex
	grants    map[string]struct{}
	resources map[string]struct{}
	admin     bool
}

func NewEvaluator(fetcher Fetcher, store AccountStore, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		fetcher:   fetcher,
		store:     store,
		logger:    logger,
		grants:    map[string]struct{}{},
		resources: map[string]struct{}{},
	}
}

// Load replaces the grant set. Malformed entries are skipped.
func (e *Evaluator) Load(perms []string) {
	grants, resources, admin := e.parse(perms)

	e.mu.Lock()
	e.grants = grants
	e.resources = resources
	e.admin = admin
	e.mu.Unlock()
}

func (e *Evaluator) parse(perms []string) (map[string]struct{}, map[string]struct{}, bool) {
	grants := make(map[string]struct{}, len(perms))
	resources := make(map[string]struct{}, len(perms))
	admin := false

	for _, p := range perms {
		resource, action, ok := parseGrant(p)
		if !ok {
			e.logger.Debug("skipping malformed grant", "grant", p)
			continue
		}
		grants[resource+":"+action] = struct{}{}
		resources[resource] = struct{}{}
		if action == ActionAdmin {
			admin = true
		}
	}
	return grants, resources, admin
}

func (e *Evaluator) HasPermission(resource, action string) bool {
	resource, action = normalize(resource), normalize(action)
	if resource == "" || action == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.admin {
		return true
	}
	if _, ok := e.grants[resource+":"+action]; ok {
		return true
	}
	_, ok := e.grants[resource+":"+ActionAll]
	return ok
}

// HasAnyPermission is false when no actions are given.
func (e *Evaluator) HasAnyPermission(resource string, actions ...string) bool {
	for _, action := range actions {
		if e.HasPermission(resource, action) {
			return true
		}
	}
	return false
}

// HasAllPermissions is false when no actions are given.
func (e *Evaluator) HasAllPermissions(resource string, actions ...string) bool {
	if len(actions) == 0 {
		return false
	}
	for _, action := range actions {
		if !e.HasPermission(resource, action) {
			return false
		}
	}
	return true
}

// HasResourcePermission reports whether any grant names resource. The
// super-admin marker does not count unless it is granted on resource itself.
func (e *Evaluator) HasResourcePermission(resource string) bool {
	resource = normalize(resource)
	if resource == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.resources[resource]
	return ok
}

// Grants returns the normalised grant set, sorted for stable output.
func (e *Evaluator) Grants() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedGrants(e.grants)
}

func sortedGrants(grants map[string]struct{}) []string {
	out := make([]string, 0, len(grants))
	for g := range grants {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

// Sync refetches the grants and writes them into the cached account. The
// result is dropped if the session ends or changes while the fetch runs.
func (e *Evaluator) Sync(ctx context.Context) ([]string, error) {
	epoch := e.store.Epoch()
	role, perms, err := e.fetcher.FetchGrants(ctx)
	if err != nil {
		e.logger.Warn("permission sync failed", "error", err)
		return nil, fmt.Errorf("failed to sync permissions: %w", err)
	}

	parsed, _, _ := e.parse(perms)
	grants := sortedGrants(parsed)

	current := e.store.Current()
	account := session.Account{}
	if current.Account != nil {
		account = *current.Account
	}
	if account.ID == "" {
		account.ID = current.UserID()
	}
	if role != "" {
		account.Role = role
	}
	account.Permissions = grants

	if err := e.store.UpdateAccount(ctx, epoch, account); err != nil {
		return nil, fmt.Errorf("failed to store synced permissions: %w", err)
	}
	e.Load(grants)

	e.logger.Info("permissions synced", "role", account.Role, "grants", len(grants))
	return grants, nil
}

// Follow keeps the grant set in step with the session: it seeds from the
// current account and reloads on every session.changed event.
func (e *Evaluator) Follow(manager *session.Manager) {
	e.Load(manager.Current().Permissions())
	manager.Subscribe(func(_ context.Context, evt *events.SessionChangedEvent) error {
		if !evt.Authenticated {
			e.Load(nil)
			return nil
		}
		e.Load(manager.Current().Permissions())
		return nil
	})
}

func parseGrant(p string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(p, ":")
	if !ok {
		return "", "", false
	}
	resource, action = normalize(resource), normalize(action)
	if resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
