package permission

import (
	"log/slog"
	"net/http"
)

// Authenticator reports whether an operator is signed in.
type Authenticator interface {
	IsAuthenticated() bool
}

// Authorization guards console routes with the evaluator's answers.
type Authorization struct {
	auth    Authenticator
	checker Checker
	logger  *slog.Logger
}

func NewAuthorization(auth Authenticator, checker Checker, logger *slog.Logger) *Authorization {
	return &Authorization{
		auth:    auth,
		checker: checker,
		logger:  logger,
	}
}

func (a *Authorization) check(next http.Handler, allowed func() bool, required ...any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.auth.IsAuthenticated() {
			a.logger.WarnContext(r.Context(), "authorization check failed: no active session")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !allowed() {
			a.logger.WarnContext(r.Context(), "access denied: insufficient permissions", required...)
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequirePermission allows the request when resource:action is granted.
func (a *Authorization) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.check(next, func() bool {
			return a.checker.HasPermission(resource, action)
		}, "required_resource", resource, "required_action", action)
	}
}

// RequireResource allows the request when any grant names resource. A
// super-admin passes as well.
func (a *Authorization) RequireResource(resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.check(next, func() bool {
			return a.checker.HasResourcePermission(resource) ||
				a.checker.HasPermission(resource, ActionAdmin)
		}, "required_resource", resource)
	}
}

// RequireSession only demands a signed-in operator.
func (a *Authorization) RequireSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.check(next, func() bool { return true })
	}
}
