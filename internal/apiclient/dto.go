package apiclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frahmantamala/facilities-console/internal/core/common/validation"
	"github.com/frahmantamala/facilities-console/internal/session"
)

// LoginDTO is the body of POST /auth/login.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshTokenDTO is the body of POST /auth/refresh-token.
type RefreshTokenDTO struct {
	RefreshToken string `json:"refreshToken"`
}

// ValidationError represents a simple validation error from DTO validation.
type ValidationError struct {
	Msg string
}

func (v ValidationError) Error() string { return v.Msg }

func (d LoginDTO) Validate() error {
	if appErr := validation.ValidateLogin(strings.TrimSpace(d.Email), d.Password); appErr != nil {
		return appErr
	}
	return nil
}

func (d RefreshTokenDTO) Validate() error {
	if d.RefreshToken == "" {
		return ValidationError{Msg: "refreshToken is required"}
	}
	return nil
}

// AuthResponse is returned by both login and refresh.
type AuthResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	User         *session.Account `json:"user,omitempty"`
}

// RefreshResult is a successful refresh exchange.
type RefreshResult struct {
	Credentials session.Credentials
	Account     *session.Account
}

func (r AuthResponse) toSession() session.Session {
	return session.Session{
		Credentials: session.Credentials{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
		},
		Account: r.User,
	}
}

// GrantDTO accepts either {"resource","action","scope"} objects or the
// collapsed "RESOURCE:ACTION" string form.
type GrantDTO struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    string `json:"scope,omitempty"`
}

func (g *GrantDTO) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		resource, action, ok := strings.Cut(s, ":")
		if !ok {
			return fmt.Errorf("grant %q is not RESOURCE:ACTION", s)
		}
		g.Resource, g.Action = resource, action
		return nil
	}

	type plain GrantDTO
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*g = GrantDTO(p)
	return nil
}

func (g GrantDTO) String() string {
	return strings.ToUpper(g.Resource) + ":" + strings.ToUpper(g.Action)
}

// PermissionCheckResponse is returned by GET /auth/check-permission.
type PermissionCheckResponse struct {
	Role        string     `json:"role"`
	Permissions []GrantDTO `json:"permissions"`
}

func (r PermissionCheckResponse) Grants() []string {
	out := make([]string, 0, len(r.Permissions))
	for _, g := range r.Permissions {
		if g.Resource == "" || g.Action == "" {
			continue
		}
		out = append(out, g.String())
	}
	return out
}
