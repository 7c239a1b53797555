package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the access/refresh pair issued by the facilities API.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Account is the cached account record returned by login, refresh and the
// permission check endpoint.
type Account struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

type Session struct {
	Credentials
	Account *Account `json:"user,omitempty"`
}

// Repository persists the session under fixed key names.
type Repository interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Claims mirrors what the facilities API puts in its access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrMalformedToken   = errors.New("malformed access token")
)

func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

func (s Session) UserID() string {
	if s.Account != nil && s.Account.ID != "" {
		return s.Account.ID
	}
	if claims, err := ParseAccessToken(s.AccessToken); err == nil {
		if claims.UserID != "" {
			return claims.UserID
		}
		return claims.Subject
	}
	return ""
}

func (s Session) Role() string {
	if s.Account != nil && s.Account.Role != "" {
		return s.Account.Role
	}
	if claims, err := ParseAccessToken(s.AccessToken); err == nil {
		return claims.Role
	}
	return ""
}

func (s Session) Permissions() []string {
	if s.Account == nil {
		return nil
	}
	return s.Account.Permissions
}

// AccessExpiresAt reads the exp claim of the access token. The console holds
// no signing key, so the token is decoded without verification; the server
// remains the authority on validity.
func (s Session) AccessExpiresAt() (time.Time, bool) {
	claims, err := ParseAccessToken(s.AccessToken)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (s Session) Equal(o Session) bool {
	if s.Credentials != o.Credentials {
		return false
	}
	if (s.Account == nil) != (o.Account == nil) {
		return false
	}
	if s.Account == nil {
		return true
	}
	a, b := s.Account, o.Account
	return a.ID == b.ID &&
		a.Email == b.Email &&
		a.Name == b.Name &&
		a.Role == b.Role &&
		slices.Equal(a.Permissions, b.Permissions)
}

func ParseAccessToken(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMalformedToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}
	return claims, nil
}
