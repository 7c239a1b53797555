package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/facilities-console/internal"
	"github.com/frahmantamala/facilities-console/internal/session"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Base is the underlying round tripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// PermissionSet is the normalised answer of the permission check endpoint.
type PermissionSet struct {
	Role   string
	Grants []string
}

// SessionStore is what the client needs from the session owner.
type SessionStore interface {
	TokenStore
	Update(ctx context.Context, s session.Session, reason string) error
}

// Client talks to the facilities REST API. Requests made through it carry
// the stored credentials and survive a single access-token expiry.
type Client struct {
	baseURL   string
	store     SessionStore
	logger    *slog.Logger
	transport *Transport

	authed *http.Client
	plain  *http.Client
}

type Option func(*Client)

// WithSessionExpiredHook runs fn after an unrecoverable 401 cleared the session.
func WithSessionExpiredHook(fn ExpiredFunc) Option {
	return func(c *Client) {
		c.transport.OnSessionExpired(fn)
	}
}

func NewClient(config Config, store SessionStore, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	base := config.Base
	if base == nil {
		base = http.DefaultTransport
	}

	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		store:   store,
		logger:  logger,
		plain:   &http.Client{Transport: base, Timeout: config.Timeout},
	}
	c.transport = NewTransport(base, store, c.RefreshTokens, logger)
	c.authed = &http.Client{Transport: c.transport, Timeout: 2 * config.Timeout}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges operator credentials for a session and persists it.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Session, error) {
	dto := LoginDTO{Email: strings.TrimSpace(email), Password: password}
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := c.send(ctx, c.plain, http.MethodPost, "/auth/login", dto, &resp); err != nil {
		c.logger.Warn("login failed", "email", email, "error", err)
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, internal.NewExternalError("login response carried no access token", http.StatusBadGateway)
	}

	s := resp.toSession()
	if err := c.store.Update(ctx, s, session.ReasonLogin); err != nil {
		return nil, err
	}

	c.logger.Info("operator signed in", "user_id", s.UserID(), "role", s.Role())
	return &s, nil
}

// RefreshTokens posts the refresh token directly, outside the interceptor.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	dto := RefreshTokenDTO{RefreshToken: refreshToken}
	if err := dto.Validate(); err != nil {
		return nil, internal.ErrNoRefreshToken
	}

	var resp AuthResponse
	if err := c.send(ctx, c.plain, http.MethodPost, "/auth/refresh-token", dto, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, internal.NewExternalError("refresh response carried no access token", http.StatusBadGateway)
	}

	next := resp.toSession()
	if next.RefreshToken == "" {
		// Some deployments do not rotate refresh tokens.
		next.RefreshToken = refreshToken
	}
	return &RefreshResult{Credentials: next.Credentials, Account: next.Account}, nil
}

// CheckPermissions fetches the operator's role and grants.
func (c *Client) CheckPermissions(ctx context.Context) (*PermissionSet, error) {
	var resp PermissionCheckResponse
	if err := c.GetJSON(ctx, "/auth/check-permission", &resp); err != nil {
		return nil, err
	}
	return &PermissionSet{Role: resp.Role, Grants: resp.Grants()}, nil
}

// FetchGrants adapts CheckPermissions to the permission evaluator.
func (c *Client) FetchGrants(ctx context.Context) (string, []string, error) {
	set, err := c.CheckPermissions(ctx)
	if err != nil {
		return "", nil, err
	}
	return set.Role, set.Grants, nil
}

// Logout tells the backend the session is over, then clears it locally
// whatever the backend said.
func (c *Client) Logout(ctx context.Context) error {
	if c.store.AccessToken() != "" {
		if err := c.send(ctx, c.plain, http.MethodPost, "/auth/logout", RefreshTokenDTO{RefreshToken: c.store.RefreshToken()}, nil, withBearerToken(c.store.AccessToken())); err != nil {
			c.logger.Warn("backend logout failed, clearing local session anyway", "error", err)
		}
	}
	if err := c.store.Clear(ctx, session.ReasonLogout); err != nil {
		return err
	}
	c.logger.Info("operator signed out")
	return nil
}

func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.send(ctx, c.authed, http.MethodGet, path, nil, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.send(ctx, c.authed, http.MethodPost, path, body, out)
}

// Do sends req through the interceptor. The caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.authed.Do(req)
}

// URL resolves path against the API base URL.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

type requestOption func(*http.Request)

func withBearerToken(token string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body, out interface{}, opts ...requestOption) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		// bytes.Reader lets net/http populate GetBody for replays.
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), payload)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return internal.DecodeErrorResponse(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return decodeBody(data, out)
}

// decodeBody accepts both bare payloads and {"data": ...} envelopes.
func decodeBody(data []byte, out interface{}) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
