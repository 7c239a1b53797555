package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/facilities-console/internal"
	"github.com/frahmantamala/facilities-console/internal/obs"
	"github.com/frahmantamala/facilities-console/internal/session"
	"golang.org/x/sync/singleflight"
)

// TokenStore is the slice of the session owner the interceptor needs.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	Epoch() uint64
	UpdateTokens(ctx context.Context, epoch uint64, creds session.Credentials, account *session.Account) error
	Clear(ctx context.Context, reason string) error
}

// RefreshFunc exchanges a refresh token for a new credential pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (*RefreshResult, error)

// ExpiredFunc runs after a failed refresh has purged the stored credentials.
type ExpiredFunc func(ctx context.Context, cause error)

const refreshKey = "refresh"

// Transport attaches the stored access token to every request and recovers
// from a 401 by refreshing the credentials once. Concurrent 401s share a
// single refresh exchange.
type Transport struct {
	base           http.RoundTripper
	store          TokenStore
	refresh        RefreshFunc
	onExpired      ExpiredFunc
	refreshTimeout time.Duration
	logger         *slog.Logger

	group singleflight.Group
}

func NewTransport(base http.RoundTripper, store TokenStore, refresh RefreshFunc, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		base:           base,
		store:          store,
		refresh:        refresh,
		refreshTimeout: 15 * time.Second,
		logger:         logger,
	}
}

// OnSessionExpired registers the hook run when the session cannot be recovered.
func (t *Transport) OnSessionExpired(fn ExpiredFunc) {
	t.onExpired = fn
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sentWith := t.store.AccessToken()

	resp, err := t.base.RoundTrip(withBearer(req, sentWith))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || internal.IsReplay(req.Context()) {
		return resp, nil
	}

	if !replayable(req) {
		t.logger.Warn("cannot replay request after 401: body is not rewindable",
			"method", req.Method,
			"path", req.URL.Path)
		return resp, nil
	}

	token, err := t.refreshOnce(req.Context(), sentWith)
	discard(resp)
	if err != nil {
		return nil, err
	}

	replay, err := rewind(req)
	if err != nil {
		return nil, err
	}

	obs.RequestReplays.Inc()
	t.logger.Debug("replaying request with refreshed token",
		"method", req.Method,
		"path", req.URL.Path)

	return t.base.RoundTrip(withBearer(replay, token))
}

// refreshOnce returns a usable access token. The first caller performs the
// exchange; callers arriving while it runs wait for its result. A caller
// whose 401 came from an already superseded token reuses the current one.
func (t *Transport) refreshOnce(ctx context.Context, staleToken string) (string, error) {
	v, err, shared := t.group.Do(refreshKey, func() (interface{}, error) {
		if current := t.store.AccessToken(); current != "" && current != staleToken {
			return current, nil
		}

		// Read before the refresh token so a logout and re-login in
		// between can never receive this exchange's result.
		epoch := t.store.Epoch()
		refreshToken := t.store.RefreshToken()
		if refreshToken == "" {
			t.expire(ctx, epoch, internal.ErrNoRefreshToken)
			return nil, internal.ErrNoRefreshToken
		}

		// The exchange outlives any single caller's cancellation.
		exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.refreshTimeout)
		defer cancel()

		obs.RefreshExchanges.Inc()
		result, err := t.refresh(exchangeCtx, refreshToken)
		if err != nil {
			obs.RefreshFailures.Inc()
			t.expire(exchangeCtx, epoch, err)
			return nil, internal.ErrRefreshFailed.WithCause(err)
		}

		if err := t.store.UpdateTokens(exchangeCtx, epoch, result.Credentials, result.Account); err != nil {
			if errors.Is(err, session.ErrNotAuthenticated) {
				t.logger.Info("session ended during token refresh, dropping the new tokens")
				return nil, internal.ErrNotAuthenticated.WithCause(err)
			}
			return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}

		t.logger.Info("access token refreshed")
		return result.Credentials.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	if shared {
		t.logger.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

// expire ends the session that was current at epoch. A session that has
// already ended or been replaced is left alone and the hook does not run.
func (t *Transport) expire(ctx context.Context, epoch uint64, cause error) {
	if t.store.Epoch() != epoch || (t.store.AccessToken() == "" && t.store.RefreshToken() == "") {
		t.logger.Debug("session already ended, skipping expiry", "error", cause)
		return
	}
	t.logger.Warn("session expired, clearing stored credentials", "error", cause)

	clearCtx := context.WithoutCancel(ctx)
	if err := t.store.Clear(clearCtx, session.ReasonExpired); err != nil {
		t.logger.Error("failed to clear credentials", "error", err)
	}
	if t.onExpired != nil {
		t.onExpired(clearCtx, cause)
	}
}

func withBearer(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	} else {
		r.Header.Del("Authorization")
	}
	return r
}

func replayable(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return true
	}
	return req.GetBody != nil
}

func rewind(req *http.Request) (*http.Request, error) {
	replay := req.Clone(internal.ContextWithReplay(req.Context()))
	if req.Body == nil || req.Body == http.NoBody {
		return replay, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	replay.Body = body
	return replay, nil
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// IsSessionExpired reports whether err ended the session.
func IsSessionExpired(err error) bool {
	return errors.Is(err, internal.ErrRefreshFailed) || errors.Is(err, internal.ErrNoRefreshToken)
}
