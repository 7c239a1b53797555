package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/obs"
	"github.com/frahmantamala/facilities-console/internal/session"
	"github.com/gorilla/websocket"
)

type Config struct {
	URL              string
	MaxRetries       int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Client keeps the push channel open while an operator is signed in and
// republishes its notifications on the event bus.
type Client struct {
	config Config
	bus    *events.EventBus
	dialer *websocket.Dialer

	connected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
	done   chan struct{}
	userID string
	role   string
}

func NewClient(config Config, bus *events.EventBus) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = time.Second
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 10 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		config: config,
		bus:    bus,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Running reports whether a connection loop is active, connected or not.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

// Start opens the channel for the given operator. A running loop for a
// different operator is torn down first.
func (c *Client) Start(ctx context.Context, userID, role string) error {
	endpoint, err := c.endpoint(userID, role)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.done != nil && c.userID == userID && c.role == role {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.userID = userID
	c.role = role
	c.mu.Unlock()

	c.config.Logger.Info("starting push channel", "user_id", userID, "role", role)
	go c.run(loopCtx, endpoint, done)
	return nil
}

// Stop closes the channel at once and cancels any pending reconnect.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.cancel, c.conn, c.done = nil, nil, nil
	c.userID, c.role = "", ""
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-done
	c.config.Logger.Info("push channel stopped")
}

// Follow ties the channel to the session: it runs while the session is
// authenticated and stops when it ends.
func (c *Client) Follow(ctx context.Context, manager *session.Manager) {
	start := func(s session.Session) {
		if err := c.Start(ctx, s.UserID(), s.Role()); err != nil {
			c.config.Logger.Error("failed to start push channel", "error", err)
		}
	}

	if manager.IsAuthenticated() {
		start(manager.Current())
	}

	manager.Subscribe(func(_ context.Context, evt *events.SessionChangedEvent) error {
		if !evt.Authenticated {
			c.Stop()
			return nil
		}
		start(manager.Current())
		return nil
	})
}

func (c *Client) endpoint(userID, role string) (string, error) {
	if userID == "" {
		return "", errors.New("push channel requires a user id")
	}
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid push channel url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	q.Set("role", role)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.InitialInterval
	exp.MaxInterval = c.config.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.config.MaxRetries)), ctx)
}

func (c *Client) run(ctx context.Context, endpoint string, done chan struct{}) {
	defer close(done)
	defer c.finish(done)

	for {
		conn, err := c.dial(ctx, endpoint)
		if err != nil {
			if ctx.Err() == nil {
				c.config.Logger.Error("push channel reconnection exhausted, continuing without real-time alerts",
					"max_retries", c.config.MaxRetries,
					"error", err)
			}
			return
		}

		if !c.attach(conn, done) {
			_ = conn.Close()
			return
		}
		c.setConnected(ctx, true, 0)

		err = c.read(ctx, conn)

		c.detach(conn)
		_ = conn.Close()
		c.setConnected(ctx, false, 0)

		if ctx.Err() != nil {
			return
		}
		c.config.Logger.Warn("push channel dropped, reconnecting", "error", err)
	}
}

func (c *Client) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	var conn *websocket.Conn
	attempt := 0

	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++
		ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = ws
		return nil
	}

	notify := func(err error, wait time.Duration) {
		obs.ReconnectAttempts.Inc()
		c.config.Logger.Warn("push channel connect failed",
			"attempt", attempt,
			"retry_in", wait,
			"error", err)
		c.publish(ctx, events.NewConnectionChangedEvent(false, attempt))
	}

	if err := backoff.RetryNotify(op, c.policy(ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		n, err := DecodeNotification(raw)
		if err != nil {
			if errors.Is(err, ErrUnsupportedFrame) {
				c.config.Logger.Debug("ignoring push frame", "error", err)
			} else {
				c.config.Logger.Warn("malformed push frame", "error", err)
			}
			continue
		}

		obs.NotificationsReceived.WithLabelValues(string(n.Priority)).Inc()
		c.config.Logger.Debug("notification received",
			"notification_id", n.ID,
			"type", n.Type,
			"priority", n.Priority)

		c.publish(ctx, events.NewNotificationReceivedEvent(n))
	}
}

// attach records conn as current unless the loop was stopped meanwhile.
func (c *Client) attach(conn *websocket.Conn, done chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

// finish clears the loop bookkeeping when the loop ends on its own.
func (c *Client) finish(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done {
		return
	}
	c.cancel()
	c.cancel, c.conn, c.done = nil, nil, nil
	c.userID, c.role = "", ""
}

func (c *Client) setConnected(ctx context.Context, connected bool, attempt int) {
	if c.connected.Swap(connected) == connected {
		return
	}
	if connected {
		obs.PushConnected.Set(1)
		c.config.Logger.Info("push channel connected")
	} else {
		obs.PushConnected.Set(0)
	}
	c.publish(ctx, events.NewConnectionChangedEvent(connected, attempt))
}

func (c *Client) publish(ctx context.Context, evt events.Event) {
	// Handlers run in arrival order; the loop context may already be
	// cancelled during teardown.
	if err := c.bus.PublishSync(context.WithoutCancel(ctx), evt); err != nil {
		c.config.Logger.Error("push event handler failed", "event_type", evt.EventType(), "error", err)
	}
}
