// Package signaling is the client side of the per-user signaling channel.
// It keeps one WebSocket to the gateway open for the lifetime of a session,
// redialing on any failure, and hands every decoded event to a handler.
package signaling

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"ringline/internal/events"
	"ringline/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultRetryInterval = 3 * time.Second
	writeWait            = 10 * time.Second
)

var errNotConnected = errors.New("signaling channel not connected")

// Handler receives each inbound event with its envelope timestamp.
type Handler func(e events.Event, sentAt time.Time)

type Client struct {
	gatewayURL string
	token      string
	retry      time.Duration
	dialer     *websocket.Dialer
	log        *logger.Logger
	now        func() time.Time

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(gatewayURL, token string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		gatewayURL: gatewayURL,
		token:      token,
		retry:      DefaultRetryInterval,
		dialer:     websocket.DefaultDialer,
		log:        log.Named("signaling"),
		now:        time.Now,
	}
}

// Subscribe streams the user's channel into handler until ctx is done.
// Dial and read failures are logged and retried; they never reach the caller.
func (c *Client) Subscribe(ctx context.Context, handler Handler) {
	for {
		if err := c.session(ctx, handler); err != nil && ctx.Err() == nil {
			c.log.Logger.Warn("signaling channel lost, retrying",
				zap.Duration("retry_in", c.retry),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retry):
		}
	}
}

func (c *Client) session(ctx context.Context, handler Handler) error {
	target, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Logger.Info("signaling channel connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, event, ok, err := events.Decode(data)
		if err != nil {
			c.log.Logger.Debug("undecodable signaling frame", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		sentAt := env.SentAt
		if sentAt.IsZero() {
			sentAt = c.now()
		}
		handler(event, sentAt)
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.gatewayURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Publish relays an event to the call's co-participants through the
// gateway. Best-effort: failures are logged and dropped.
func (c *Client) Publish(ctx context.Context, e events.Event) {
	if err := c.write(e); err != nil {
		c.log.Ctx(ctx).Warn("failed to publish signaling event",
			zap.String("type", string(e.EventType())),
			zap.String("call_id", e.Call()),
			zap.Error(err),
		)
	}
}

func (c *Client) write(e events.Event) error {
	data, err := events.Encode(e, c.now().UTC())
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
