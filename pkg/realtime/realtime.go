package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/events"
	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
	"github.com/cuemby/swms/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultReconnectDelay is the fixed wait between reconnect attempts
	DefaultReconnectDelay = 5 * time.Second
	// DefaultRetryDelay is the wait before retrying a failed initial connect
	DefaultRetryDelay = 5 * time.Second
	// DefaultKeepAlive is the client ping interval
	DefaultKeepAlive = 15 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

var errServerClosed = errors.New("hub closed the connection")

// TokenSource provides the access token presented at connect time
type TokenSource interface {
	AccessToken() (string, bool)
}

// Channel is the persistent push connection to the notification hub
type Channel struct {
	hubURL         string
	tokens         TokenSource
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	retryDelay     time.Duration
	keepAlive      time.Duration
	maxReconnects  int
	broker         *events.Broker
	logger         zerolog.Logger

	mu     sync.Mutex
	state  types.ConnectionState
	conn   *websocket.Conn
	cancel context.CancelFunc
	retry  *time.Timer
	gen    uint64

	writeMu sync.Mutex
}

// Option configures a Channel
type Option func(*Channel)

// WithReconnectDelay sets the fixed delay between reconnect attempts
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.reconnectDelay = d
	}
}

// WithRetryDelay sets the delay before a failed Start is retried
func WithRetryDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.retryDelay = d
	}
}

// WithKeepAlive sets the ping interval
func WithKeepAlive(d time.Duration) Option {
	return func(c *Channel) {
		c.keepAlive = d
	}
}

// WithMaxReconnectAttempts gives up after n failed reconnects. Zero retries forever.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Channel) {
		c.maxReconnects = n
	}
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

// NewChannel creates a disconnected channel for the hub at hubURL
func NewChannel(hubURL string, tokens TokenSource, opts ...Option) *Channel {
	c := &Channel{
		hubURL:         hubURL,
		tokens:         tokens,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		reconnectDelay: DefaultReconnectDelay,
		retryDelay:     DefaultRetryDelay,
		keepAlive:      DefaultKeepAlive,
		broker:         events.NewBroker(),
		logger:         log.WithComponent("realtime"),
		state:          types.StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects to the hub. It never returns an error: a missing access
// token is logged and ignored, and a failed connect is retried once after the
// retry delay. ctx bounds the dial only; the connection lives until Stop.
func (c *Channel) Start(ctx context.Context) {
	c.start(ctx, 0, false)
}

func (c *Channel) start(ctx context.Context, gen uint64, fromRetry bool) {
	c.mu.Lock()
	if fromRetry && gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.state != types.StateDisconnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug().Str("state", state.String()).Msg("Realtime channel already started")
		return
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}

	token, ok := c.tokens.AccessToken()
	if !ok {
		c.mu.Unlock()
		c.logger.Info().Msg("No access token available for realtime channel")
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = types.StateConnecting
	gen = c.gen
	c.mu.Unlock()
	c.notify(types.StateConnecting)

	dialCtx, dialCancel := context.WithCancel(ctx)
	stopDial := context.AfterFunc(runCtx, dialCancel)
	conn, pending, err := c.connect(dialCtx, token)
	stopDial()
	dialCancel()

	if err != nil {
		c.logger.Warn().Err(err).Dur("retry_in", c.retryDelay).Msg("Realtime connection failed")

		c.mu.Lock()
		if runCtx.Err() != nil {
			c.mu.Unlock()
			return
		}
		cancel()
		c.cancel = nil
		c.state = types.StateDisconnected
		c.retry = time.AfterFunc(c.retryDelay, func() {
			c.start(context.Background(), gen, true)
		})
		c.mu.Unlock()
		c.notify(types.StateDisconnected)
		return
	}

	c.mu.Lock()
	if runCtx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = types.StateConnected
	c.mu.Unlock()
	c.notify(types.StateConnected)

	go c.run(runCtx, conn, pending)
}

// Stop closes the connection, cancels any pending retry and removes every
// subscriber. Calling it on a stopped channel is a no-op.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	changed := c.state != types.StateDisconnected
	c.state = types.StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
	}
	if changed {
		c.notify(types.StateDisconnected)
		c.logger.Info().Msg("Realtime channel stopped")
	}
	c.broker.Clear()
}

// On registers a handler for a local event
func (c *Channel) On(eventType events.EventType, handler events.Handler) events.Subscription {
	return c.broker.Subscribe(eventType, handler)
}

// Off removes the handler registered under sub
func (c *Channel) Off(sub events.Subscription) bool {
	return c.broker.Unsubscribe(sub)
}

// IsConnected reports whether the channel is connected
func (c *Channel) IsConnected() bool {
	return c.State() == types.StateConnected
}

// State returns the current connection state
func (c *Channel) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn, pending [][]byte) {
	for {
		err := c.serve(ctx, conn, pending)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errServerClosed) {
			c.logger.Warn().Err(err).Msg("Realtime connection closed by server")
			c.finish(ctx)
			return
		}

		c.logger.Warn().Err(err).Msg("Realtime connection lost")
		conn, pending = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (c *Channel) reconnect(ctx context.Context) (*websocket.Conn, [][]byte) {
	if !c.transition(ctx, types.StateReconnecting) {
		return nil, nil
	}

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(c.reconnectDelay):
		}

		attempts++
		metrics.RealtimeReconnectsTotal.Inc()

		// The hub authenticates at connect time, so always present the
		// current token rather than the one used for the dropped connection
		token, ok := c.tokens.AccessToken()
		if !ok {
			c.logger.Info().Msg("No access token available, giving up reconnect")
			c.finish(ctx)
			return nil, nil
		}

		conn, pending, err := c.connect(ctx, token)
		if err == nil {
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				_ = conn.Close()
				return nil, nil
			}
			c.conn = conn
			c.state = types.StateConnected
			c.mu.Unlock()
			c.notify(types.StateConnected)
			c.logger.Info().Int("attempts", attempts).Msg("Realtime channel reconnected")
			return conn, pending
		}

		c.logger.Warn().Err(err).Int("attempt", attempts).Msg("Realtime reconnect failed")
		if c.maxReconnects > 0 && attempts >= c.maxReconnects {
			c.finish(ctx)
			return nil, nil
		}
	}
}

// transition sets state unless ctx belongs to a stopped connection
func (c *Channel) transition(ctx context.Context, state types.ConnectionState) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.mu.Unlock()
	c.notify(state)
	return true
}

// finish moves a live connection to Disconnected without clearing subscribers
func (c *Channel) finish(ctx context.Context) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.conn = nil
	c.state = types.StateDisconnected
	c.mu.Unlock()
	c.notify(types.StateDisconnected)
}

func (c *Channel) notify(state types.ConnectionState) {
	metrics.RealtimeState.Set(float64(state))
	metrics.UpdateOptionalComponent(metrics.ComponentRealtime, state == types.StateConnected, state.String())
	c.logger.Debug().Str("state", state.String()).Msg("Realtime state changed")
	c.broker.Publish(&events.Event{Type: events.EventStateChanged, Payload: state})
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, pending [][]byte) error {
	for _, record := range pending {
		if err := c.handle(ctx, record); err != nil {
			return err
		}
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.ping(conn, pingDone)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read from hub: %w", err)
		}
		for _, record := range SplitRecords(frame) {
			if err := c.handle(ctx, record); err != nil {
				return err
			}
		}
	}
}

func (c *Channel) handle(ctx context.Context, record []byte) error {
	var msg HubMessage
	if err := json.Unmarshal(record, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Discarding malformed hub message")
		return nil
	}

	switch msg.Type {
	case MessageInvocation:
		if msg.Target != ReceiveNotification {
			c.logger.Debug().Str("target", msg.Target).Msg("Ignoring unknown hub method")
			return nil
		}
		if len(msg.Arguments) == 0 {
			c.logger.Warn().Msg("Notification push without payload")
			return nil
		}

		var n types.Notification
		if err := json.Unmarshal(msg.Arguments[0], &n); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed notification")
			return nil
		}

		// Pushes that arrive after Stop are dropped
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.NotificationsPushedTotal.Inc()
		logger := log.WithNotificationID(n.ID)
		logger.Debug().Msg("Notification pushed")
		c.broker.Publish(&events.Event{Type: events.EventNotification, Payload: n})

	case MessagePing:
		// server keep-alive

	case MessageClose:
		if msg.AllowReconnect {
			return fmt.Errorf("hub requested reconnect: %s", msg.Error)
		}
		if msg.Error != "" {
			return fmt.Errorf("%w: %s", errServerClosed, msg.Error)
		}
		return errServerClosed

	default:
		c.logger.Debug().Int("type", msg.Type).Msg("Ignoring hub message")
	}
	return nil
}

func (c *Channel) ping(conn *websocket.Conn, done <-chan struct{}) {
	if c.keepAlive <= 0 {
		return
	}
	record, err := EncodeRecord(HubMessage{Type: MessagePing})
	if err != nil {
		return
	}

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(conn, record); err != nil {
				c.logger.Debug().Err(err).Msg("Keep-alive ping failed")
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Channel) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// connect dials the hub and completes the protocol handshake. Records that
// arrived in the same frame as the handshake response are returned.
func (c *Channel) connect(ctx context.Context, token string) (*websocket.Conn, [][]byte, error) {
	endpoint, err := hubEndpoint(c.hubURL, token)
	if err != nil {
		return nil, nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("hub rejected connection (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, nil, fmt.Errorf("failed to dial hub: %w", err)
	}

	pending, err := c.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, pending, nil
}

func (c *Channel) handshake(conn *websocket.Conn) ([][]byte, error) {
	request, err := EncodeRecord(DefaultHandshake)
	if err != nil {
		return nil, err
	}
	if err := c.write(conn, request); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, err
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake response: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	records := SplitRecords(frame)
	if len(records) == 0 {
		return nil, fmt.Errorf("empty handshake response")
	}

	var resp HandshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return nil, fmt.Errorf("failed to decode handshake response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("handshake rejected: %s", resp.Error)
	}
	return records[1:], nil
}

// hubEndpoint converts the hub URL to a websocket URL carrying the token
func hubEndpoint(hubURL, token string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub URL %q: %w", hubURL, err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported hub URL scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
