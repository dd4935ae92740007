package console

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/cuemby/swms/pkg/client"
	"github.com/cuemby/swms/pkg/config"
	"github.com/cuemby/swms/pkg/events"
	"github.com/cuemby/swms/pkg/guard"
	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
	"github.com/cuemby/swms/pkg/notify"
	"github.com/cuemby/swms/pkg/realtime"
	"github.com/cuemby/swms/pkg/security"
	"github.com/cuemby/swms/pkg/session"
	"github.com/cuemby/swms/pkg/storage"
	"github.com/cuemby/swms/pkg/tokenstore"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Console wires the client components around one persisted session
type Console struct {
	Tokens    *tokenstore.TokenStore
	Client    *client.Client
	Session   *session.Controller
	Realtime  *realtime.Channel
	Inbox     *notify.Inbox
	Guard     *guard.Guard
	Navigator *guard.Navigator

	store     storage.Store
	collector *metrics.Collector
	logger    zerolog.Logger

	mu         sync.Mutex
	started    bool
	ctx        context.Context
	sessionSub events.Subscription
}

// Option configures a Console
type Option func(*options)

type options struct {
	httpClient *http.Client
	realtime   []realtime.Option
	tokenstore []tokenstore.Option
}

// WithHTTPClient sets the HTTP client used for REST calls
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithRealtimeOptions passes extra options to the realtime channel
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(o *options) {
		o.realtime = append(o.realtime, opts...)
	}
}

// WithTokenStoreOptions passes extra options to the token store
func WithTokenStoreOptions(opts ...tokenstore.Option) Option {
	return func(o *options) {
		o.tokenstore = append(o.tokenstore, opts...)
	}
}

// OpenStore opens the storage backend named by cfg.Store
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreBolt:
		return storage.NewBoltStore(cfg.DataDir)
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store := storage.NewRedisStore(rdb, "swms:")
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return store, nil
	case config.StoreMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// New opens the configured store and builds a console over it
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Console, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := NewWithStore(cfg, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

// NewWithStore builds a console over an already opened store. The console
// owns the store from here on and closes it in Close.
func NewWithStore(cfg *config.Config, store storage.Store, opts ...Option) (*Console, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.CAFile != "" {
		tlsConfig, err := security.ClientTLSConfig(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		if o.httpClient == nil {
			o.httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
		}
		dialer := &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout, TLSClientConfig: tlsConfig}
		o.realtime = append([]realtime.Option{realtime.WithDialer(dialer)}, o.realtime...)
	}

	tsOpts := o.tokenstore
	if cfg.Secret != "" {
		sealer, err := security.NewSealerFromPassphrase(cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to create token sealer: %w", err)
		}
		tsOpts = append([]tokenstore.Option{tokenstore.WithSealer(sealer)}, tsOpts...)
	}
	tokens := tokenstore.New(store, tsOpts...)

	var clientOpts []client.Option
	if o.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(o.httpClient))
	}
	// Applied after the client swap so it sets the timeout on the client in use
	clientOpts = append(clientOpts, client.WithTimeout(cfg.RequestTimeout))
	api := client.NewClient(cfg.APIBaseURL, tokens, clientOpts...)

	sess := session.New(api, tokens)
	api.SetAuthLostHandler(sess.HandleAuthLost)

	rtOpts := append([]realtime.Option{
		realtime.WithReconnectDelay(cfg.ReconnectDelay),
		realtime.WithRetryDelay(cfg.RetryDelay),
	}, o.realtime...)

	g := guard.New(guard.DefaultRoutes)

	return &Console{
		Tokens:    tokens,
		Client:    api,
		Session:   sess,
		Realtime:  realtime.NewChannel(cfg.HubURL, tokens, rtOpts...),
		Inbox:     notify.NewInbox(api, notify.WithPageSize(cfg.PageSize)),
		Guard:     g,
		Navigator: guard.NewNavigator(g, sess),
		store:     store,
		logger:    log.WithComponent("console"),
	}, nil
}

// Start follows the session: while it is authenticated the realtime channel
// runs and feeds the inbox; logout or an expired session stops both and
// forces the navigator back to the login screen.
func (c *Console) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx = ctx
	c.sessionSub = c.Session.Subscribe(c.onSessionChange)
	c.collector = metrics.NewCollector(c.Session)
	c.mu.Unlock()

	c.collector.Start()
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	if c.Session.IsAuthenticated() {
		c.connect(ctx)
	}
}

// Stop disconnects the realtime channel and stops following the session.
// The persisted session is kept.
func (c *Console) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.Session.Unsubscribe(c.sessionSub)
	c.mu.Unlock()

	c.collector.Stop()
	c.disconnect()
}

// Close stops the console and closes the underlying store
func (c *Console) Close() error {
	c.Stop()
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func (c *Console) onSessionChange(change session.Change) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	logger := c.logger.With().Str("change", change.String()).Logger()
	logger.Debug().Msg("Session changed")

	switch change {
	case session.LoggedIn:
		c.connect(ctx)
	case session.LoggedOut, session.AuthLost:
		c.disconnect()
		c.Inbox.Clear()
		c.Navigator.ForceLogin()
	}
}

func (c *Console) connect(ctx context.Context) {
	c.Realtime.Start(ctx)
	// Stop clears the channel's subscribers, so the inbox attaches after every start
	c.Inbox.Attach(c.Realtime)
	if out := c.Inbox.Refresh(ctx); !out.OK {
		c.logger.Warn().Str("reason", out.Message).Msg("Initial notification load failed")
	}
}

func (c *Console) disconnect() {
	c.Inbox.Detach()
	c.Realtime.Stop()
}
