package auth

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/authkit/pkg/credentials"
	"github.com/giantswarm/authkit/pkg/events"
	"github.com/giantswarm/authkit/pkg/request"
	"github.com/giantswarm/authkit/pkg/storage"
)

// TokenSet is the stored credential bundle.
type TokenSet = credentials.TokenSet

// State is the authentication state, derived from what is stored.
type State int

const (
	// StateUnauthenticated means no tokens and no pending authorization.
	StateUnauthenticated State = iota
	// StateAuthenticating means an authorization was started and its
	// verifier and state are waiting for the callback.
	StateAuthenticating
	// StateAuthenticated means a token set is stored.
	StateAuthenticated
	// StateRefreshing means a refresh is in flight.
	StateRefreshing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Client is the authentication lifecycle manager.
type Client struct {
	cfg       Config
	endpoints Endpoints

	storage     storage.Storage
	storageOpts storage.Options
	ownsStorage bool
	keyPrefix   string
	store       *credentials.Store

	executor  *request.Executor
	bus       *events.Bus
	logger    *slog.Logger
	navigator Navigator
	userAgent string
	now       func() time.Time
	skew      time.Duration

	// flowMu makes the read-and-clear of the transient slots, and token
	// writes guarded by generation, atomic with respect to each other.
	flowMu sync.Mutex
	// generation is bumped whenever the session is cleared so a refresh
	// that started before a logout cannot store its result afterwards.
	generation uint64

	refreshGroup singleflight.Group
	refreshing   atomic.Bool

	autoRefresh     bool
	autoRefreshLead time.Duration
	timerMu         sync.Mutex
	refreshTimer    *time.Timer

	watchStorage bool
	stopWatch    context.CancelFunc

	destroyed   atomic.Bool
	destroyOnce sync.Once
}

// New validates cfg and creates a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		logger:    slog.Default(),
		navigator: BrowserNavigator{},
		now:       time.Now,
		skew:      DefaultExpirySkew,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.endpoints = c.endpoints.withDefaults()
	c.bus = events.NewBus(c.logger)

	if c.storage == nil {
		sopts := c.storageOpts
		sopts.Origin = cfg.origin()
		if sopts.Logger == nil {
			sopts.Logger = c.logger
		}
		s, err := storage.New(cfg.Storage, sopts)
		if err != nil {
			return nil, &ConfigurationError{Field: "storage", Reason: "could not be created", Err: err}
		}
		c.storage = s
		c.ownsStorage = true
	}
	c.store = credentials.New(c.storage,
		credentials.WithKeyPrefix(c.keyPrefix),
		credentials.WithLogger(c.logger))

	execOpts := []request.Option{
		request.WithTokenAccessor(c.AccessToken),
		request.WithLogger(c.logger),
		request.WithHTTPClient(cfg.HTTPClient),
	}
	if c.userAgent != "" {
		execOpts = append(execOpts, request.WithUserAgent(c.userAgent))
	}
	executor, err := request.New(cfg.Domain, execOpts...)
	if err != nil {
		return nil, &ConfigurationError{Field: "domain", Reason: "is not usable", Err: err}
	}
	c.executor = executor

	if c.watchStorage {
		c.startWatch()
	}
	if c.autoRefresh {
		c.scheduleRefresh(c.store.Tokens())
	}

	c.logger.Debug("Auth client created",
		"domain", cfg.Domain,
		"client_id", cfg.ClientID,
		"storage", cfg.Storage)

	return c, nil
}

// Config returns a copy of the validated configuration.
func (c *Client) Config() Config {
	cfg := c.cfg
	cfg.Scopes = append([]string(nil), c.cfg.Scopes...)
	return cfg
}

// State returns the current authentication state.
func (c *Client) State() State {
	switch {
	case c.refreshing.Load():
		return StateRefreshing
	case c.store.Tokens() != nil:
		return StateAuthenticated
	case c.store.HasTransient():
		return StateAuthenticating
	default:
		return StateUnauthenticated
	}
}

// IsAuthenticated reports whether a token set is stored and its access
// token has not expired yet.
func (c *Client) IsAuthenticated() bool {
	t := c.store.Tokens()
	return t != nil && !t.Expired(c.now(), 0)
}

// Tokens returns the stored token set, or nil. It never touches the network.
func (c *Client) Tokens() *TokenSet {
	return c.store.Tokens()
}

// Executor returns the request executor bound to this client. Requests made
// through it carry the current access token, refreshed as needed.
func (c *Client) Executor() *request.Executor {
	return c.executor
}

// On subscribes handler to events of type t.
func (c *Client) On(t events.Type, handler events.Handler) events.Subscription {
	return c.bus.On(t, handler)
}

// Off removes a subscription.
func (c *Client) Off(sub events.Subscription) {
	c.bus.Off(sub)
}

func (c *Client) emit(t events.Type, data any) {
	c.bus.Emit(events.Event{Type: t, Data: data, Time: c.now()})
}

// Destroy releases the client: it cancels the scheduled refresh, stops
// storage watching, ends session storage created by the client and removes
// all event subscriptions. It is idempotent. A request already in flight is
// not aborted and may still complete.
func (c *Client) Destroy() {
	c.destroyOnce.Do(func() {
		c.destroyed.Store(true)
		c.cancelRefresh()

		if c.stopWatch != nil {
			c.stopWatch()
		}
		if closer, ok := c.storage.(storage.Closer); ok && c.ownsStorage {
			if err := closer.Close(); err != nil {
				c.logger.Warn("Failed to close storage", "error", err)
			}
		}
		c.bus.Clear()

		c.logger.Debug("Auth client destroyed", "client_id", c.cfg.ClientID)
	})
}

// storeTokens persists tokens unless the session was cleared since gen was
// read. It reports whether the tokens were stored.
func (c *Client) storeTokens(tokens *TokenSet, gen uint64) bool {
	c.flowMu.Lock()
	if c.generation != gen {
		c.flowMu.Unlock()
		return false
	}
	c.store.SetTokens(tokens)
	c.flowMu.Unlock()

	if c.autoRefresh {
		c.scheduleRefresh(tokens)
	}
	return true
}

func (c *Client) currentGeneration() uint64 {
	c.flowMu.Lock()
	defer c.flowMu.Unlock()
	return c.generation
}

// clearSession removes every stored credential and cancels the scheduled refresh.
func (c *Client) clearSession() {
	c.flowMu.Lock()
	c.generation++
	c.store.Clear()
	c.flowMu.Unlock()

	c.cancelRefresh()
}

func (c *Client) startWatch() {
	fs, ok := c.storage.(interface {
		Watch(ctx context.Context, fn func(key string)) error
	})
	if !ok {
		c.logger.Debug("Storage does not support watching", "storage", c.cfg.Storage)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := fs.Watch(ctx, func(key string) {
		if key != c.store.TokensKey() {
			return
		}
		if c.autoRefresh {
			c.scheduleRefresh(c.store.Tokens())
		}
		c.emit(events.StorageChanged, key)
	})
	if err != nil {
		cancel()
		c.logger.Warn("Failed to watch storage", "error", err)
		return
	}
	c.stopWatch = cancel
}
