// Package syncclient keeps the bot's configuration cache in lockstep with the
// management API: a long-lived websocket subscriber that authenticates with a
// short-lived credential, reconnects on failure, and rotates its credential
// before expiry so the subscription never lapses.
package syncclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/small-frappuccino/galactica/pkg/auth"
	"github.com/small-frappuccino/galactica/pkg/botconfig"
	"github.com/small-frappuccino/galactica/pkg/hub"
	"github.com/small-frappuccino/galactica/pkg/log"
	"github.com/small-frappuccino/galactica/pkg/storage"
)

// State is the client's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// DefaultRetryInterval is the fixed backoff between connection attempts.
const DefaultRetryInterval = 5 * time.Second

// resyncTimeout bounds a single invalidate-and-reload cycle.
const resyncTimeout = 10 * time.Second

// Config carries the client's endpoint and credential material.
type Config struct {
	// APIBaseURL is the management API base (http/https). Empty soft-disables
	// the client.
	APIBaseURL string

	// Secret is the shared signing secret. Shorter than auth.MinSecretLen
	// soft-disables the client.
	Secret []byte

	// BotID is the optional service identity claim.
	BotID string

	// TokenLifetime is the minted credential lifetime; zero means
	// auth.DefaultLifetime. Rotation fires at 5/6 of the lifetime.
	TokenLifetime time.Duration

	// RetryInterval is the fixed delay between reconnect attempts; zero means
	// DefaultRetryInterval.
	RetryInterval time.Duration
}

// Applier pushes a freshly loaded configuration outward (presence update).
type Applier func(storage.BotConfiguration) error

// Client is the reconnecting subscriber. Zero value is not usable; construct
// with New.
type Client struct {
	cfg   Config
	cache *botconfig.Cache
	apply Applier

	lifetime    time.Duration
	rotateAfter time.Duration
	retry       time.Duration

	// connMu serializes ownership of the websocket handle between the run
	// loop and the rotation path.
	connMu sync.Mutex
	ws     *websocket.Conn

	state   atomic.Int32
	resyncs atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New returns a client that drives cache invalidation and the outward apply
// from hub notifications. apply may be nil.
func New(cfg Config, cache *botconfig.Cache, apply Applier) *Client {
	lifetime := cfg.TokenLifetime
	if lifetime <= 0 {
		lifetime = auth.DefaultLifetime
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	return &Client{
		cfg:         cfg,
		cache:       cache,
		apply:       apply,
		lifetime:    lifetime,
		rotateAfter: lifetime * 5 / 6,
		retry:       retry,
		done:        make(chan struct{}),
	}
}

// Enabled reports whether the client has the endpoint and signing material it
// needs. A disabled client stays permanently Disconnected.
func (c *Client) Enabled() bool {
	return c.cfg.APIBaseURL != "" && auth.ValidateSecret(c.cfg.Secret) == nil
}

// Start launches the connection loop. When required configuration is missing
// the client logs once and degrades to disabled instead of failing the host
// process.
func (c *Client) Start() error {
	c.startOnce.Do(func() {
		if !c.Enabled() {
			log.SyncLogger().Warn("Sync client disabled: BOT_API_URL unset or JWT_SECRET missing/too short")
			close(c.done)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.run(ctx)
	})
	return nil
}

// Stop cancels the connection loop, aborts any in-flight attempt or wait, and
// drains the connection. It returns once the loop has exited or ctx expires.
func (c *Client) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Resyncs reports how many invalidate-and-reload cycles have run; every
// (re)connect and every received trigger counts one.
func (c *Client) Resyncs() int64 {
	return c.resyncs.Load()
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.state.Store(int32(StateDisconnected))

	for {
		c.state.Store(int32(StateConnecting))
		conn, err := c.dial(ctx)
		if err != nil {
			c.state.Store(int32(StateDisconnected))
			if ctx.Err() != nil {
				return
			}
			log.SyncLogger().Warn("Hub connection failed; retrying", "err", err, "retry_in", c.retry)
			if !sleepCtx(ctx, c.retry) {
				return
			}
			continue
		}

		c.setConn(conn)
		c.state.Store(int32(StateConnected))
		log.SyncLogger().Info("Connected to configuration hub", "url", c.cfg.APIBaseURL)

		// Invalidation events may have been missed while disconnected, so the
		// connection itself is a resynchronization trigger.
		c.resync(ctx)

		readErr := make(chan error, 1)
		go c.readLoop(ctx, conn, readErr)

		rotate := time.NewTimer(c.rotateAfter)

		select {
		case <-ctx.Done():
			rotate.Stop()
			c.closeConn()
			<-readErr
			return

		case err := <-readErr:
			rotate.Stop()
			c.closeConn()
			c.state.Store(int32(StateDisconnected))
			log.SyncLogger().Warn("Hub connection lost; retrying", "err", err, "retry_in", c.retry)
			if !sleepCtx(ctx, c.retry) {
				return
			}

		case <-rotate.C:
			// Proactive credential rotation: take exclusive ownership of the
			// handle, drop it, and loop straight back into a fresh dial.
			log.SyncLogger().Info("Rotating hub credential before expiry", "lifetime", c.lifetime)
			c.closeConn()
			<-readErr
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := auth.MintToken(c.cfg.Secret, c.cfg.BotID, c.lifetime)
	if err != nil {
		return nil, fmt.Errorf("mint credential: %w", err)
	}

	endpoint, err := hubEndpoint(c.cfg.APIBaseURL, token)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, readErr chan<- error) {
	for {
		var frame hub.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			readErr <- err
			return
		}
		if frame.Event == hub.EventConfigUpdated {
			log.SyncLogger().Info("Received configuration update notification")
			c.resync(ctx)
		}
	}
}

// resync invalidates the cache, reloads it from the store, and pushes the
// refreshed configuration outward. Outward push failures are logged, never
// fatal to the subscription. The reload is bounded so shutdown never waits on
// a stuck store call.
func (c *Client) resync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, resyncTimeout)
	defer cancel()

	c.resyncs.Add(1)
	c.cache.Invalidate()

	cfg, err := c.cache.Get(ctx)
	if err != nil {
		log.SyncLogger().Error("Failed to reload configuration", "err", err)
		return
	}
	if c.apply != nil {
		if err := c.apply(cfg); err != nil {
			log.SyncLogger().Error("Failed to apply refreshed configuration", "err", err)
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.ws = conn
	c.connMu.Unlock()
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
}

// hubEndpoint converts the API base URL into the websocket hub endpoint with
// the credential attached.
func hubEndpoint(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/hubs/botconfig"
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sleepCtx waits for d unless ctx is cancelled first; it reports whether the
// full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
