package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/tokenkeeper/internal/provider"
	"github.com/florianilch/tokenkeeper/internal/tokenstore"
)

// DefaultRefreshInterval is how often the background loop checks the token expiry.
const DefaultRefreshInterval = time.Minute

// ErrNoToken is returned by GetToken when the authorization flow never completed.
var ErrNoToken = errors.New("no token available, complete the authorization flow via /login")

// ListenerError reports that the loopback redirect receiver cannot be used.
// The manager cannot operate without it.
type ListenerError struct {
	Err error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("redirect listener: %v", e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	endpoint        oauth2.Endpoint
	providerOptions []provider.Option
	refreshInterval time.Duration
	now             func() time.Time
}

// WithEndpoint sets the provider's OAuth2 endpoints. Defaults to provider.Spotify.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *managerConfig) {
		c.endpoint = endpoint
	}
}

// WithProviderOptions passes options to the provider client (timeouts, transports).
func WithProviderOptions(opts ...provider.Option) Option {
	return func(c *managerConfig) {
		c.providerOptions = append(c.providerOptions, opts...)
	}
}

// WithRefreshInterval sets the background loop's tick. A token is refreshed once its
// expiry falls within one tick.
func WithRefreshInterval(interval time.Duration) Option {
	return func(c *managerConfig) {
		c.refreshInterval = interval
	}
}

// WithClock replaces time.Now for expiry computations.
func WithClock(now func() time.Time) Option {
	return func(c *managerConfig) {
		c.now = now
	}
}

// Manager owns one client credential set and one token pair. It serves the loopback
// redirect receiver, refreshes the token in the background and hands out the current
// access token.
type Manager struct {
	client      *provider.Client
	tokens      *tokenstore.Tokens
	listener    net.Listener
	redirectURI string
	interval    time.Duration
	now         func() time.Time

	guard *refreshGuard

	mu     sync.Mutex // protects record and dirty
	record *TokenRecord
	dirty  bool // record is newer than the store

	codes *codeLedger

	serverMu sync.Mutex
	server   *http.Server

	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// Compile-time check to ensure Manager implements oauth2.TokenSource
var _ oauth2.TokenSource = (*Manager)(nil)

// New creates a Manager bound to the pre-opened listener and starts the refresh loop.
// The HTTP surface is not served until StartServer is called.
// Returns *ListenerError if the listener's address cannot be resolved.
func New(creds provider.Credentials, listener net.Listener, store tokenstore.TokenStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	redirectURI, err := callbackURL(listener)
	if err != nil {
		return nil, &ListenerError{Err: err}
	}

	cfg := managerConfig{
		endpoint:        provider.Spotify,
		refreshInterval: DefaultRefreshInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.refreshInterval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", cfg.refreshInterval)
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())

	m := &Manager{
		client:      provider.NewClient(creds, cfg.endpoint, cfg.providerOptions...),
		tokens:      tokenstore.NewTokens(store),
		listener:    listener,
		redirectURI: redirectURI,
		interval:    cfg.refreshInterval,
		now:         cfg.now,
		guard:       newHeldGuard(),
		codes:       newCodeLedger(),
		stopLoop:    stopLoop,
		loopDone:    make(chan struct{}),
	}

	go m.refreshLoop(loopCtx)

	return m, nil
}

// callbackURL derives the redirect URI from the listener's local address.
// Unspecified addresses (0.0.0.0, ::) are replaced by the IPv4 loopback.
func callbackURL(listener net.Listener) (string, error) {
	if listener == nil {
		return "", errors.New("listener is nil")
	}
	addr := listener.Addr()
	if addr == nil {
		return "", errors.New("listener has no local address")
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", fmt.Errorf("resolving local address %q: %w", addr.String(), err)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "127.0.0.1"
	}

	return "http://" + net.JoinHostPort(host, port) + "/callback", nil
}

// RedirectURI returns the callback URL registered with the provider.
func (m *Manager) RedirectURI() string {
	return m.redirectURI
}

// AuthorizationURL returns the provider URL that starts the authorization-code grant.
func (m *Manager) AuthorizationURL() string {
	return m.client.AuthorizationURL(m.redirectURI)
}

// GetToken returns the current access token. It blocks while a refresh cycle is in
// progress and returns ErrNoToken if no token was ever obtained.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	if err := m.guard.BeginRead(ctx); err != nil {
		return "", err
	}
	defer m.guard.EndRead()

	token, ok, err := m.tokens.GetToken(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoToken
	}
	return token, nil
}

// Token implements oauth2.TokenSource on top of GetToken.
func (m *Manager) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter
	accessToken, err := m.GetToken(context.Background())
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	if record := m.currentRecord(); record != nil && record.AccessToken == accessToken {
		if record.TokenType != "" {
			token.TokenType = record.TokenType
		}
		token.Expiry = record.ExpiresAt
	}
	return token, nil
}

// Shutdown stops the HTTP surface and the refresh loop.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	if err := m.shutdownServer(ctx); err != nil {
		errs = append(errs, err)
	}

	m.stopLoop()
	select {
	case <-m.loopDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for refresh loop: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

func (m *Manager) currentRecord() *TokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

func (m *Manager) setRecord(record *TokenRecord, dirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = record
	m.dirty = dirty
}
