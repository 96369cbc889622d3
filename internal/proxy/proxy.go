// Package proxy forwards requests to the provider's API with the managed bearer token.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/tokenkeeper/internal/observability/middleware"
	"github.com/florianilch/tokenkeeper/internal/tokenmanager"
)

// Proxy represents the upstream API proxy server
type Proxy struct {
	handler http.Handler
	server  *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// Option configures a Proxy.
type Option func(*config)

type config struct {
	baseTransport http.RoundTripper
}

// WithTransport sets the transport used for upstream requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.baseTransport = transport
	}
}

// New creates a reverse proxy to upstreamURL that authorizes every request with a
// token from ts.
func New(ts oauth2.TokenSource, upstreamURL string, opts ...Option) (*Proxy, error) {
	if ts == nil {
		return nil, errors.New("missing token source")
	}

	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", upstreamURL)
	}

	cfg := &config{baseTransport: http.DefaultTransport}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := &HeaderFilterTransport{
		Base: &oauth2.Transport{Source: ts, Base: cfg.baseTransport},
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.Out.Host = upstream.Host
		},
		// FlushInterval: -1 flushes only when the upstream flushes, so streamed
		// responses reach the client without buffering delays.
		FlushInterval: -1,
		Transport:     transport,
		ErrorHandler:  errorHandler,
	}

	handler := middleware.Apply(reverseProxyHandler,
		middleware.Logging(slog.Default()),
		middleware.RequestID,
		middleware.Recovery,
	)

	return &Proxy{handler: handler}, nil
}

// errorHandler answers upstream failures with JSON. A missing token gets 503 so
// clients know the authorization flow is pending.
func errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	if errors.Is(err, tokenmanager.ErrNoToken) {
		writeJSONError(ctx, w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if errors.Is(err, context.Canceled) {
		// Client went away, nobody to answer
		return
	}

	slog.ErrorContext(ctx, "upstream request failed", "error", err, "request_id", middleware.RequestIDFromContext(ctx))
	writeJSONError(ctx, w, "upstream request failed", http.StatusBadGateway)
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		WriteTimeout: 15 * time.Minute, // Inbound: Write entire response to client (allows long downloads, still bounded)
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
