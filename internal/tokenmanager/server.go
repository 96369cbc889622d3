package tokenmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/tokenkeeper/internal/observability/middleware"
	"github.com/florianilch/tokenkeeper/internal/provider"
	"github.com/florianilch/tokenkeeper/internal/tokenstore"
)

// maxRefreshRequestBody bounds the /refreshToken request body.
const maxRefreshRequestBody = 64 << 10

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Handler returns the HTTP surface of the loopback redirect receiver.
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", m.handleLogin)
	mux.HandleFunc("GET /callback", m.handleCallback)
	mux.HandleFunc("POST /refreshToken", m.handleRefreshToken)

	return middleware.Apply(mux,
		middleware.Logging(slog.Default()),
		middleware.RequestID,
		middleware.Recovery,
	)
}

// StartServer serves the HTTP surface on the pre-opened listener in the background
// and returns immediately.
// Runtime errors (network failures during operation) are sent to the error channel,
// which is closed once the server stops.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (m *Manager) StartServer(ctx context.Context) (<-chan error, error) {
	m.serverMu.Lock()
	defer m.serverMu.Unlock()

	if m.server != nil {
		return nil, errors.New("server already started")
	}

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Token exchanges are bounded by the provider timeout; leave headroom for the response
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	server := m.server

	go func() {
		err := server.Serve(m.listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

func (m *Manager) shutdownServer(ctx context.Context) error {
	m.serverMu.Lock()
	server := m.server
	m.serverMu.Unlock()

	if server == nil {
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// handleLogin redirects the user agent to the provider's authorization page.
func (m *Manager) handleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, m.AuthorizationURL(), http.StatusFound)
}

// handleCallback completes the authorization-code grant.
func (m *Manager) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		slog.WarnContext(ctx, "authorization denied by provider", "error", providerErr, "request_id", middleware.RequestIDFromContext(ctx))
		writeJSONError(ctx, w, "authorization failed: "+providerErr, http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		writeJSONError(ctx, w, "missing authorization code", http.StatusBadRequest)
		return
	}

	record, err := m.authorize(ctx, code)
	if err != nil {
		var (
			exchangeErr *provider.ExchangeError
			storageErr  *tokenstore.StorageError
			requestID   = middleware.RequestIDFromContext(ctx)
		)
		switch {
		case errors.Is(err, errCodeRedeemed), errors.Is(err, errCodeInFlight):
			writeJSONError(ctx, w, err.Error(), http.StatusConflict)
		case errors.As(err, &exchangeErr):
			slog.WarnContext(ctx, "authorization code exchange failed", "error", err, "request_id", requestID)
			writeJSONError(ctx, w, exchangeErr.ProviderMessage(), http.StatusBadRequest)
		case errors.As(err, &storageErr):
			slog.ErrorContext(ctx, "failed to persist token", "error", err, "request_id", requestID)
			writeJSONError(ctx, w, "failed to persist token", http.StatusInternalServerError)
		default:
			slog.ErrorContext(ctx, "authorization failed", "error", err, "request_id", requestID)
			writeJSONError(ctx, w, "authorization failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(ctx, w, newCallbackResponse(record), http.StatusOK)
}

// handleRefreshToken exchanges a caller-supplied refresh token and returns the
// provider's response unchanged. The managed token is not involved.
func (m *Manager) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRefreshRequestBody))
	if err != nil {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}

	var req refreshTokenRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		writeJSONError(ctx, w, "missing field refresh_token", http.StatusBadRequest)
		return
	}

	raw, err := m.RefreshRaw(ctx, req.RefreshToken)
	if err != nil {
		slog.WarnContext(ctx, "on-demand refresh failed", "error", err, "request_id", middleware.RequestIDFromContext(ctx))
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}

	writeRawJSON(ctx, w, raw, http.StatusOK)
}
