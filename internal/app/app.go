package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tokenkeeper/internal/proxy"
	"github.com/florianilch/tokenkeeper/internal/tokenmanager"
)

// App orchestrates the lifecycle of the token manager, its redirect receiver and
// the optional upstream proxy.
type App struct {
	cfg     *Config
	manager *tokenmanager.Manager
	proxy   *proxy.Proxy
}

// New creates a new App instance. The redirect receiver's address is bound here so
// that a busy port fails fast with *tokenmanager.ListenerError.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	listener, err := net.Listen("tcp", ServerAddress(cfg))
	if err != nil {
		return nil, &tokenmanager.ListenerError{Err: err}
	}

	manager, err := tokenmanager.New(cfg.Credentials(), listener, store, cfg.ManagerOptions()...)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	a := &App{
		cfg:     cfg,
		manager: manager,
	}

	if cfg.Proxy.Enabled {
		a.proxy, err = proxy.New(manager, cfg.Proxy.UpstreamURL)
		if err != nil {
			_ = manager.Shutdown(context.Background())
			_ = listener.Close()
			return nil, fmt.Errorf("failed to create proxy: %w", err)
		}
	}

	return a, nil
}

// Manager exposes the token manager for in-process consumers.
func (a *App) Manager() *tokenmanager.Manager {
	return a.manager
}

// ServerAddress returns the host:port the redirect receiver listens on.
func ServerAddress(cfg *Config) string {
	return net.JoinHostPort(cfg.Server.Host, strconv.FormatUint(uint64(cfg.Server.Port), 10))
}

// proxyAddress returns the host:port the upstream proxy listens on.
func proxyAddress(cfg *Config) string {
	return net.JoinHostPort(cfg.Proxy.Host, strconv.FormatUint(uint64(cfg.Proxy.Port), 10))
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting redirect receiver", "redirect_uri", a.manager.RedirectURI())
	serverErrCh, err := a.manager.StartServer(gCtx)
	if err != nil {
		_ = a.manager.Shutdown(context.Background())
		return fmt.Errorf("redirect receiver startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.manager.Shutdown)
	monitor(gCtx, g, "redirect receiver", serverErrCh)

	if a.proxy != nil {
		address := proxyAddress(a.cfg)
		slog.InfoContext(gCtx, "starting proxy server", "address", address, "upstream", a.cfg.Proxy.UpstreamURL)
		proxyErrCh, err := a.proxy.Start(gCtx, address)
		if err != nil {
			a.shutdown(shutdownFuncs)
			return fmt.Errorf("proxy startup failed: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)
		monitor(gCtx, g, "proxy", proxyErrCh)
	}

	slog.InfoContext(gCtx, "application ready", "login_url", "http://"+ServerAddress(a.cfg)+"/login")

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}
	errs = append(errs, a.shutdown(shutdownFuncs)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// monitor reports a service's runtime error to the group, which cancels gCtx on
// the first one.
func monitor(gCtx context.Context, g *errgroup.Group, name string, errCh <-chan error) {
	g.Go(func() error {
		select {
		case err := <-errCh:
			if err != nil {
				slog.ErrorContext(gCtx, name+" runtime error", "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})
}

// shutdown stops services in reverse start order.
func (a *App) shutdown(shutdownFuncs []func(context.Context) error) []error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
