package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/tokenkeeper/internal/app"
	"github.com/florianilch/tokenkeeper/internal/observability"
	"github.com/florianilch/tokenkeeper/internal/provider"
	"github.com/florianilch/tokenkeeper/internal/tokenmanager"
	"github.com/florianilch/tokenkeeper/internal/tokenstore"
)

// telemetryFlushTimeout bounds how long exporters may take to flush on exit.
const telemetryFlushTimeout = 5 * time.Second

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Environ).Run(ctx, args)
}

func newRootCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "tokenkeeper",
		Usage: "OAuth2 token keeper for the authorization-code grant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (.toml or .yaml)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			startCommand(environFunc),
			tokenCommand(environFunc),
			loginURLCommand(environFunc),
		},
	}
}

func startCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "serve the redirect receiver and keep the token fresh",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "redirect receiver host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "redirect receiver port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringSliceFlag{
				Name:  "client--scopes",
				Usage: "requested scopes (repeatable or space-separated)",
			},
			&cli.DurationFlag{
				Name:  "refresh--interval",
				Usage: "how often the token expiry is checked",
				Value: app.DefaultConfigRefreshInterval,
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "token storage (file|keyring|memory)",
				Value: string(app.DefaultConfigStorageType),
			},
			&cli.BoolFlag{
				Name:  "proxy--enabled",
				Usage: "forward requests to the upstream API with the managed token",
			},
			&cli.IntFlag{
				Name:  "proxy--port",
				Usage: "proxy port",
				Value: int(app.DefaultConfigProxyPort),
			},
			&cli.StringFlag{
				Name:  "proxy--upstream-url",
				Usage: "upstream API base URL",
				Value: app.DefaultConfigProxyUpstreamURL,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return startAction(ctx, cmd, environFunc)
		},
	}
}

func startAction(ctx context.Context, cmd *cli.Command, environFunc func() []string) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, environFunc, (*app.Config).Validate)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownTelemetry, err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer flushTelemetry(shutdownTelemetry)

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "redirect_uri", cfg.RedirectURI())

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func tokenCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print the stored access token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "token storage (file|keyring)",
				Value: string(app.DefaultConfigStorageType),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return tokenAction(ctx, cmd, environFunc)
		},
	}
}

func tokenAction(ctx context.Context, cmd *cli.Command, environFunc func() []string) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, environFunc, (*app.Config).Validate)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage.Type == app.TokenStorageTypeMemory {
		return errors.New("memory storage keeps no token outside a running instance")
	}

	shutdownTelemetry, err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer flushTelemetry(shutdownTelemetry)

	store, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}
	tokens := tokenstore.NewTokens(store)

	token, ok, err := tokens.GetToken(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return tokenmanager.ErrNoToken
	}

	if details, ok, err := tokens.GetTokenDetails(ctx); err == nil && ok {
		var record tokenmanager.TokenRecord
		if err := record.UnmarshalJSON([]byte(details)); err == nil && record.AccessToken == token && record.Expired(time.Now()) {
			slog.WarnContext(ctx, "stored token is expired, start the keeper to refresh it", "expires_at", record.ExpiresAt)
		}
	}

	return writeValue(cmd.Root().Writer, token)
}

func loginURLCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "login-url",
		Usage: "print the provider authorization URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "client--id",
				Usage: "OAuth2 client ID",
			},
			&cli.StringSliceFlag{
				Name:  "client--scopes",
				Usage: "requested scopes (repeatable or space-separated)",
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "redirect receiver host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "redirect receiver port",
				Value: int(app.DefaultConfigServerPort),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// The client secret is only needed for exchanges
			cfg, err := loadConfig(cmd.String("config"), cmd, environFunc, (*app.Config).ValidateAuthorizationURL)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			client := provider.NewClient(cfg.Credentials(), cfg.Endpoint())
			return writeValue(cmd.Root().Writer, client.AuthorizationURL(cfg.RedirectURI()))
		},
	}
}

// writeValue prints a single value. The trailing newline is only added for
// terminals so the output can be captured verbatim, e.g. TOKEN=$(tokenkeeper token).
func writeValue(w io.Writer, value string) error {
	if w == nil {
		w = os.Stdout
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		value += "\n"
	}
	_, err := io.WriteString(w, value)
	return err
}

func flushTelemetry(shutdown observability.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush telemetry: %v\n", err)
	}
}
