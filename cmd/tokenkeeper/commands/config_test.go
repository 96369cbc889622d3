package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/florianilch/tokenkeeper/internal/app"
	"github.com/florianilch/tokenkeeper/internal/tokenstore"
)

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	cfg, err := loadConfig("", nil, environ(
		"TOKENKEEPER_CLIENT__ID=env-client",
		"TOKENKEEPER_CLIENT__SECRET=env-secret",
		"TOKENKEEPER_CLIENT__SCOPES=user-read-private user-read-email",
		"TOKENKEEPER_SERVER__PORT=9999",
		"TOKENKEEPER_REFRESH__INTERVAL=30s",
		"TOKENKEEPER_STORAGE__TYPE=memory",
		"TOKENKEEPER_LOG_LEVEL=debug",
		"UNRELATED=ignored",
	), (*app.Config).Validate)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Client.ID != "env-client" || cfg.Client.Secret != "env-secret" {
		t.Errorf("client = %+v", cfg.Client)
	}
	if want := []string{"user-read-private", "user-read-email"}; !reflect.DeepEqual(cfg.Client.Scopes, want) {
		t.Errorf("scopes = %v, want %v", cfg.Client.Scopes, want)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Refresh.Interval != 30*time.Second {
		t.Errorf("refresh interval = %s, want 30s", cfg.Refresh.Interval)
	}
	if cfg.LogLevel.String() != "DEBUG" {
		t.Errorf("log level = %s, want DEBUG", cfg.LogLevel)
	}
	if cfg.Storage.Type != app.TokenStorageTypeMemory {
		t.Errorf("storage type = %q, want memory", cfg.Storage.Type)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
[client]
id = "file-client"
secret = "file-secret"
scopes = ["user-read-private"]

[storage]
type = "file"
dir = "` + dir + `"

[proxy]
enabled = true
upstream_url = "https://api.example.com"
`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
client:
  id: file-client
  secret: file-secret
  scopes: [user-read-private]
storage:
  type: file
  dir: "` + dir + `"
proxy:
  enabled: true
  upstream_url: https://api.example.com
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)

			cfg, err := loadConfig(path, nil, environ(), (*app.Config).Validate)
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}

			if cfg.Client.ID != "file-client" {
				t.Errorf("client id = %q, want file-client", cfg.Client.ID)
			}
			if !reflect.DeepEqual(cfg.Client.Scopes, []string{"user-read-private"}) {
				t.Errorf("scopes = %v", cfg.Client.Scopes)
			}
			if cfg.Storage.Dir != dir {
				t.Errorf("storage dir = %q, want %q", cfg.Storage.Dir, dir)
			}
			if !cfg.Proxy.Enabled || cfg.Proxy.UpstreamURL != "https://api.example.com" {
				t.Errorf("proxy = %+v", cfg.Proxy)
			}
		})
	}
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "config.toml", `
[client]
id = "file-client"
secret = "file-secret"

[storage]
type = "memory"
`)

	cfg, err := loadConfig(path, nil, environ("TOKENKEEPER_CLIENT__ID=env-client"), (*app.Config).Validate)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Client.ID != "env-client" || cfg.Client.Secret != "file-secret" {
		t.Errorf("client = %+v, want env id with file secret", cfg.Client)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		env     []string
		wantErr string
	}{
		{
			name:    "missing credentials",
			path:    func(*testing.T) string { return "" },
			env:     []string{"TOKENKEEPER_STORAGE__TYPE=memory"},
			wantErr: "invalid config",
		},
		{
			name:    "unsupported extension",
			path:    func(t *testing.T) string { return writeFile(t, "config.ini", "") },
			wantErr: "unsupported config file format",
		},
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.toml") },
			wantErr: "loading config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.path(t), nil, environ(tt.env...), (*app.Config).Validate)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("loadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoginURLCommand(t *testing.T) {
	cmd := newRootCommand(environ(
		"TOKENKEEPER_CLIENT__ID=abc",
		"TOKENKEEPER_CLIENT__SECRET=xyz",
		"TOKENKEEPER_CLIENT__SCOPES=user-read-private user-read-email",
		"TOKENKEEPER_STORAGE__TYPE=memory",
	))
	var out bytes.Buffer
	cmd.Writer = &out

	if err := cmd.Run(context.Background(), []string{"tokenkeeper", "login-url", "--server--port", "9000"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "https://accounts.spotify.com/authorize?client_id=abc&response_type=code" +
		"&redirect_uri=http%3A%2F%2F127.0.0.1%3A9000%2Fcallback&scope=user-read-private%20user-read-email"
	if got := out.String(); got != want {
		t.Errorf("login-url output =\n%s\nwant\n%s", got, want)
	}
}

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	store, err := tokenstore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := tokenstore.NewTokens(store).StoreToken(context.Background(), "AT1"); err != nil {
		t.Fatalf("StoreToken() error = %v", err)
	}

	env := environ(
		"TOKENKEEPER_CLIENT__ID=abc",
		"TOKENKEEPER_CLIENT__SECRET=xyz",
		"TOKENKEEPER_STORAGE__DIR="+dir,
	)

	cmd := newRootCommand(env)
	var out bytes.Buffer
	cmd.Writer = &out

	if err := cmd.Run(context.Background(), []string{"tokenkeeper", "token"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := out.String(); got != "AT1" {
		t.Errorf("token output = %q, want AT1", got)
	}

	empty := newRootCommand(environ(
		"TOKENKEEPER_CLIENT__ID=abc",
		"TOKENKEEPER_CLIENT__SECRET=xyz",
		"TOKENKEEPER_STORAGE__DIR="+t.TempDir(),
	))
	empty.Writer = &bytes.Buffer{}
	if err := empty.Run(context.Background(), []string{"tokenkeeper", "token"}); err == nil {
		t.Error("token without stored token: error = nil")
	}
}

func TestLoadConfigDurationsAcceptSeconds(t *testing.T) {
	path := writeFile(t, "config.toml", `
[client]
id = "file-client"
secret = "file-secret"

[storage]
type = "memory"

[provider]
timeout = 10
`)

	cfg, err := loadConfig(path, nil, environ(
		"TOKENKEEPER_REFRESH__INTERVAL=90",
		"TOKENKEEPER_SHUTDOWN__TIMEOUT=2s",
	), (*app.Config).Validate)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Provider.Timeout != 10*time.Second {
		t.Errorf("provider timeout = %s, want 10s", cfg.Provider.Timeout)
	}
	if cfg.Refresh.Interval != 90*time.Second {
		t.Errorf("refresh interval = %s, want 1m30s", cfg.Refresh.Interval)
	}
	if cfg.Shutdown.Timeout != 2*time.Second {
		t.Errorf("shutdown timeout = %s, want 2s", cfg.Shutdown.Timeout)
	}
}

func TestSplitScopes(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"space separated string", "a b  c", []string{"a", "b", "c"}},
		{"repeated flag values", []string{"a", "b c"}, []string{"a", "b", "c"}},
		{"file list", []any{"a", "b"}, []string{"a", "b"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitScopes(tt.value); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitScopes(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestLoginURLCommandWithoutSecret(t *testing.T) {
	cmd := newRootCommand(environ("TOKENKEEPER_STORAGE__TYPE=memory"))
	var out bytes.Buffer
	cmd.Writer = &out

	args := []string{"tokenkeeper", "login-url", "--client--id", "abc", "--client--scopes", "user-read-private", "--client--scopes", "user-read-email"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "https://accounts.spotify.com/authorize?client_id=abc&response_type=code" +
		"&redirect_uri=http%3A%2F%2F127.0.0.1%3A8888%2Fcallback&scope=user-read-private%20user-read-email"
	if got := out.String(); got != want {
		t.Errorf("login-url output =\n%s\nwant\n%s", got, want)
	}
}

func TestLoginURLCommandRequiresClientID(t *testing.T) {
	cmd := newRootCommand(environ("TOKENKEEPER_STORAGE__TYPE=memory"))
	cmd.Writer = &bytes.Buffer{}

	if err := cmd.Run(context.Background(), []string{"tokenkeeper", "login-url"}); err == nil {
		t.Fatal("Run() error = nil, want missing client id")
	}
}
