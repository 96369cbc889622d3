package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/florianilch/tokenkeeper/internal/provider"
	"github.com/florianilch/tokenkeeper/internal/tokenmanager"
	"github.com/florianilch/tokenkeeper/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for the token pair.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
	TokenStorageTypeMemory  TokenStorageType = "memory"
)

// keyringService names the keyring items holding the token pair.
const keyringService = "tokenkeeper"

// Default configuration values
const (
	DefaultConfigLogFormat        = LogFormatText
	DefaultConfigServerHost       = "127.0.0.1"
	DefaultConfigServerPort       = 8888
	DefaultConfigShutdownTimeout  = 5 * time.Second
	DefaultConfigProviderTimeout  = provider.DefaultTimeout
	DefaultConfigRefreshInterval  = tokenmanager.DefaultRefreshInterval
	DefaultConfigStorageType      = TokenStorageTypeFile
	DefaultConfigProxyHost        = "127.0.0.1"
	DefaultConfigProxyPort        = 4000
	DefaultConfigProxyUpstreamURL = "https://api.spotify.com"
)

// ServerConfig holds the loopback redirect receiver's address. The address must be
// registered with the provider as http://<host>:<port>/callback.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// ClientConfig holds the OAuth2 client credentials.
type ClientConfig struct {
	ID     string   `json:"id" validate:"required"`
	Secret string   `json:"secret" validate:"required"`
	Scopes []string `json:"scopes"`
}

// ProviderConfig describes the OAuth2 provider's endpoints.
type ProviderConfig struct {
	AuthURL  string `json:"auth_url" validate:"required,url"`
	TokenURL string `json:"token_url" validate:"required,url"`
	// Timeout bounds each token exchange.
	Timeout time.Duration `json:"timeout" validate:"gt=0"`
	// JSONRequests sends token requests JSON-encoded instead of form-encoded.
	JSONRequests bool `json:"json_requests"`
}

// RefreshConfig controls the background refresh loop.
type RefreshConfig struct {
	Interval time.Duration `json:"interval" validate:"gt=0"`
}

// StorageConfig describes where the token pair is persisted.
type StorageConfig struct {
	Type TokenStorageType `json:"type" validate:"required,oneof=file keyring memory"`

	// Storage-specific settings (mutually exclusive based on Type)
	Dir         string `json:"dir,omitempty"`          // For file storage: directory holding one file per key
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewTokenStore creates a TokenStore from the storage configuration.
func (s *StorageConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch s.Type {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(s.Dir)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
	case TokenStorageTypeMemory:
		return tokenstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// ProxyConfig holds the optional upstream API proxy configuration.
type ProxyConfig struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host" validate:"hostname_rfc1123|ip"`
	Port        uint16 `json:"port"`
	UpstreamURL string `json:"upstream_url" validate:"required,url"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Client    ClientConfig   `json:"client"`
	Provider  ProviderConfig `json:"provider"`
	Refresh   RefreshConfig  `json:"refresh"`
	Storage   StorageConfig  `json:"storage"`
	Proxy     ProxyConfig    `json:"proxy"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Provider.AuthURL == "" {
		c.Provider.AuthURL = provider.Spotify.AuthURL
	}
	if c.Provider.TokenURL == "" {
		c.Provider.TokenURL = provider.Spotify.TokenURL
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = DefaultConfigProviderTimeout
	}
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = DefaultConfigRefreshInterval
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.Proxy.Host == "" {
		c.Proxy.Host = DefaultConfigProxyHost
	}
	if c.Proxy.Port == 0 {
		c.Proxy.Port = DefaultConfigProxyPort
	}
	if c.Proxy.UpstreamURL == "" {
		c.Proxy.UpstreamURL = DefaultConfigProxyUpstreamURL
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.Dir == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
			}
			c.Storage.Dir = filepath.Join(configDir, "tokenkeeper")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeMemory:
		// nothing persists, nothing to configure
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Proxy.Enabled && c.Proxy.Host == c.Server.Host && c.Proxy.Port == c.Server.Port {
		return errors.New("proxy and redirect receiver cannot share an address")
	}

	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.Dir == "" {
			return errors.New("directory required for file storage")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}

// Credentials returns the client credentials for the provider client.
func (c *Config) Credentials() provider.Credentials {
	return provider.Credentials{
		ClientID:     c.Client.ID,
		ClientSecret: c.Client.Secret,
		Scopes:       c.Client.Scopes,
	}
}

// Endpoint returns the provider's OAuth2 endpoints. Client credentials always travel
// in the basic auth header.
func (c *Config) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   c.Provider.AuthURL,
		TokenURL:  c.Provider.TokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

// ManagerOptions translates the provider and refresh settings into manager options.
func (c *Config) ManagerOptions() []tokenmanager.Option {
	providerOpts := []provider.Option{provider.WithTimeout(c.Provider.Timeout)}
	if c.Provider.JSONRequests {
		providerOpts = append(providerOpts, provider.WithJSONRequests())
	}

	return []tokenmanager.Option{
		tokenmanager.WithEndpoint(c.Endpoint()),
		tokenmanager.WithRefreshInterval(c.Refresh.Interval),
		tokenmanager.WithProviderOptions(providerOpts...),
	}
}

// RedirectURI returns the callback URL the redirect receiver answers on. It matches
// what a running manager reports, so it can be registered with the provider upfront.
func (c *Config) RedirectURI() string {
	host := c.Server.Host
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.FormatUint(uint64(c.Server.Port), 10)) + "/callback"
}

// ValidateAuthorizationURL checks only what building the authorization URL needs:
// the client ID, the authorization endpoint and the receiver address.
func (c *Config) ValidateAuthorizationURL() error {
	v := validator.New()
	if err := v.Var(c.Client.ID, "required"); err != nil {
		return fmt.Errorf("client.id: %w", err)
	}
	if err := v.Var(c.Provider.AuthURL, "required,url"); err != nil {
		return fmt.Errorf("provider.auth_url: %w", err)
	}
	return v.Struct(c.Server)
}
