package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokenkeeper/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., TOKENKEEPER_CLIENT__ID → client.id)
const envPrefix = "TOKENKEEPER_"

// scopesKey holds a list that env vars and flags may give space-separated, the way
// the scope parameter is written.
const scopesKey = "client.scopes"

// durationKeys accept a bare number of seconds besides Go duration strings.
var durationKeys = map[string]bool{
	"shutdown.timeout": true,
	"provider.timeout": true,
	"refresh.interval": true,
}

// configCheck validates a loaded config. Commands that only print something derived
// from the config pass a narrower check than the full app validation.
type configCheck func(*app.Config) error

// loadConfig loads application configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string, check configCheck) (*app.Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		parser, err := configParser(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(key), value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagValues(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	// Normalize after all layers so file values get the same treatment as env and flags
	for key := range durationKeys {
		if k.Exists(key) {
			if err := k.Set(key, normalizeDuration(k.Get(key))); err != nil {
				return nil, fmt.Errorf("normalizing %s: %w", key, err)
			}
		}
	}
	if k.Exists(scopesKey) {
		if err := k.Set(scopesKey, splitScopes(k.Get(scopesKey))); err != nil {
			return nil, fmt.Errorf("normalizing %s: %w", scopesKey, err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := check(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// configParser picks the file parser by extension. TOML is the default.
func configParser(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml", "":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format %q", ext)
	}
}

// envKey maps TOKENKEEPER_CLIENT__ID to client.id.
func envKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, envPrefix), "__", "."))
}

// flagKey maps --server--port to server.port and --log-level to log_level.
func flagKey(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
}

// flagValues collects explicitly set flags, including those of parent commands.
// Unset flags keep their defaults out so file and env values win over them.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	for _, name := range cmd.FlagNames() {
		if name == "config" || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[flagKey(name)] = value
		}
	}

	return values
}

// normalizeDuration turns a bare number of seconds into a duration. Anything else is
// left to the decoder.
func normalizeDuration(value any) any {
	switch v := value.(type) {
	case string:
		if seconds, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(seconds) * time.Second
		}
	case int64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return value
}

// splitScopes flattens a scope list, splitting every entry on whitespace.
func splitScopes(value any) any {
	var entries []string
	switch v := value.(type) {
	case string:
		entries = []string{v}
	case []string:
		entries = v
	case []any:
		for _, entry := range v {
			entries = append(entries, fmt.Sprint(entry))
		}
	default:
		return value
	}

	scopes := []string{}
	for _, entry := range entries {
		scopes = append(scopes, strings.Fields(entry)...)
	}
	return scopes
}
