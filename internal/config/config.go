// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	PortFile string `kong:"help='Write the bound proxy port to this file (overrides config).',env='PORT_FILE'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds local listener settings. The listen address itself is
// always 127.0.0.1 with an OS-assigned port and cannot be configured.
type ServerConfig struct {
	PortFile string `toml:"port_file"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	ConnectTimeoutSeconds        int `toml:"connect_timeout_seconds"`
	TLSHandshakeTimeoutSeconds   int `toml:"tls_handshake_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int `toml:"response_header_timeout_seconds"`
	IdleReadTimeoutSeconds       int `toml:"idle_read_timeout_seconds"`
	MaxRedirects                 int `toml:"max_redirects"`
	IdleConnections              int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// reservedPaths are routes the metrics endpoint may not shadow.
var reservedPaths = []string{"/proxy", "/healthz", "/status"}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// the user config dir then configs/config.toml. Finding nothing is not an
// error: the proxy runs embedded in a desktop app and must start on defaults.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// FilePath returns the config file that was loaded, or "" when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.PortFile != "" {
		c.Server.PortFile = cli.PortFile
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	timeouts := []struct {
		name string
		v    int
	}{
		{"upstream.connect_timeout_seconds", c.Upstream.ConnectTimeoutSeconds},
		{"upstream.tls_handshake_timeout_seconds", c.Upstream.TLSHandshakeTimeoutSeconds},
		{"upstream.response_header_timeout_seconds", c.Upstream.ResponseHeaderTimeoutSeconds},
		{"upstream.idle_read_timeout_seconds", c.Upstream.IdleReadTimeoutSeconds},
	}
	for _, t := range timeouts {
		if t.v < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", t.name, t.v)
		}
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPaths {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with defaults.
// Zero means "unset" because TOML cannot distinguish an explicit 0 from an
// omitted key, so max_redirects = 0 still yields the default of 10.
func (c *Config) setDefaults() {
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 10
	}
	if c.Upstream.TLSHandshakeTimeoutSeconds == 0 {
		c.Upstream.TLSHandshakeTimeoutSeconds = 10
	}
	if c.Upstream.ResponseHeaderTimeoutSeconds == 0 {
		c.Upstream.ResponseHeaderTimeoutSeconds = 30
	}
	if c.Upstream.IdleReadTimeoutSeconds == 0 {
		c.Upstream.IdleReadTimeoutSeconds = 60
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 16
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// configSearchPaths lists paths checked in order when no explicit config is given.
func configSearchPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "media-proxy", "config.toml"))
	}
	return append(paths, filepath.Join("configs", "config.toml"))
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths())
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
