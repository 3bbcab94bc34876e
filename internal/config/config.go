// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultUserAgent is sent on every outbound request unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/media-proxy/config.toml",
	"configs/config.toml",
}

// ErrMissingTelegramToken is returned by LoadBot when no token is configured.
var ErrMissingTelegramToken = errors.New("TELEGRAM_TOKEN is not configured")

// reservedRoutes are served by the proxy and cannot host the metrics endpoint.
var reservedRoutes = []string{"/proxy", "/health", "/proxy/status"}

// CLI holds command-line arguments of the proxy, parsed by Kong.
type CLI struct {
	Config           string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host             string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	MaxContentLength int64  `kong:"help='Largest declared upstream Content-Length in bytes (overrides config).',env='MAX_CONTENT_LENGTH'"`
	RequestTimeout   int    `kong:"help='Upstream connect/read timeout in seconds (overrides config).',env='REQUEST_TIMEOUT'"`
	LogLevel         string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// BotCLI holds command-line arguments of the chat front end.
type BotCLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	ProxyBase     string `kong:"help='Proxy base URL, e.g. https://host/proxy?url= (overrides config).',env='PROXY_BASE'"`
	TelegramToken string `kong:"help='Telegram Bot API token (overrides config).',env='TELEGRAM_TOKEN'"`
	Console       bool   `kong:"help='Chat on stdin/stdout instead of Telegram.'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	Resolver ResolverConfig `toml:"resolver"`
	Telegram TelegramConfig `toml:"telegram"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"` // 0 means "use default" (5000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64    `toml:"body_max_bytes"`
	CORSOrigins  []string `toml:"cors_origins"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	UserAgent       string `toml:"user_agent"`
	MaxRedirects    int    `toml:"max_redirects"`
}

// RelayConfig bounds what a single proxied call may transfer.
type RelayConfig struct {
	MaxContentLength int64 `toml:"max_content_length"`
	ChunkSize        int   `toml:"chunk_size"`
}

// ResolverConfig holds share-link resolver settings.
type ResolverConfig struct {
	ProxyBase      string `toml:"proxy_base"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
	MaxPageBytes   int64  `toml:"max_page_bytes"`
}

// TelegramConfig holds chat transport settings.
type TelegramConfig struct {
	Token              string `toml:"token"`
	APIURL             string `toml:"api_url"` // empty means api.telegram.org
	PollTimeoutSeconds int    `toml:"poll_timeout_seconds"`
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

// Load reads the TOML config file, if any, and applies proxy CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/media-proxy/config.toml then configs/config.toml and falls back to
// defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	return load(cli.Config, func(c *Config) {
		if cli.Host != "" {
			c.Server.Host = cli.Host
		}
		if cli.Port != 0 {
			c.Server.Port = cli.Port
		}
		if cli.MaxContentLength != 0 {
			c.Relay.MaxContentLength = cli.MaxContentLength
		}
		if cli.RequestTimeout != 0 {
			c.Upstream.TimeoutSeconds = cli.RequestTimeout
		}
		if cli.LogLevel != "" {
			c.Log.Level = cli.LogLevel
		}
	})
}

// LoadBot reads the config like Load and applies chat front end overrides.
// A Telegram token is required unless the console transport was chosen.
func LoadBot(cli *BotCLI) (*Config, error) {
	cfg, err := load(cli.Config, func(c *Config) {
		if cli.ProxyBase != "" {
			c.Resolver.ProxyBase = cli.ProxyBase
		}
		if cli.TelegramToken != "" {
			c.Telegram.Token = cli.TelegramToken
		}
		if cli.LogLevel != "" {
			c.Log.Level = cli.LogLevel
		}
	})
	if err != nil {
		return nil, err
	}
	if !cli.Console && cfg.Telegram.Token == "" {
		return nil, ErrMissingTelegramToken
	}
	return cfg, nil
}

func load(path string, applyCLI func(*Config)) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg.filePath = path
		case explicit || !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyCLI(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}
	if c.Relay.MaxContentLength < 0 {
		return fmt.Errorf("relay.max_content_length must be non-negative; got %d", c.Relay.MaxContentLength)
	}
	if c.Relay.ChunkSize < 0 {
		return fmt.Errorf("relay.chunk_size must be non-negative; got %d", c.Relay.ChunkSize)
	}
	if c.Resolver.TimeoutSeconds < 0 {
		return fmt.Errorf("resolver.timeout_seconds must be non-negative; got %d", c.Resolver.TimeoutSeconds)
	}
	if c.Telegram.PollTimeoutSeconds < 0 {
		return fmt.Errorf("telegram.poll_timeout_seconds must be non-negative; got %d", c.Telegram.PollTimeoutSeconds)
	}
	if c.Resolver.MaxPageBytes < 0 {
		return fmt.Errorf("resolver.max_page_bytes must be non-negative; got %d", c.Resolver.MaxPageBytes)
	}

	// The bot concatenates the encoded target onto this base, so it must be absolute.
	if c.Resolver.ProxyBase != "" {
		u, err := url.Parse(c.Resolver.ProxyBase)
		if err != nil {
			return fmt.Errorf("resolver.proxy_base is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("resolver.proxy_base must use http or https; got %q", c.Resolver.ProxyBase)
		}
	}

	if c.Telegram.APIURL != "" {
		u, err := url.Parse(c.Telegram.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("telegram.api_url must be an http or https URL; got %q", c.Telegram.APIURL)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
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
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; the proxy only serves GET
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 20
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 10
	}
	if c.Relay.MaxContentLength == 0 {
		c.Relay.MaxContentLength = 1024 * 1024 * 1024 // 1 GiB
	}
	if c.Relay.ChunkSize == 0 {
		c.Relay.ChunkSize = 16 * 1024
	}
	if c.Resolver.TimeoutSeconds == 0 {
		c.Resolver.TimeoutSeconds = 10
	}
	if c.Resolver.UserAgent == "" {
		c.Resolver.UserAgent = DefaultUserAgent
	}
	if c.Resolver.MaxPageBytes == 0 {
		c.Resolver.MaxPageBytes = 5 * 1024 * 1024
	}
	if c.Telegram.PollTimeoutSeconds == 0 {
		c.Telegram.PollTimeoutSeconds = 30
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

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
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

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// ResolverUpstream returns a copy of c whose upstream section carries the
// resolver's timeout and User-Agent, for building the page-fetch client.
func (c *Config) ResolverUpstream() *Config {
	out := *c
	out.Upstream.TimeoutSeconds = c.Resolver.TimeoutSeconds
	out.Upstream.UserAgent = c.Resolver.UserAgent
	return &out
}
