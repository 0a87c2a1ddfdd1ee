package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Prefix is the environment variable prefix.
const Prefix = "WEBFETCH"

// FileEnv names the optional configuration file.
const FileEnv = Prefix + "_CONFIG"

// Duration is a time.Duration that decodes from strings such as "30s" in
// the environment, TOML and YAML alike.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Logging   LogConfig       `toml:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Fetch     FetchConfig     `toml:"fetch" yaml:"fetch"`
	Security  SecurityConfig  `toml:"security" yaml:"security"`
	Robots    RobotsConfig    `toml:"robots" yaml:"robots"`
	Cache     CacheConfig     `toml:"cache" yaml:"cache"`
	Browser   BrowserConfig   `toml:"browser" yaml:"browser"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"WEBFETCH_PORT" toml:"port" yaml:"port"`
	Host string `envconfig:"WEBFETCH_HOST" toml:"host" yaml:"host"`

	CORSOrigins []string `envconfig:"WEBFETCH_CORS_ORIGINS" toml:"cors_origins" yaml:"cors_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"WEBFETCH_LOG_LEVEL" toml:"level" yaml:"level"`
	Development bool   `envconfig:"WEBFETCH_LOG_DEV" toml:"dev" yaml:"dev"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"WEBFETCH_RATE_LIMIT_RPS" toml:"rps" yaml:"rps"`
	Burst             int  `envconfig:"WEBFETCH_RATE_LIMIT_BURST" toml:"burst" yaml:"burst"`
	Enabled           bool `envconfig:"WEBFETCH_RATE_LIMIT_ENABLED" toml:"enabled" yaml:"enabled"`
}

// FetchConfig holds outbound HTTP settings.
type FetchConfig struct {
	UserAgent             string            `envconfig:"WEBFETCH_FETCH_USER_AGENT" toml:"user_agent" yaml:"user_agent"`
	Timeout               Duration          `envconfig:"WEBFETCH_FETCH_TIMEOUT" toml:"timeout" yaml:"timeout"`
	MaxRedirects          int               `envconfig:"WEBFETCH_FETCH_MAX_REDIRECTS" toml:"max_redirects" yaml:"max_redirects"`
	MaxDownloadBytes      int64             `envconfig:"WEBFETCH_FETCH_MAX_DOWNLOAD_BYTES" toml:"max_download_bytes" yaml:"max_download_bytes"`
	MaxDNSAttempts        int               `envconfig:"WEBFETCH_FETCH_MAX_DNS_ATTEMPTS" toml:"max_dns_attempts" yaml:"max_dns_attempts"`
	Headers               map[string]string `envconfig:"WEBFETCH_FETCH_HEADERS" toml:"headers" yaml:"headers"`
	DefaultMaxChunkTokens int               `envconfig:"WEBFETCH_FETCH_DEFAULT_MAX_CHUNK_TOKENS" toml:"default_max_chunk_tokens" yaml:"default_max_chunk_tokens"`
	AllowInsecureTLS      bool              `envconfig:"WEBFETCH_FETCH_ALLOW_INSECURE_TLS" toml:"allow_insecure_tls" yaml:"allow_insecure_tls"`
	PerOriginRPS          float64           `envconfig:"WEBFETCH_FETCH_PER_ORIGIN_RPS" toml:"per_origin_rps" yaml:"per_origin_rps"`
}

// SecurityConfig holds the SSRF policy.
type SecurityConfig struct {
	BlockedCIDRs           []string `envconfig:"WEBFETCH_SECURITY_BLOCKED_CIDRS" toml:"blocked_cidrs" yaml:"blocked_cidrs"`
	DisabledRanges         []string `envconfig:"WEBFETCH_SECURITY_DISABLED_RANGES" toml:"disabled_ranges" yaml:"disabled_ranges"`
	AllowedPorts           []int    `envconfig:"WEBFETCH_SECURITY_ALLOWED_PORTS" toml:"allowed_ports" yaml:"allowed_ports"`
	AllowInsecureOverrides bool     `envconfig:"WEBFETCH_SECURITY_ALLOW_INSECURE_OVERRIDES" toml:"allow_insecure_overrides" yaml:"allow_insecure_overrides"`
}

// RobotsConfig holds robots.txt policy settings.
type RobotsConfig struct {
	Token        string   `envconfig:"WEBFETCH_ROBOTS_TOKEN" toml:"token" yaml:"token"`
	FailOpen     bool     `envconfig:"WEBFETCH_ROBOTS_FAIL_OPEN" toml:"fail_open" yaml:"fail_open"`
	CacheEntries int      `envconfig:"WEBFETCH_ROBOTS_CACHE_ENTRIES" toml:"cache_entries" yaml:"cache_entries"`
	CacheTTL     Duration `envconfig:"WEBFETCH_ROBOTS_CACHE_TTL" toml:"cache_ttl" yaml:"cache_ttl"`
	MaxBytes     int      `envconfig:"WEBFETCH_ROBOTS_MAX_BYTES" toml:"max_bytes" yaml:"max_bytes"`
}

// CacheConfig holds the document cache settings.
type CacheConfig struct {
	Enabled    bool     `envconfig:"WEBFETCH_CACHE_ENABLED" toml:"enabled" yaml:"enabled"`
	Dir        string   `envconfig:"WEBFETCH_CACHE_DIR" toml:"dir" yaml:"dir"`
	TTL        Duration `envconfig:"WEBFETCH_CACHE_TTL" toml:"ttl" yaml:"ttl"`
	MaxEntries int      `envconfig:"WEBFETCH_CACHE_MAX_ENTRIES" toml:"max_entries" yaml:"max_entries"`
	MaxBytes   int64    `envconfig:"WEBFETCH_CACHE_MAX_BYTES" toml:"max_bytes" yaml:"max_bytes"`
}

// BrowserConfig holds sandboxed browser settings.
type BrowserConfig struct {
	Enabled                  bool     `envconfig:"WEBFETCH_BROWSER_ENABLED" toml:"enabled" yaml:"enabled"`
	Timeout                  Duration `envconfig:"WEBFETCH_BROWSER_TIMEOUT" toml:"timeout" yaml:"timeout"`
	NetworkIdle              Duration `envconfig:"WEBFETCH_BROWSER_NETWORK_IDLE" toml:"network_idle" yaml:"network_idle"`
	MaxRenderedDOMBytes      int      `envconfig:"WEBFETCH_BROWSER_MAX_RENDERED_DOM_BYTES" toml:"max_rendered_dom_bytes" yaml:"max_rendered_dom_bytes"`
	MaxSubresourceBytes      int64    `envconfig:"WEBFETCH_BROWSER_MAX_SUBRESOURCE_BYTES" toml:"max_subresource_bytes" yaml:"max_subresource_bytes"`
	MaxTotalSubresourceBytes int64    `envconfig:"WEBFETCH_BROWSER_MAX_TOTAL_SUBRESOURCE_BYTES" toml:"max_total_subresource_bytes" yaml:"max_total_subresource_bytes"`
	BlockedResourceTypes     []string `envconfig:"WEBFETCH_BROWSER_BLOCKED_RESOURCE_TYPES" toml:"blocked_resource_types" yaml:"blocked_resource_types"`
	JSHeavyDomains           []string `envconfig:"WEBFETCH_BROWSER_JS_HEAVY_DOMAINS" toml:"js_heavy_domains" yaml:"js_heavy_domains"`
	SPAMinTextChars          int      `envconfig:"WEBFETCH_BROWSER_SPA_MIN_TEXT_CHARS" toml:"spa_min_text_chars" yaml:"spa_min_text_chars"`
	MaxSessions              int      `envconfig:"WEBFETCH_BROWSER_MAX_SESSIONS" toml:"max_sessions" yaml:"max_sessions"`
}

// Load builds the configuration from defaults, then the file named by
// WEBFETCH_CONFIG if set, then WEBFETCH_* environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	// Tags carry the full variable names, so no prefix is passed.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns the defaults on error.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	case ".yaml", ".yml":
		err = yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField())
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",

			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Fetch: FetchConfig{
			UserAgent:             "agentos-webfetch/1.0",
			Timeout:               Duration(20 * time.Second),
			MaxRedirects:          5,
			MaxDownloadBytes:      10 << 20,
			MaxDNSAttempts:        3,
			DefaultMaxChunkTokens: 600,
		},
		Security: SecurityConfig{
			AllowedPorts: []int{80, 443},
		},
		Robots: RobotsConfig{
			CacheEntries: 512,
			CacheTTL:     Duration(time.Hour),
			MaxBytes:     512 * 1024,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Dir:        filepath.Join(os.TempDir(), "webfetch-cache"),
			TTL:        Duration(7 * 24 * time.Hour),
			MaxEntries: 1000,
			MaxBytes:   1 << 30,
		},
		Browser: BrowserConfig{
			Enabled:                  true,
			Timeout:                  Duration(30 * time.Second),
			NetworkIdle:              Duration(500 * time.Millisecond),
			MaxRenderedDOMBytes:      5 << 20,
			MaxSubresourceBytes:      20 << 20,
			MaxTotalSubresourceBytes: 20 << 20,
			BlockedResourceTypes:     []string{"image", "font", "media"},
			SPAMinTextChars:          200,
			MaxSessions:              2,
		},
	}
}

// Validate range-checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port != "", "server.port is required")
	check(!c.RateLimit.Enabled || c.RateLimit.RequestsPerSecond > 0, "rate_limit.rps must be positive")
	check(!c.RateLimit.Enabled || c.RateLimit.Burst > 0, "rate_limit.burst must be positive")

	check(c.Fetch.Timeout > 0, "fetch.timeout must be positive")
	check(c.Fetch.MaxRedirects >= 0 && c.Fetch.MaxRedirects <= 20, "fetch.max_redirects must be between 0 and 20")
	check(c.Fetch.MaxDownloadBytes > 0, "fetch.max_download_bytes must be positive")
	check(c.Fetch.MaxDNSAttempts > 0, "fetch.max_dns_attempts must be positive")
	check(c.Fetch.DefaultMaxChunkTokens >= 128 && c.Fetch.DefaultMaxChunkTokens <= 2048,
		"fetch.default_max_chunk_tokens must be between 128 and 2048")
	check(c.Fetch.PerOriginRPS >= 0, "fetch.per_origin_rps must not be negative")

	for _, port := range c.Security.AllowedPorts {
		check(port > 0 && port <= 65535, "security.allowed_ports: %d is not a valid port", port)
	}

	check(c.Robots.CacheEntries > 0, "robots.cache_entries must be positive")
	check(c.Robots.CacheTTL > 0, "robots.cache_ttl must be positive")
	check(c.Robots.MaxBytes > 0, "robots.max_bytes must be positive")

	if c.Cache.Enabled {
		check(c.Cache.Dir != "", "cache.dir is required when the cache is enabled")
		check(c.Cache.TTL > 0, "cache.ttl must be positive")
		check(c.Cache.MaxEntries > 0, "cache.max_entries must be positive")
		check(c.Cache.MaxBytes > 0, "cache.max_bytes must be positive")
	}

	if c.Browser.Enabled {
		check(c.Browser.Timeout > 0, "browser.timeout must be positive")
		check(c.Browser.NetworkIdle > 0 && c.Browser.NetworkIdle < c.Browser.Timeout,
			"browser.network_idle must be positive and shorter than browser.timeout")
		check(c.Browser.MaxRenderedDOMBytes > 0, "browser.max_rendered_dom_bytes must be positive")
		check(c.Browser.MaxSubresourceBytes > 0, "browser.max_subresource_bytes must be positive")
		check(c.Browser.MaxTotalSubresourceBytes > 0, "browser.max_total_subresource_bytes must be positive")
		check(c.Browser.MaxSessions > 0, "browser.max_sessions must be positive")
	}
	check(c.Browser.SPAMinTextChars > 0, "browser.spa_min_text_chars must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
