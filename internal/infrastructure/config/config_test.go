package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20*time.Second, cfg.Fetch.Timeout.Std())
	assert.Equal(t, 600, cfg.Fetch.DefaultMaxChunkTokens)
	assert.Equal(t, []int{80, 443}, cfg.Security.AllowedPorts)
	assert.False(t, cfg.Security.AllowInsecureOverrides)
	assert.False(t, cfg.Robots.FailOpen)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL.Std())
	assert.Equal(t, []string{"image", "font", "media"}, cfg.Browser.BlockedResourceTypes)
	assert.Equal(t, 500*time.Millisecond, cfg.Browser.NetworkIdle.Std())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"WEBFETCH_PORT":                           "9000",
		"WEBFETCH_LOG_LEVEL":                      "debug",
		"WEBFETCH_RATE_LIMIT_ENABLED":             "false",
		"WEBFETCH_FETCH_TIMEOUT":                  "5s",
		"WEBFETCH_FETCH_HEADERS":                  "X-Team:search,X-Env:test",
		"WEBFETCH_SECURITY_BLOCKED_CIDRS":         "203.0.113.0/24,198.51.100.0/24",
		"WEBFETCH_SECURITY_ALLOWED_PORTS":         "80,443,8080",
		"WEBFETCH_ROBOTS_FAIL_OPEN":               "true",
		"WEBFETCH_CACHE_DIR":                      t.TempDir(),
		"WEBFETCH_BROWSER_JS_HEAVY_DOMAINS":       "*.app.example,dash.example.org",
		"WEBFETCH_BROWSER_NETWORK_IDLE":           "250ms",
		"WEBFETCH_FETCH_DEFAULT_MAX_CHUNK_TOKENS": "1024",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout.Std())
	assert.Equal(t, map[string]string{"X-Team": "search", "X-Env": "test"}, cfg.Fetch.Headers)
	assert.Equal(t, []string{"203.0.113.0/24", "198.51.100.0/24"}, cfg.Security.BlockedCIDRs)
	assert.Equal(t, []int{80, 443, 8080}, cfg.Security.AllowedPorts)
	assert.True(t, cfg.Robots.FailOpen)
	assert.Equal(t, []string{"*.app.example", "dash.example.org"}, cfg.Browser.JSHeavyDomains)
	assert.Equal(t, 250*time.Millisecond, cfg.Browser.NetworkIdle.Std())
	assert.Equal(t, 1024, cfg.Fetch.DefaultMaxChunkTokens)

	// Untouched values keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Fetch.MaxRedirects)
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webfetch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "7000"

[fetch]
user_agent = "docs-bot/2.0"
timeout = "12s"
headers = { X-Team = "docs" }

[robots]
fail_open = true
cache_ttl = "10m"

[browser]
enabled = false
js_heavy_domains = ["*.spa.example"]
`), 0o644))

	t.Setenv("WEBFETCH_PORT", "7100")
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7100", cfg.Server.Port, "environment overrides the file")
	assert.Equal(t, "docs-bot/2.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 12*time.Second, cfg.Fetch.Timeout.Std())
	assert.Equal(t, map[string]string{"X-Team": "docs"}, cfg.Fetch.Headers)
	assert.True(t, cfg.Robots.FailOpen)
	assert.Equal(t, 10*time.Minute, cfg.Robots.CacheTTL.Std())
	assert.False(t, cfg.Browser.Enabled)
	assert.Equal(t, []string{"*.spa.example"}, cfg.Browser.JSHeavyDomains)
	assert.Equal(t, 2, cfg.Browser.MaxSessions)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: warn
security:
  allowed_ports: [80, 443, 8443]
  blocked_cidrs:
    - 203.0.113.0/24
cache:
  enabled: false
browser:
  network_idle: 300ms
  max_sessions: 4
`), 0o644))

	t.Setenv(FileEnv, path)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []int{80, 443, 8443}, cfg.Security.AllowedPorts)
	assert.Equal(t, []string{"203.0.113.0/24"}, cfg.Security.BlockedCIDRs)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 300*time.Millisecond, cfg.Browser.NetworkIdle.Std())
	assert.Equal(t, 4, cfg.Browser.MaxSessions)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "webfetch.ini")
	require.NoError(t, os.WriteFile(ini, []byte("port=1"), 0o644))
	_, err = LoadFile(ini)
	assert.ErrorContains(t, err, "unsupported config file extension")

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("fetch:\n  speed: fast\n"), 0o644))
	_, err = LoadFile(unknown)
	assert.Error(t, err)

	badDuration := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badDuration, []byte("[fetch]\ntimeout = \"soon\"\n"), 0o644))
	_, err = LoadFile(badDuration)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"chunk tokens":      func(c *Config) { c.Fetch.DefaultMaxChunkTokens = 100 },
		"redirects":         func(c *Config) { c.Fetch.MaxRedirects = 21 },
		"port":              func(c *Config) { c.Security.AllowedPorts = []int{0} },
		"idle above budget": func(c *Config) { c.Browser.NetworkIdle = c.Browser.Timeout },
		"cache dir":         func(c *Config) { c.Cache.Dir = "" },
		"rate":              func(c *Config) { c.RateLimit.Burst = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Cache.Enabled = false
	cfg.Cache.Dir = ""
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Burst = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("WEBFETCH_FETCH_MAX_REDIRECTS", "not-a-number")
	cfg := LoadOrDefault()
	assert.Equal(t, 5, cfg.Fetch.MaxRedirects)
}
