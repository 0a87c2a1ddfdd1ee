package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/chunk"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/output"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/robots"
)

type loopbackResolver struct{}

func (loopbackResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if host == "docs.test" {
		return []net.IPAddr{{IP: net.ParseIP("127.0.0.1")}}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func newSite(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/guide", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html lang="en"><head><title>Guide</title></head><body><article><h1>Guide</h1>%s</article></body></html>`,
			strings.Repeat("<p>Step by step instructions for configuring the service.</p>", 8))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	_, port, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	return "http://docs.test:" + port
}

func newApp(t *testing.T, mod func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Security.AllowInsecureOverrides = true
	cfg.Cache.Dir = t.TempDir()
	cfg.Browser.Enabled = false
	if mod != nil {
		mod(cfg)
	}

	a, err := New(cfg, logging.NewNop(), monitoring.NewMetrics(),
		WithResolver(loopbackResolver{}),
		WithTokenCounter(chunk.EstimateCounter{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestFetchThroughRegistry(t *testing.T) {
	base := newSite(t)
	a := newApp(t, nil)

	params := map[string]interface{}{"url": base + "/guide"}
	res, err := a.Registry.Execute(context.Background(), webfetch.ToolFetch, params, nil)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Error)

	resp := res.Data["response"].(output.Response)
	assert.Equal(t, "Guide", resp.Title)
	assert.Equal(t, "http", resp.RenderingMethod)
	assert.Empty(t, resp.Notes)
	require.NotEmpty(t, resp.Chunks)

	res, err = a.Registry.Execute(context.Background(), webfetch.ToolFetch, params, nil)
	require.NoError(t, err)
	resp = res.Data["response"].(output.Response)
	assert.Equal(t, []output.Note{output.NoteCacheHit}, resp.Notes)

	health := a.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(2), health.Fetches.Fetches)
	assert.Equal(t, int64(1), health.Fetches.CacheHits)
	require.NotNil(t, health.Cache)
	assert.Equal(t, 1, health.Cache.Entries)
	assert.Nil(t, health.Browser)
	assert.Equal(t, 1, health.Services["total_services"])
}

func TestRobotsDisallowIsReported(t *testing.T) {
	base := newSite(t)
	a := newApp(t, func(c *config.Config) { c.Cache.Enabled = false })

	res, err := a.Registry.Execute(context.Background(), webfetch.ToolFetch,
		map[string]interface{}{"url": base + "/private/page"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	fe := res.Data["error"].(*fetcherr.Error)
	assert.Equal(t, fetcherr.RobotsDisallowed, fe.Code)
}

func TestBrowserWiring(t *testing.T) {
	a := newApp(t, func(c *config.Config) {
		c.Browser.Enabled = true
		c.Browser.MaxSessions = 3
	})
	health := a.Health()
	require.NotNil(t, health.Browser)
	assert.Equal(t, 3, health.Browser.Size)

	require.NoError(t, a.Close())
	assert.True(t, a.Health().Browser.Closed)
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*config.Config)
		want string
	}{
		{"resource type", func(c *config.Config) {
			c.Browser.Enabled = true
			c.Browser.BlockedResourceTypes = []string{"hologram"}
		}, "blocked_resource_types"},
		{"js heavy glob", func(c *config.Config) {
			c.Browser.JSHeavyDomains = []string{"[bad"}
		}, "js_heavy_domains"},
		{"insecure range toggle", func(c *config.Config) {
			c.Security.DisabledRanges = []string{"10.0.0.0/8"}
		}, "SSRF policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Cache.Dir = t.TempDir()
			tt.mod(cfg)
			_, err := New(cfg, logging.NewNop(), nil, WithTokenCounter(chunk.EstimateCounter{}))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRedirectLimit(t *testing.T) {
	assert.Equal(t, fetch.NoRedirects, redirectLimit(0, fetch.NoRedirects))
	assert.Equal(t, robots.NoRedirects, redirectLimit(0, robots.NoRedirects))
	assert.Equal(t, 7, redirectLimit(7, fetch.NoRedirects))
}
