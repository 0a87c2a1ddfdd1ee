// Package app assembles the fetch service from configuration: the SSRF
// policy, HTTP client, robots engine, browser, cache, chunker and pipeline,
// registered as the "web" service.
package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/browser"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/cache"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/chunk"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/robots"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/ssrf"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/service"
)

// App owns the long-lived components of the fetch service.
type App struct {
	Pipeline *webfetch.Pipeline
	Registry *service.Registry
	Metrics  *monitoring.Metrics

	client   *fetch.Client
	robots   *robots.Engine
	launcher *browser.Launcher
	cache    *cache.Store
	logger   *logging.Logger
}

// Option customizes assembly.
type Option func(*options)

type options struct {
	resolver ssrf.Resolver
	counter  chunk.TokenCounter
}

// WithResolver replaces the system DNS resolver.
func WithResolver(r ssrf.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithTokenCounter replaces the BPE token counter.
func WithTokenCounter(c chunk.TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

// New builds the service. metrics may be nil.
func New(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	policy, err := ssrf.NewPolicy(ssrf.Config{
		BlockedCIDRs:           cfg.Security.BlockedCIDRs,
		DisabledRanges:         cfg.Security.DisabledRanges,
		AllowedPorts:           cfg.Security.AllowedPorts,
		AllowInsecureOverrides: cfg.Security.AllowInsecureOverrides,
		MaxDNSAttempts:         cfg.Fetch.MaxDNSAttempts,
		Resolver:               o.resolver,
	}, logger.Named("ssrf").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build SSRF policy: %w", err)
	}

	client := fetch.New(fetch.Config{
		UserAgent:        cfg.Fetch.UserAgent,
		Timeout:          cfg.Fetch.Timeout.Std(),
		MaxRedirects:     redirectLimit(cfg.Fetch.MaxRedirects, fetch.NoRedirects),
		MaxDownloadBytes: cfg.Fetch.MaxDownloadBytes,
		Headers:          cfg.Fetch.Headers,
		AllowInsecureTLS: cfg.Fetch.AllowInsecureTLS,
		PerOriginRPS:     cfg.Fetch.PerOriginRPS,
	}, policy, logger.Named("fetch").Logger)

	token := cfg.Robots.Token
	if token == "" {
		token = robots.DeriveToken(cfg.Fetch.UserAgent)
	}
	engine := robots.NewEngine(robots.Config{
		Token:        token,
		FailOpen:     cfg.Robots.FailOpen,
		CacheEntries: cfg.Robots.CacheEntries,
		CacheTTL:     cfg.Robots.CacheTTL.Std(),
		MaxBytes:     cfg.Robots.MaxBytes,
		MaxRedirects: redirectLimit(cfg.Fetch.MaxRedirects, robots.NoRedirects),
		Timeout:      cfg.Fetch.Timeout.Std(),
	}, client.NewRobotsFetcher(fetch.RobotsOptions{RetryMax: 2}), logger.Named("robots").Logger)

	a := &App{
		Registry: service.NewRegistry(),
		Metrics:  metrics,
		client:   client,
		robots:   engine,
		logger:   logger,
	}

	deps := webfetch.Deps{
		Fetcher:  client,
		Gate:     engine,
		Observer: metrics,
		Logger:   logger.Named("pipeline").Logger,
	}
	popts := webfetch.Options{
		DefaultMaxChunkTokens:  cfg.Fetch.DefaultMaxChunkTokens,
		SPAMinTextChars:        cfg.Browser.SPAMinTextChars,
		AllowInsecureOverrides: cfg.Security.AllowInsecureOverrides,
	}

	if cfg.Browser.Enabled {
		bcfg, err := browserConfig(cfg.Browser, metrics)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.launcher = browser.NewLauncher(bcfg, client, logger.Named("browser").Logger)
		deps.Renderer = a.launcher
		metrics.RegisterGaugeFunc("webfetch_browser_sessions_in_use", "Browser sessions currently rendering",
			func() float64 { return float64(a.launcher.Stats().InUse) })
	}
	hosts, err := browser.NewHostMatcher(cfg.Browser.JSHeavyDomains)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid browser.js_heavy_domains: %w", err)
	}
	popts.JSHeavy = &hosts

	if cfg.Cache.Enabled {
		store, err := cache.New(cache.Config{
			Dir:        cfg.Cache.Dir,
			TTL:        cfg.Cache.TTL.Std(),
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.Cache.MaxBytes,
		}, logger.Named("cache").Logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		a.cache = store
		deps.Cache = store
	}

	counter := o.counter
	if counter == nil {
		tc, err := chunk.NewTiktokenCounter(chunk.DefaultEncoding)
		if err != nil {
			logger.Warn("BPE encoding unavailable, estimating token counts", zap.Error(err))
			counter = chunk.EstimateCounter{}
		} else {
			counter = tc
		}
	}
	deps.Chunker = chunk.New(counter)

	a.Pipeline, err = webfetch.New(deps, popts)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.Registry.Register(webfetch.NewProvider(a.Pipeline)); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("Fetch service assembled",
		zap.Bool("browser", a.launcher != nil),
		zap.Bool("cache", a.cache != nil),
		zap.String("robots_token", engine.Token()),
		zap.Bool("robots_fail_open", cfg.Robots.FailOpen),
	)
	return a, nil
}

func browserConfig(c config.BrowserConfig, metrics *monitoring.Metrics) (browser.Config, error) {
	var blocked []browser.ResourceType
	if c.BlockedResourceTypes != nil {
		blocked = []browser.ResourceType{}
		for _, s := range c.BlockedResourceTypes {
			t, err := browser.ParseResourceType(s)
			if err != nil {
				return browser.Config{}, fmt.Errorf("invalid browser.blocked_resource_types: %w", err)
			}
			blocked = append(blocked, t)
		}
	}
	return browser.Config{
		Enabled:                  true,
		Timeout:                  c.Timeout.Std(),
		NetworkIdle:              c.NetworkIdle.Std(),
		MaxRenderedDOMBytes:      c.MaxRenderedDOMBytes,
		MaxSubresourceBytes:      c.MaxSubresourceBytes,
		MaxTotalSubresourceBytes: c.MaxTotalSubresourceBytes,
		BlockedResourceTypes:     blocked,
		MaxSessions:              c.MaxSessions,
		OnSubrequest: func(t browser.ResourceType, result string) {
			metrics.Subrequest(string(t), result)
		},
	}, nil
}

// redirectLimit maps a configured redirect cap onto a client limit, where a
// configured zero means none rather than the client default.
func redirectLimit(configured, none int) int {
	if configured == 0 {
		return none
	}
	return configured
}

// Health reports component state for the health endpoint.
type Health struct {
	Status   string                 `json:"status"`
	Fetches  monitoring.Snapshot    `json:"fetches"`
	Breakers map[string]string      `json:"breakers"`
	Browser  *browser.PoolStats     `json:"browser,omitempty"`
	Cache    *cache.Stats           `json:"cache,omitempty"`
	Services map[string]interface{} `json:"services"`
}

// Health collects a point-in-time view of the service.
func (a *App) Health() Health {
	h := Health{
		Status:   "healthy",
		Fetches:  a.Metrics.Snapshot(),
		Breakers: make(map[string]string),
		Services: a.Registry.Stats(),
	}
	for origin, state := range a.client.Breakers() {
		h.Breakers[origin] = state.String()
	}
	if a.launcher != nil {
		stats := a.launcher.Stats()
		h.Browser = &stats
	}
	if a.cache != nil {
		if stats, err := a.cache.Stats(); err == nil {
			h.Cache = &stats
		} else {
			a.logger.Warn("Failed to read cache stats", zap.Error(err))
		}
	}
	return h
}

// Close releases the browser pool and idle connections.
func (a *App) Close() error {
	var errs []error
	if a.launcher != nil {
		if err := a.launcher.Close(); err != nil && !errors.Is(err, browser.ErrPoolClosed) {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if a.client != nil {
		a.client.Close()
	}
	return errors.Join(errs...)
}
