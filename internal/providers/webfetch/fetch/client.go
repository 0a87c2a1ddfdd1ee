// Package fetch retrieves documents over HTTP through the SSRF-pinned
// transport.
//
// Every hop is resolved and pinned before dialing, redirects are followed
// manually so each target is re-validated, and bodies are decompressed and
// capped before they are decoded to UTF-8.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/ssrf"
)

const (
	DefaultUserAgent        = "agentos-webfetch/1.0"
	DefaultAccept           = "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.1"
	DefaultAcceptEncoding   = "gzip, deflate, zstd"
	DefaultTimeout          = 20 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultMaxRedirects     = 5
	DefaultMaxDownloadBytes = int64(10 << 20)

	// NoRedirects as Config.MaxRedirects refuses every redirect.
	NoRedirects = -1
)

// Config configures a Client. A zero MaxRedirects selects
// DefaultMaxRedirects; NoRedirects refuses every redirect.
type Config struct {
	UserAgent        string
	Timeout          time.Duration
	ConnectTimeout   time.Duration
	MaxRedirects     int
	MaxDownloadBytes int64
	Headers          map[string]string
	AllowInsecureTLS bool
	// PerOriginRPS limits requests per origin. Zero is unlimited.
	PerOriginRPS   float64
	PerOriginBurst int
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	switch {
	case c.MaxRedirects == 0:
		c.MaxRedirects = DefaultMaxRedirects
	case c.MaxRedirects < 0:
		c.MaxRedirects = 0
	}
	if c.MaxDownloadBytes <= 0 {
		c.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	if c.PerOriginBurst <= 0 {
		c.PerOriginBurst = max(1, int(c.PerOriginRPS))
	}
}

// Client performs pinned HTTP requests. It is safe for concurrent use.
type Client struct {
	cfg       Config
	policy    *ssrf.Policy
	resty     *resty.Client
	transport *http.Transport
	logger    *zap.Logger

	breakers *resilience.Group

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a client whose transport dials only pinned addresses.
func New(cfg Config, policy *ssrf.Policy, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := newTransport(policy, cfg.ConnectTimeout, cfg.AllowInsecureTLS)
	httpClient := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	r := resty.NewWithClient(httpClient).
		SetRetryCount(0).
		SetLogger(restyLogger{logger.Sugar()}).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", DefaultAccept).
		SetHeader("Accept-Encoding", DefaultAcceptEncoding)
	for k, v := range cfg.Headers {
		r.SetHeader(k, v)
	}

	return &Client{
		cfg:       cfg,
		policy:    policy,
		resty:     r,
		transport: transport,
		logger:    logger,
		breakers: resilience.NewGroup("origin", resilience.Settings{
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsFailure: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Info("Origin breaker state changed",
					zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		limiters: make(map[string]*rate.Limiter),
	}
}

// newTransport builds a transport that never proxies, never reuses a
// connection and never decompresses on its own.
func newTransport(policy *ssrf.Policy, connectTimeout time.Duration, insecureTLS bool) *http.Transport {
	return &http.Transport{
		Proxy:                  nil,
		DialContext:            policy.NewDialer(connectTimeout).DialContext,
		DisableKeepAlives:      true,
		DisableCompression:     true,
		TLSHandshakeTimeout:    connectTimeout,
		MaxResponseHeaderBytes: 1 << 20,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureTLS,
		},
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Policy returns the SSRF policy the client dials under.
func (c *Client) Policy() *ssrf.Policy { return c.policy }

// Close releases idle transport resources.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

func (c *Client) limiterFor(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[key]; ok {
		return l
	}
	limit := rate.Inf
	if c.cfg.PerOriginRPS > 0 {
		limit = rate.Limit(c.cfg.PerOriginRPS)
	}
	l := rate.NewLimiter(limit, c.cfg.PerOriginBurst)
	c.limiters[key] = l
	return l
}

// Breakers exposes the per-origin breaker states.
func (c *Client) Breakers() map[string]resilience.State {
	return c.breakers.States()
}

// Request is a single pinned hop.
type Request struct {
	URL    canon.URL
	Method string
	Accept string
	// MaxBytes caps the decompressed body. Zero uses MaxDownloadBytes.
	MaxBytes int64
}

// Response is the outcome of a single hop. Body is only read for 2xx.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Exceeded bool
	Phase    fetcherr.Phase
}

var errServerStatus = errors.New("server error status")

// Do performs one request against a pinned address set. It does not follow
// redirects. Failures are classified into *fetcherr.Error.
func (c *Client) Do(ctx context.Context, set ssrf.ResolvedSet, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.MaxBytes <= 0 {
		req.MaxBytes = c.cfg.MaxDownloadBytes
	}

	key := req.URL.Origin()
	if err := c.limiterFor(key).Wait(ctx); err != nil {
		return nil, fetcherr.TimeoutIn(fetcherr.PhaseRequest, c.cfg.Timeout.Seconds()).
			With("url", req.URL.String())
	}

	tracker := &phaseTracker{}
	tracker.set(fetcherr.PhaseConnect)
	hopCtx := tracker.attach(ssrf.WithPin(ctx, set))

	resp, err := resilience.Do(c.breakers.Get(key), func() (*resty.Response, error) {
		r := c.resty.R().
			SetContext(hopCtx).
			SetDoNotParseResponse(true)
		if req.Accept != "" {
			r.SetHeader("Accept", req.Accept)
		}
		resp, err := r.Execute(req.Method, req.URL.String())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if err != nil && !errors.Is(err, errServerStatus) {
		return nil, c.classify(ctx, req.URL, tracker.get(), err)
	}

	raw := resp.RawBody()
	defer raw.Close()

	result := &Response{
		Status: resp.StatusCode(),
		Header: resp.Header(),
	}
	if result.Status < 200 || result.Status > 299 || req.Method == http.MethodHead {
		return result, nil
	}

	body, exceeded, err := readBody(raw, result.Header.Get("Content-Encoding"), req.MaxBytes)
	if err != nil {
		if fe, ok := fetcherr.As(err); ok {
			return nil, fe
		}
		return nil, c.classify(ctx, req.URL, fetcherr.PhaseResponse, err)
	}
	result.Body = body
	result.Exceeded = exceeded
	result.Phase = tracker.get()
	return result, nil
}

// classify maps a transport failure to the taxonomy.
func (c *Client) classify(ctx context.Context, u canon.URL, phase fetcherr.Phase, err error) *fetcherr.Error {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return fetcherr.Wrap(fetcherr.Network, err, "origin temporarily unavailable").
			With("origin", u.Origin()).With("error", "circuit_open")
	}
	if errors.Is(err, ssrf.ErrNoPin) || errors.Is(err, ssrf.ErrPinMismatch) {
		return fetcherr.Wrap(fetcherr.Internal, err, "dial outside pinned address set").
			With("url", u.String())
	}
	if ctx.Err() != nil {
		return fetcherr.TimeoutIn(phase, c.cfg.Timeout.Seconds()).With("url", u.String())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetcherr.TimeoutIn(phase, c.cfg.ConnectTimeout.Seconds()).With("url", u.String())
	}
	return fetcherr.Wrap(fetcherr.Network, err, "request failed").
		With("url", u.String()).With("error", err.Error())
}
