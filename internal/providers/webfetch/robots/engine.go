// Package robots fetches, parses and evaluates robots.txt for an origin.
//
// Fetching produces a Decision; Apply turns a decision into an allow or
// deny outcome for one path. The Engine caches decisions per origin.
package robots

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// DefaultToken is used when no token can be derived from the user agent.
const DefaultToken = "agentos-webfetch"

// DefaultMaxBytes caps the robots.txt body.
const DefaultMaxBytes = 512 * 1024

// DefaultMaxRedirects caps robots.txt redirects when Config leaves it zero.
// NoRedirects refuses every redirect.
const (
	DefaultMaxRedirects = 5
	NoRedirects         = -1
)

// Response is a single robots.txt hop as seen by the engine.
type Response struct {
	Status    int
	Location  string
	Body      []byte
	Truncated bool
}

// Fetcher performs one GET of a robots.txt URL without following redirects.
// Implementations must apply SSRF policy to u and read at most maxBytes of
// the body, setting Truncated when more was available.
type Fetcher interface {
	FetchRobots(ctx context.Context, u canon.URL, maxBytes int) (Response, error)
}

// Config configures an Engine.
type Config struct {
	Token        string
	FailOpen     bool
	CacheEntries int
	CacheTTL     time.Duration
	MaxBytes     int
	MaxRedirects int
	Timeout      time.Duration
}

// Engine evaluates robots policy with a per-origin decision cache.
type Engine struct {
	cfg     Config
	fetcher Fetcher
	cache   *Cache
	group   singleflight.Group
	logger  *zap.Logger
}

// NewEngine creates an engine. A zero Config gets the package defaults.
func NewEngine(cfg Config, fetcher Fetcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Token == "" {
		cfg.Token = DefaultToken
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	switch {
	case cfg.MaxRedirects == 0:
		cfg.MaxRedirects = DefaultMaxRedirects
	case cfg.MaxRedirects < 0:
		cfg.MaxRedirects = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   NewCache(cfg.CacheEntries, cfg.CacheTTL),
		logger:  logger,
	}
}

// Token returns the user-agent token used for group selection.
func (e *Engine) Token() string { return e.cfg.Token }

// Check decides whether u may be fetched.
func (e *Engine) Check(ctx context.Context, u canon.URL) (Outcome, error) {
	if u.Path() == "/robots.txt" {
		return Outcome{Allowed: true, Kind: "self"}, nil
	}

	origin := u.Origin()
	d, err := e.Decision(ctx, u)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := Apply(d, u.PathAndQuery(), origin, e.cfg.FailOpen)
	if outcome.FailOpen {
		e.logger.Warn("Robots unavailable, proceeding fail-open", zap.String("origin", origin))
	}
	return outcome, err
}

// Decision returns the cached or freshly fetched decision for u's origin.
// Concurrent misses for one origin share a single fetch.
func (e *Engine) Decision(ctx context.Context, u canon.URL) (Decision, error) {
	origin := u.Origin()
	if d, ok := e.cache.Get(origin); ok {
		return d, nil
	}

	v, err, shared := e.group.Do(origin, func() (interface{}, error) {
		if d, ok := e.cache.Get(origin); ok {
			return d, nil
		}
		d, err := e.load(ctx, u)
		if err != nil {
			return nil, err
		}
		if cacheable(d) {
			e.cache.Put(origin, d)
		}
		e.logger.Debug("Robots decision",
			zap.String("origin", origin), zap.String("decision", d.Kind()))
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		e.logger.Debug("Robots fetch shared", zap.String("origin", origin))
	}
	return v.(Decision), nil
}

func (e *Engine) load(ctx context.Context, u canon.URL) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	current := u.WithPath("/robots.txt")
	for hops := 0; ; hops++ {
		resp, err := e.fetcher.FetchRobots(ctx, current, e.cfg.MaxBytes)
		if err != nil {
			return e.fetchFailure(ctx, err)
		}

		switch {
		case isRedirect(resp.Status):
			if hops >= e.cfg.MaxRedirects {
				return unavailable("redirect_limit_exceeded"), nil
			}
			if resp.Location == "" {
				return unavailable("invalid_redirect"), nil
			}
			next, err := current.Resolve(resp.Location)
			if err != nil {
				return unavailable("invalid_redirect"), nil
			}
			if !sameOriginRedirect(current, next) {
				return unavailable("robots_cross_origin_redirect"), nil
			}
			current = next
		case resp.Status >= 200 && resp.Status < 300:
			return e.decide(resp.Body, resp.Truncated), nil
		case resp.Status >= 400 && resp.Status < 500:
			return AllowAll{Reason: ReasonClientError}, nil
		case resp.Status >= 500 && resp.Status < 600:
			return unavailable("http_" + strconv.Itoa(resp.Status)), nil
		default:
			return unavailable("unexpected_status_" + strconv.Itoa(resp.Status)), nil
		}
	}
}

func (e *Engine) fetchFailure(ctx context.Context, err error) (Decision, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Unavailable{Cause: fetcherr.TimeoutIn(fetcherr.PhaseRobots, e.cfg.Timeout.Seconds())}, nil
	}
	fe := fetcherr.From(err)
	switch fe.Code {
	case fetcherr.Timeout:
		return Unavailable{Cause: fetcherr.TimeoutIn(fetcherr.PhaseRobots, e.cfg.Timeout.Seconds())}, nil
	case fetcherr.DNSFailed, fetcherr.Network, fetcherr.HTTP5xx:
		return Unavailable{Cause: fe}, nil
	default:
		return nil, fe
	}
}

func (e *Engine) decide(body []byte, truncated bool) Decision {
	if truncated {
		body = trimTruncated(body)
	}
	if len(body) == 0 {
		return AllowAll{Reason: ReasonEmpty}
	}
	if hasForeignBOM(body) {
		return AllowAll{Reason: ReasonMalformed}
	}
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(body) {
		return AllowAll{Reason: ReasonMalformed}
	}

	file := Parse(string(body))
	if file.Directives == 0 {
		return AllowAll{Reason: ReasonEmpty}
	}
	group, _ := file.SelectGroup(e.cfg.Token)
	return Rules{Group: group}
}

// DeriveToken extracts the product token of a User-Agent string: the text
// before the first "/", keeping only letters, digits, "-" and "_".
func DeriveToken(userAgent string) string {
	product, _, _ := strings.Cut(strings.TrimSpace(userAgent), "/")
	var b strings.Builder
	for _, r := range product {
		if r < utf8.RuneSelf && (r == '-' || r == '_' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return DefaultToken
	}
	return b.String()
}

func unavailable(reason string) Unavailable {
	return Unavailable{Cause: fetcherr.New(fetcherr.Network, "robots.txt fetch failed").With("error", reason)}
}

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// sameOriginRedirect allows same-scheme same-port hops and the http to https
// upgrade, all on the same host.
func sameOriginRedirect(from, to canon.URL) bool {
	if from.Hostname() != to.Hostname() {
		return false
	}
	switch {
	case from.Scheme() == to.Scheme():
		return from.Port() == to.Port()
	case from.Scheme() == "http" && to.Scheme() == "https":
		return (from.Port() == 80 && to.Port() == 443) || from.Port() == to.Port()
	default:
		return false
	}
}

// trimTruncated drops an incomplete trailing rune and the partial last line.
func trimTruncated(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				b = b[:len(b)-i]
			}
			break
		}
	}
	if nl := bytes.LastIndexByte(b, '\n'); nl >= 0 {
		return b[:nl+1]
	}
	return nil
}

func hasForeignBOM(b []byte) bool {
	for _, bom := range [][]byte{
		{0x00, 0x00, 0xFE, 0xFF},
		{0xFF, 0xFE, 0x00, 0x00},
		{0xFE, 0xFF},
		{0xFF, 0xFE},
	} {
		if bytes.HasPrefix(b, bom) {
			return true
		}
	}
	return false
}
