package webfetch

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/browser"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/cache"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/chunk"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/extract"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/output"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/robots"
)

// DefaultSPAMinTextChars is the extracted text size below which a page
// carrying client-rendering markers is re-rendered in the browser.
const DefaultSPAMinTextChars = 200

// Request is a single fetch invocation.
type Request struct {
	URL                    string `json:"url"`
	MaxChunkTokens         *int   `json:"max_chunk_tokens,omitempty"`
	NoCache                bool   `json:"no_cache,omitempty"`
	ForceBrowser           bool   `json:"force_browser,omitempty"`
	MaxOutputBytes         int    `json:"max_output_bytes,omitempty"`
	AvailableCapacityBytes int    `json:"available_capacity_bytes,omitempty"`
}

// Fetcher retrieves a document over plain HTTP. *fetch.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, u canon.URL, gate fetch.Gate) (*fetch.Result, error)
}

// Renderer renders a page in a sandboxed browser. *browser.Launcher
// satisfies it.
type Renderer interface {
	Available() bool
	Render(ctx context.Context, u canon.URL, gate fetch.Gate) (*browser.Rendered, error)
}

// Cache stores extracted documents. *cache.Store satisfies it.
type Cache interface {
	Get(u canon.URL, method cache.Method) (cache.Entry, bool)
	Put(u canon.URL, method cache.Method, final canon.URL, doc extract.Document) error
}

// Observer receives pipeline events for metrics.
type Observer interface {
	Request(method, outcome string, d time.Duration)
	CacheEvent(event string)
	RobotsDecision(decision string)
}

type nopObserver struct{}

func (nopObserver) Request(string, string, time.Duration) {}
func (nopObserver) CacheEvent(string)                     {}
func (nopObserver) RobotsDecision(string)                 {}

// Options tune rendering selection and chunking.
type Options struct {
	DefaultMaxChunkTokens int
	SPAMinTextChars       int
	JSHeavy               *browser.HostMatcher
	// AllowInsecureOverrides keeps http URLs on http instead of upgrading
	// them to https.
	AllowInsecureOverrides bool
}

// Deps are the collaborators of a Pipeline. Gate, Renderer, Cache and
// Observer are optional.
type Deps struct {
	Fetcher  Fetcher
	Gate     fetch.Gate
	Renderer Renderer
	Cache    Cache
	Chunker  *chunk.Chunker
	Observer Observer
	Logger   *zap.Logger
}

// Pipeline runs the fetch, extract, chunk and fit stages for one request
// at a time. It is safe for concurrent use.
type Pipeline struct {
	fetcher  Fetcher
	gate     fetch.Gate
	renderer Renderer
	cache    Cache
	chunker  *chunk.Chunker
	observer Observer
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// New assembles a pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("webfetch: fetcher is required")
	}
	if deps.Chunker == nil {
		return nil, errors.New("webfetch: chunker is required")
	}
	if opts.DefaultMaxChunkTokens == 0 {
		opts.DefaultMaxChunkTokens = chunk.DefaultMaxTokens
	}
	if err := chunk.ValidateMaxTokens(opts.DefaultMaxChunkTokens); err != nil {
		return nil, err
	}
	if opts.SPAMinTextChars <= 0 {
		opts.SPAMinTextChars = DefaultSPAMinTextChars
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	p := &Pipeline{
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		cache:    deps.Cache,
		chunker:  deps.Chunker,
		observer: deps.Observer,
		logger:   deps.Logger,
		opts:     opts,
		now:      time.Now,
	}
	if deps.Gate != nil {
		p.gate = observedGate{gate: deps.Gate, observer: deps.Observer}
	}
	return p, nil
}

// Result is a fitted response and its exact encoding.
type Result struct {
	Response output.Response
	Body     []byte
}

// page is a retrieved and extracted document before chunking.
type page struct {
	final        canon.URL
	doc          extract.Document
	method       cache.Method
	fetchedAt    time.Time
	domTruncated bool
	cached       bool
}

// Fetch runs the whole pipeline for req.
func (p *Pipeline) Fetch(ctx context.Context, req Request) (*Result, error) {
	start := p.now()
	res, method, err := p.run(ctx, req)

	outcome := "ok"
	if method == "" {
		method = "none"
	}
	if err != nil {
		outcome = string(fetcherr.From(err).Code)
	}
	p.observer.Request(string(method), outcome, p.now().Sub(start))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, cache.Method, error) {
	maxTokens, err := p.validate(req)
	if err != nil {
		return nil, "", err
	}
	u, err := canon.Canonicalize(strings.TrimSpace(req.URL))
	if err != nil {
		return nil, "", err
	}

	var notes output.Notes
	if u.Scheme() == "http" && !p.opts.AllowInsecureOverrides {
		u = u.WithScheme("https")
		notes.Add(output.NoteHTTPUpgradedToHTTPS)
	}
	pg, ok := p.lookup(u, req, &notes)
	if !ok {
		if pg, err = p.retrieve(ctx, u, req.ForceBrowser, &notes); err != nil {
			p.logger.Info("Fetch failed",
				zap.String("url", u.String()),
				zap.String("code", string(fetcherr.From(err).Code)),
				zap.Error(err))
			return nil, pg.method, err
		}
		p.store(u, pg, &notes)
	}

	chunks, err := p.chunker.Chunk(pg.doc.Markdown, maxTokens)
	if err != nil {
		return nil, pg.method, err
	}

	resp := output.Response{
		RequestedURL:    req.URL,
		FinalURL:        pg.final.String(),
		FetchedAt:       pg.fetchedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		Title:           pg.doc.Title,
		Language:        pg.doc.Language,
		Chunks:          chunks,
		RenderingMethod: string(pg.method),
		Notes:           notes.List(),
	}
	if pg.domTruncated {
		resp.Truncated = true
		resp.TruncationReason = output.ReasonBrowserDOMTruncated
	}

	fitted, body, err := output.Fit(resp, output.Budget{
		MaxOutputBytes:         req.MaxOutputBytes,
		AvailableCapacityBytes: req.AvailableCapacityBytes,
	}, p.chunker.Counter())
	if err != nil {
		return nil, pg.method, err
	}

	p.logger.Debug("Fetch complete",
		zap.String("url", u.String()),
		zap.String("final_url", fitted.FinalURL),
		zap.String("method", fitted.RenderingMethod),
		zap.Int("chunks", len(fitted.Chunks)),
		zap.Int("bytes", len(body)),
		zap.Bool("cached", pg.cached))
	return &Result{Response: fitted, Body: body}, pg.method, nil
}

func (p *Pipeline) validate(req Request) (int, error) {
	if strings.TrimSpace(req.URL) == "" {
		return 0, fetcherr.New(fetcherr.BadArgs, "url is required").With("field", "url")
	}
	if req.MaxOutputBytes < 0 {
		return 0, fetcherr.New(fetcherr.BadArgs, "max_output_bytes must not be negative").With("field", "max_output_bytes")
	}
	if req.AvailableCapacityBytes < 0 {
		return 0, fetcherr.New(fetcherr.BadArgs, "available_capacity_bytes must not be negative").
			With("field", "available_capacity_bytes")
	}
	maxTokens := p.opts.DefaultMaxChunkTokens
	if req.MaxChunkTokens != nil {
		maxTokens = *req.MaxChunkTokens
	}
	if err := chunk.ValidateMaxTokens(maxTokens); err != nil {
		return 0, err
	}
	return maxTokens, nil
}

// lookup tries the browser key alone when the browser is forced, and the
// http key then the browser key otherwise.
func (p *Pipeline) lookup(u canon.URL, req Request, notes *output.Notes) (page, bool) {
	if p.cache == nil || req.NoCache {
		return page{}, false
	}
	methods := []cache.Method{cache.MethodHTTP, cache.MethodBrowser}
	if req.ForceBrowser {
		methods = []cache.Method{cache.MethodBrowser}
	}
	for _, m := range methods {
		entry, ok := p.cache.Get(u, m)
		if !ok {
			continue
		}
		final, err := canon.Canonicalize(entry.FinalURL)
		if err != nil {
			p.logger.Debug("Ignoring cache entry with bad final url",
				zap.String("url", u.String()), zap.String("final_url", entry.FinalURL))
			continue
		}
		fetchedAt, err := time.Parse(time.RFC3339, entry.FetchedAt)
		if err != nil {
			fetchedAt = p.now()
		}
		p.observer.CacheEvent("hit")
		notes.Add(output.NoteCacheHit)
		return page{
			final:     final,
			doc:       extract.Document{Markdown: entry.Markdown, Title: entry.Title, Language: entry.Language},
			method:    m,
			fetchedAt: fetchedAt,
			cached:    true,
		}, true
	}
	p.observer.CacheEvent("miss")
	return page{}, false
}

func (p *Pipeline) store(u canon.URL, pg page, notes *output.Notes) {
	if p.cache == nil || pg.domTruncated {
		return
	}
	err := p.cache.Put(u, pg.method, pg.final, pg.doc)
	switch {
	case err == nil:
		p.observer.CacheEvent("write")
	case errors.Is(err, cache.ErrEntryTooLarge):
		p.logger.Debug("Skipping oversized cache entry", zap.String("url", u.String()), zap.Error(err))
		p.observer.CacheEvent("skip")
	default:
		p.logger.Warn("Cache write failed", zap.String("url", u.String()), zap.Error(err))
		p.observer.CacheEvent("write_failed")
		notes.Add(output.NoteCacheWriteFailed)
	}
}

// retrieve selects the rendering method and produces an extracted page.
func (p *Pipeline) retrieve(ctx context.Context, u canon.URL, force bool, notes *output.Notes) (page, error) {
	if force || (p.opts.JSHeavy != nil && p.opts.JSHeavy.Match(u.Hostname())) {
		if !p.browserAvailable() {
			return page{method: cache.MethodBrowser}, fetcherr.New(fetcherr.BrowserUnavailable,
				"browser rendering is required for %s but no browser is available", u.Host())
		}
		return p.render(ctx, u, notes)
	}

	res, err := p.fetcher.Fetch(ctx, u, p.gate)
	if err != nil {
		return page{method: cache.MethodHTTP}, err
	}
	doc, extractErr := extract.Extract(res.HTML, res.FinalURL)
	if extractErr != nil && !fetcherr.Is(extractErr, fetcherr.ExtractionFailed) {
		return page{method: cache.MethodHTTP}, extractErr
	}

	thin := extractErr != nil || extract.NonSpaceLen(doc.Markdown) < p.opts.SPAMinTextChars
	if thin && extract.HasSPAMarkers(res.HTML) {
		if p.browserAvailable() {
			p.logger.Debug("Falling back to browser rendering", zap.String("url", u.String()))
			pg, err := p.render(ctx, u, notes)
			if err == nil || !fetcherr.Is(err, fetcherr.BrowserUnavailable) || extractErr != nil {
				return pg, err
			}
			p.logger.Debug("Browser unavailable, keeping HTTP result",
				zap.String("url", u.String()), zap.Error(err))
		}
		if extractErr == nil {
			notes.Add(output.NoteBrowserUnavailableUsedHTTP)
		}
	}
	if extractErr != nil {
		return page{method: cache.MethodHTTP}, extractErr
	}

	if res.RobotsFailOpen {
		notes.Add(output.NoteRobotsUnavailableFailOpen)
	}
	if res.CharsetFallback {
		notes.Add(output.NoteCharsetFallback)
	}
	return page{final: res.FinalURL, doc: doc, method: cache.MethodHTTP, fetchedAt: p.now()}, nil
}

func (p *Pipeline) render(ctx context.Context, u canon.URL, notes *output.Notes) (page, error) {
	rendered, err := p.renderer.Render(ctx, u, p.gate)
	if err != nil {
		if errors.Is(err, browser.ErrUnavailable) {
			err = fetcherr.Wrap(fetcherr.BrowserUnavailable, err, "browser is unavailable")
		}
		return page{method: cache.MethodBrowser}, err
	}
	doc, err := extract.Extract(rendered.HTML, rendered.FinalURL)
	if err != nil {
		return page{method: cache.MethodBrowser}, err
	}
	for _, n := range rendered.Notes {
		notes.Add(n)
	}
	return page{
		final:        rendered.FinalURL,
		doc:          doc,
		method:       cache.MethodBrowser,
		fetchedAt:    p.now(),
		domTruncated: rendered.Truncated,
	}, nil
}

func (p *Pipeline) browserAvailable() bool {
	return p.renderer != nil && p.renderer.Available()
}

// observedGate reports every robots decision to the observer.
type observedGate struct {
	gate     fetch.Gate
	observer Observer
}

func (g observedGate) Check(ctx context.Context, u canon.URL) (robots.Outcome, error) {
	outcome, err := g.gate.Check(ctx, u)
	switch {
	case err != nil:
		g.observer.RobotsDecision(string(fetcherr.From(err).Code))
	case outcome.FailOpen:
		g.observer.RobotsDecision("fail_open")
	default:
		g.observer.RobotsDecision("allowed")
	}
	return outcome, err
}
