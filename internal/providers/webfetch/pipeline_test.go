package webfetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func article(title string, paragraphs int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html lang=\"en\"><head><title>%s</title></head><body><main><h1>%s</h1>", title, title)
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d explains how the crawler respects robots rules and keeps private networks out of reach.</p>", i)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

const spaShell = `<html><body><div id="__next"><p>Loading the dashboard application, please wait while the scripts start up.</p></div></body></html>`

const emptyShell = `<html><body><div id="__next"></div></body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*fetch.Result
	errs  map[string]error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, u canon.URL, gate fetch.Gate) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if gate != nil {
		if _, err := gate.Check(ctx, u); err != nil {
			return nil, err
		}
	}
	if err, ok := f.errs[u.String()]; ok {
		return nil, err
	}
	if res, ok := f.pages[u.String()]; ok {
		return res, nil
	}
	return nil, fetcherr.HTTPStatus(404)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct {
	available bool
	rendered  *browser.Rendered
	err       error
	calls     int
}

func (r *fakeRenderer) Available() bool { return r.available }

func (r *fakeRenderer) Render(ctx context.Context, u canon.URL, gate fetch.Gate) (*browser.Rendered, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := *r.rendered
	if out.FinalURL.IsZero() {
		out.FinalURL = u
	}
	return &out, nil
}

type failingCache struct{ err error }

func (failingCache) Get(canon.URL, cache.Method) (cache.Entry, bool) { return cache.Entry{}, false }

func (c failingCache) Put(canon.URL, cache.Method, canon.URL, extract.Document) error { return c.err }

type recordingObserver struct {
	mu       sync.Mutex
	requests []string
	cache    []string
	robots   []string
}

func (o *recordingObserver) Request(method, outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, method+":"+outcome)
}

func (o *recordingObserver) CacheEvent(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache = append(o.cache, event)
}

func (o *recordingObserver) RobotsDecision(decision string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.robots = append(o.robots, decision)
}

type stubGate struct {
	outcome robots.Outcome
	err     error
}

func (g stubGate) Check(context.Context, canon.URL) (robots.Outcome, error) {
	return g.outcome, g.err
}

func httpResult(raw, html string) *fetch.Result {
	return &fetch.Result{
		FinalURL: canon.MustCanonicalize(raw),
		Status:   200,
		Kind:     fetch.KindHTML,
		HTML:     html,
		Charset:  "utf-8",
		Bytes:    len(html),
	}
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(cache.Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	return store
}

func newPipeline(t *testing.T, deps Deps, opts Options) *Pipeline {
	t.Helper()
	if deps.Chunker == nil {
		deps.Chunker = chunk.New(chunk.EstimateCounter{})
	}
	p, err := New(deps, opts)
	require.NoError(t, err)
	return p
}

func tokens(n int) *int { return &n }

func requireCode(t *testing.T, err error, code fetcherr.Code) {
	t.Helper()
	require.Error(t, err)
	fe, ok := fetcherr.As(err)
	require.True(t, ok, "not a fetch error: %v", err)
	assert.Equal(t, code, fe.Code, fe.Error())
}

func TestFetchHTTPAndCache(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://example.com/docs": httpResult("https://example.com/docs/", article("Docs", 6)),
	}}
	store := newStore(t)
	obs := &recordingObserver{}
	p := newPipeline(t, Deps{Fetcher: f, Cache: store, Observer: obs}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "HTTPS://Example.com:443/a/../docs#top"})
	require.NoError(t, err)
	resp := res.Response
	assert.Equal(t, "HTTPS://Example.com:443/a/../docs#top", resp.RequestedURL)
	assert.Equal(t, "https://example.com/docs/", resp.FinalURL)
	assert.Equal(t, "Docs", resp.Title)
	assert.Equal(t, "en", resp.Language)
	assert.Equal(t, "http", resp.RenderingMethod)
	assert.False(t, resp.Truncated)
	assert.Empty(t, resp.Notes)
	require.NotEmpty(t, resp.Chunks)
	assert.Equal(t, "Docs", resp.Chunks[0].Heading)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, resp.FetchedAt)
	assert.True(t, strings.HasPrefix(string(res.Body), `{"requested_url":`))

	again, err := p.Fetch(context.Background(), Request{URL: "https://example.com/docs"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count())
	assert.Equal(t, []output.Note{output.NoteCacheHit}, again.Response.Notes)
	assert.Equal(t, resp.Chunks, again.Response.Chunks)
	assert.Equal(t, resp.FinalURL, again.Response.FinalURL)

	rechunked, err := p.Fetch(context.Background(), Request{URL: "https://example.com/docs", MaxChunkTokens: tokens(128)})
	require.NoError(t, err)
	assert.Greater(t, len(rechunked.Response.Chunks), len(resp.Chunks))
	for _, c := range rechunked.Response.Chunks {
		assert.LessOrEqual(t, c.TokenCount, 128)
	}

	_, err = p.Fetch(context.Background(), Request{URL: "https://example.com/docs", NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f.count())

	assert.Equal(t, []string{"http:ok", "http:ok", "http:ok", "http:ok"}, obs.requests)
	assert.Equal(t, []string{"miss", "write", "hit", "hit", "write"}, obs.cache)
}

func TestFetchValidation(t *testing.T) {
	f := &fakeFetcher{}
	obs := &recordingObserver{}
	p := newPipeline(t, Deps{Fetcher: f, Observer: obs}, Options{})

	tests := []struct {
		name string
		req  Request
		code fetcherr.Code
	}{
		{"blank url", Request{URL: "  "}, fetcherr.BadArgs},
		{"tokens too small", Request{URL: "https://example.com/", MaxChunkTokens: tokens(127)}, fetcherr.BadArgs},
		{"tokens too large", Request{URL: "https://example.com/", MaxChunkTokens: tokens(2049)}, fetcherr.BadArgs},
		{"zero tokens", Request{URL: "https://example.com/", MaxChunkTokens: tokens(0)}, fetcherr.BadArgs},
		{"negative output budget", Request{URL: "https://example.com/", MaxOutputBytes: -1}, fetcherr.BadArgs},
		{"negative capacity", Request{URL: "https://example.com/", AvailableCapacityBytes: -5}, fetcherr.BadArgs},
		{"scheme", Request{URL: "ftp://example.com/"}, fetcherr.InvalidScheme},
		{"dword host", Request{URL: "http://2130706433/"}, fetcherr.InvalidHost},
		{"not a url", Request{URL: "example"}, fetcherr.InvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Fetch(context.Background(), tt.req)
			requireCode(t, err, tt.code)
		})
	}
	assert.Zero(t, f.count())
	assert.Equal(t, "none:bad_args", obs.requests[0])
}

func TestNewRejectsBadDefaults(t *testing.T) {
	_, err := New(Deps{Chunker: chunk.New(chunk.EstimateCounter{})}, Options{})
	assert.Error(t, err)

	_, err = New(Deps{Fetcher: &fakeFetcher{}}, Options{})
	assert.Error(t, err)

	_, err = New(Deps{Fetcher: &fakeFetcher{}, Chunker: chunk.New(chunk.EstimateCounter{})}, Options{DefaultMaxChunkTokens: 5000})
	requireCode(t, err, fetcherr.BadArgs)
}

func TestSPAFallbackWithoutBrowserUsesHTTP(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://app.example.com/": httpResult("https://app.example.com/", spaShell),
	}}
	r := &fakeRenderer{available: false}
	p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "http", res.Response.RenderingMethod)
	assert.Equal(t, []output.Note{output.NoteBrowserUnavailableUsedHTTP}, res.Response.Notes)
	assert.Zero(t, r.calls)

	noRenderer := newPipeline(t, Deps{Fetcher: f}, Options{})
	res, err = noRenderer.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, []output.Note{output.NoteBrowserUnavailableUsedHTTP}, res.Response.Notes)
}

func TestSPAFallbackKeepsHTTPWhenBrowserFailsToStart(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://app.example.com/": httpResult("https://app.example.com/", spaShell),
	}}
	r := &fakeRenderer{available: true, err: fmt.Errorf("%w: %w", browser.ErrUnavailable, browser.ErrPoolClosed)}
	p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "http", res.Response.RenderingMethod)
	assert.Equal(t, []output.Note{output.NoteBrowserUnavailableUsedHTTP}, res.Response.Notes)
	assert.Contains(t, res.Response.Chunks[0].Text, "Loading the dashboard")
}

func TestSPAFallbackBrowserErrorsOtherThanUnavailablePropagate(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://app.example.com/": httpResult("https://app.example.com/", spaShell),
	}}
	r := &fakeRenderer{available: true, err: fetcherr.TimeoutIn(fetcherr.PhaseBrowserNetworkIdle, 30)}
	p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{})

	_, err := p.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	requireCode(t, err, fetcherr.Timeout)
}

func TestSPAFallbackUnavailableBrowserCannotRescueEmptyShell(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://app.example.com/": httpResult("https://app.example.com/", emptyShell),
	}}
	r := &fakeRenderer{available: true, err: browser.ErrUnavailable}
	p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{})

	_, err := p.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	requireCode(t, err, fetcherr.BrowserUnavailable)
}

func TestHTTPIsUpgradedToHTTPS(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://example.com/docs": httpResult("https://example.com/docs", article("Docs", 4)),
	}}
	store := newStore(t)
	p := newPipeline(t, Deps{Fetcher: f, Cache: store}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "http://example.com:80/docs"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:80/docs", res.Response.RequestedURL)
	assert.Equal(t, "https://example.com/docs", res.Response.FinalURL)
	assert.Equal(t, []output.Note{output.NoteHTTPUpgradedToHTTPS}, res.Response.Notes)

	// The upgraded URL shares the https cache entry.
	res, err = p.Fetch(context.Background(), Request{URL: "https://example.com/docs"})
	require.NoError(t, err)
	assert.Equal(t, []output.Note{output.NoteCacheHit}, res.Response.Notes)
	assert.Equal(t, 1, f.count())

	res, err = p.Fetch(context.Background(), Request{URL: "http://example.com/docs"})
	require.NoError(t, err)
	assert.Equal(t, []output.Note{output.NoteHTTPUpgradedToHTTPS, output.NoteCacheHit}, res.Response.Notes)
	assert.Equal(t, 1, f.count())
}

func TestInsecureOverridesKeepHTTP(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"http://example.com/docs": httpResult("http://example.com/docs", article("Docs", 4)),
	}}
	p := newPipeline(t, Deps{Fetcher: f}, Options{AllowInsecureOverrides: true})

	res, err := p.Fetch(context.Background(), Request{URL: "http://example.com/docs"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/docs", res.Response.FinalURL)
	assert.Empty(t, res.Response.Notes)
}

func TestSPAFallbackExtractionFailurePropagates(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://app.example.com/": httpResult("https://app.example.com/", emptyShell),
	}}
	p := newPipeline(t, Deps{Fetcher: f, Renderer: &fakeRenderer{}}, Options{})

	_, err := p.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	requireCode(t, err, fetcherr.ExtractionFailed)
}

func TestThinPageWithoutMarkersStaysHTTP(t *testing.T) {
	thin := `<html><body><main><p>A short but perfectly valid page with just enough text in it, indeed.</p></main></body></html>`
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://example.com/": httpResult("https://example.com/", thin),
	}}
	r := &fakeRenderer{available: true, rendered: &browser.Rendered{HTML: article("Rendered", 3)}}
	p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "http", res.Response.RenderingMethod)
	assert.Empty(t, res.Response.Notes)
	assert.Zero(t, r.calls)
}

func TestSPAFallbackRendersInBrowser(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://app.example.com/": httpResult("https://app.example.com/", emptyShell),
	}}
	r := &fakeRenderer{available: true, rendered: &browser.Rendered{
		HTML:  article("Dashboard", 4),
		Notes: []output.Note{output.NoteBrowserBlockedNonGet},
	}}
	store := newStore(t)
	p := newPipeline(t, Deps{Fetcher: f, Renderer: r, Cache: store}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "browser", res.Response.RenderingMethod)
	assert.Equal(t, "Dashboard", res.Response.Title)
	assert.Equal(t, []output.Note{output.NoteBrowserBlockedNonGet}, res.Response.Notes)
	assert.Equal(t, 1, r.calls)

	_, ok := store.Get(canon.MustCanonicalize("https://app.example.com/"), cache.MethodBrowser)
	require.True(t, ok)

	again, err := p.Fetch(context.Background(), Request{URL: "https://app.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "browser", again.Response.RenderingMethod)
	assert.Equal(t, []output.Note{output.NoteCacheHit}, again.Response.Notes)
	assert.Equal(t, 1, f.count())
	assert.Equal(t, 1, r.calls)
}

func TestExplicitBrowserPaths(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://www.heavy.test/": httpResult("https://www.heavy.test/", article("Plain", 5)),
	}}
	jsHeavy, err := browser.NewHostMatcher([]string{"*.heavy.test"})
	require.NoError(t, err)

	t.Run("forced without browser", func(t *testing.T) {
		p := newPipeline(t, Deps{Fetcher: f, Renderer: &fakeRenderer{}}, Options{})
		_, err := p.Fetch(context.Background(), Request{URL: "https://www.heavy.test/", ForceBrowser: true})
		requireCode(t, err, fetcherr.BrowserUnavailable)
	})

	t.Run("js heavy without browser", func(t *testing.T) {
		p := newPipeline(t, Deps{Fetcher: f}, Options{JSHeavy: &jsHeavy})
		_, err := p.Fetch(context.Background(), Request{URL: "https://www.heavy.test/"})
		requireCode(t, err, fetcherr.BrowserUnavailable)
	})

	t.Run("js heavy renders", func(t *testing.T) {
		r := &fakeRenderer{available: true, rendered: &browser.Rendered{HTML: article("Heavy", 5)}}
		p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{JSHeavy: &jsHeavy})
		res, err := p.Fetch(context.Background(), Request{URL: "https://www.heavy.test/"})
		require.NoError(t, err)
		assert.Equal(t, "browser", res.Response.RenderingMethod)
		assert.Equal(t, "Heavy", res.Response.Title)
	})

	t.Run("pool closed maps to unavailable", func(t *testing.T) {
		r := &fakeRenderer{available: true, err: fmt.Errorf("%w: %w", browser.ErrUnavailable, browser.ErrPoolClosed)}
		p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{})
		_, err := p.Fetch(context.Background(), Request{URL: "https://www.heavy.test/", ForceBrowser: true})
		requireCode(t, err, fetcherr.BrowserUnavailable)
	})

	t.Run("browser failure is not downgraded", func(t *testing.T) {
		r := &fakeRenderer{available: true, err: fetcherr.TimeoutIn(fetcherr.PhaseBrowserNetworkIdle, 30)}
		p := newPipeline(t, Deps{Fetcher: f, Renderer: r}, Options{})
		_, err := p.Fetch(context.Background(), Request{URL: "https://www.heavy.test/", ForceBrowser: true})
		requireCode(t, err, fetcherr.Timeout)
		assert.Zero(t, f.count())
	})
}

func TestForcedBrowserOnlyReadsBrowserCache(t *testing.T) {
	store := newStore(t)
	u := canon.MustCanonicalize("https://example.com/")
	require.NoError(t, store.Put(u, cache.MethodHTTP, u, extract.Document{Markdown: "# Cached\n\nFrom the plain fetch.\n"}))

	r := &fakeRenderer{available: true, rendered: &browser.Rendered{HTML: article("Live", 4)}}
	p := newPipeline(t, Deps{Fetcher: &fakeFetcher{}, Renderer: r, Cache: store}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "https://example.com/", ForceBrowser: true})
	require.NoError(t, err)
	assert.Equal(t, "Live", res.Response.Title)
	assert.NotContains(t, res.Response.Notes, output.NoteCacheHit)
	assert.Equal(t, 1, r.calls)
}

func TestFetchNotesAreOrdered(t *testing.T) {
	res := httpResult("https://example.com/", article("Notes", 5))
	res.RobotsFailOpen = true
	res.CharsetFallback = true
	f := &fakeFetcher{pages: map[string]*fetch.Result{"https://example.com/": res}}
	p := newPipeline(t, Deps{Fetcher: f, Cache: failingCache{err: errors.New("disk full")}}, Options{})

	got, err := p.Fetch(context.Background(), Request{URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, []output.Note{
		output.NoteRobotsUnavailableFailOpen,
		output.NoteCharsetFallback,
		output.NoteCacheWriteFailed,
	}, got.Response.Notes)
}

func TestOversizedCacheEntryIsSkippedQuietly(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://example.com/": httpResult("https://example.com/", article("Big", 5)),
	}}
	obs := &recordingObserver{}
	p := newPipeline(t, Deps{Fetcher: f, Cache: failingCache{err: cache.ErrEntryTooLarge}, Observer: obs}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Empty(t, res.Response.Notes)
	assert.Contains(t, obs.cache, "skip")
}

func TestDOMTruncationIsReportedAndNotCached(t *testing.T) {
	r := &fakeRenderer{available: true, rendered: &browser.Rendered{
		HTML:      article("Huge", 4),
		Truncated: true,
		Notes:     []output.Note{output.NoteBrowserDOMTruncated},
	}}
	store := newStore(t)
	p := newPipeline(t, Deps{Fetcher: &fakeFetcher{}, Renderer: r, Cache: store}, Options{})

	res, err := p.Fetch(context.Background(), Request{URL: "https://example.com/", ForceBrowser: true})
	require.NoError(t, err)
	assert.True(t, res.Response.Truncated)
	assert.Equal(t, output.ReasonBrowserDOMTruncated, res.Response.TruncationReason)
	assert.Equal(t, []output.Note{output.NoteBrowserDOMTruncated}, res.Response.Notes)

	_, ok := store.Get(canon.MustCanonicalize("https://example.com/"), cache.MethodBrowser)
	assert.False(t, ok)

	limited, err := p.Fetch(context.Background(), Request{URL: "https://example.com/", ForceBrowser: true, MaxOutputBytes: 500})
	require.NoError(t, err)
	assert.Equal(t, output.ReasonToolOutputLimit, limited.Response.TruncationReason)
	assert.Equal(t, []output.Note{output.NoteBrowserDOMTruncated, output.NoteToolOutputLimit}, limited.Response.Notes)
}

func TestOutputBudget(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://example.com/": httpResult("https://example.com/", article("Long", 30)),
	}}
	p := newPipeline(t, Deps{Fetcher: f}, Options{DefaultMaxChunkTokens: 128})

	res, err := p.Fetch(context.Background(), Request{URL: "https://example.com/", MaxOutputBytes: 2000, AvailableCapacityBytes: 600})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Body), 600)
	assert.True(t, res.Response.Truncated)
	assert.Equal(t, output.ReasonToolOutputLimit, res.Response.TruncationReason)
	assert.Equal(t, []output.Note{output.NoteToolOutputLimit}, res.Response.Notes)
	require.Len(t, res.Response.Chunks, 1)

	_, err = p.Fetch(context.Background(), Request{URL: "https://example.com/", MaxOutputBytes: 50})
	requireCode(t, err, fetcherr.Internal)
}

func TestFetchErrorsPassThrough(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"https://internal.example.com/": fetcherr.New(fetcherr.SSRFBlocked, "blocked").With("ip", "10.0.0.1"),
	}}
	obs := &recordingObserver{}
	p := newPipeline(t, Deps{Fetcher: f, Observer: obs}, Options{})

	_, err := p.Fetch(context.Background(), Request{URL: "https://internal.example.com/"})
	requireCode(t, err, fetcherr.SSRFBlocked)
	assert.Equal(t, []string{"http:ssrf_blocked"}, obs.requests)

	_, err = p.Fetch(context.Background(), Request{URL: "https://example.com/missing"})
	requireCode(t, err, fetcherr.HTTP4xx)
}

func TestGateDecisionsAreObserved(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://example.com/": httpResult("https://example.com/", article("Gate", 5)),
	}}

	obs := &recordingObserver{}
	p := newPipeline(t, Deps{Fetcher: f, Gate: stubGate{outcome: robots.Outcome{Allowed: true, FailOpen: true}}, Observer: obs}, Options{})
	_, err := p.Fetch(context.Background(), Request{URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fail_open"}, obs.robots)

	obs = &recordingObserver{}
	deny := stubGate{err: fetcherr.New(fetcherr.RobotsDisallowed, "disallowed")}
	p = newPipeline(t, Deps{Fetcher: f, Gate: deny, Observer: obs}, Options{})
	_, err = p.Fetch(context.Background(), Request{URL: "https://example.com/"})
	requireCode(t, err, fetcherr.RobotsDisallowed)
	assert.Equal(t, []string{"robots_disallowed"}, obs.robots)
}
