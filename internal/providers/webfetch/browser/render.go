package browser

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/output"
)

// Rendered is the DOM snapshot of a page after network idle.
type Rendered struct {
	FinalURL         canon.URL
	HTML             string
	Truncated        bool
	Notes            []output.Note
	SubresourceBytes int64
}

// page is the state shared by one session's bindings. Everything except
// the interceptor's counters is owned by the loop goroutine.
type page struct {
	vm        *goja.Runtime
	cfg       Config
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
	loop      *loop
	ic        *Interceptor

	ctx       context.Context
	base      canon.URL
	dom       *dom
	executed  map[*html.Node]bool
	listeners map[string][]goja.Callable

	release       func()
	stopInterrupt func() bool
	closeOnce     sync.Once
}

func (p *page) close() {
	p.closeOnce.Do(func() {
		if p.stopInterrupt != nil {
			p.stopInterrupt()
		}
		p.loop.stop()
		p.release()
	})
}

// Render navigates to u, runs the page's scripts and waits for network
// idle. No partial DOM is returned on failure.
func (s *Session) Render(ctx context.Context, u canon.URL) (*Rendered, error) {
	return protect(s.p.logger, u, func() (*Rendered, error) {
		return s.p.render(ctx, u)
	})
}

// protect turns a panic inside the runtime into browser_crashed.
func protect(logger *zap.Logger, u canon.URL, fn func() (*Rendered, error)) (r *Rendered, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Browser runtime crashed",
				zap.String("url", u.String()),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			r, err = nil, fetcherr.New(fetcherr.BrowserCrashed, "browser runtime crashed").
				With("url", u.String())
		}
	}()
	return fn()
}

func (p *page) render(ctx context.Context, u canon.URL) (*Rendered, error) {
	p.ctx = ctx
	stop := context.AfterFunc(ctx, func() {
		p.vm.Interrupt("render deadline exceeded")
	})
	defer stop()

	doc, err := p.ic.Document(ctx, u)
	if err != nil {
		if fe, ok := fetcherr.As(err); ctx.Err() != nil || (ok && fe.Code == fetcherr.Timeout) {
			return nil, fetcherr.TimeoutIn(fetcherr.PhaseBrowserNavigation, p.cfg.Timeout.Seconds()).
				With("url", u.String())
		}
		return nil, err
	}

	root, err := html.Parse(strings.NewReader(doc.HTML))
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.Internal, err, "parse document").With("url", doc.FinalURL.String())
	}
	p.base = doc.FinalURL
	p.dom = newDOM(p.vm, root, p.sanitizer, p.attached)
	p.installDocument()

	p.loadStatic(root)
	for _, n := range collect(root, atom.Script) {
		if ctx.Err() != nil {
			break
		}
		p.execScript(n)
	}
	p.dispatch("DOMContentLoaded")
	p.dispatch("load")

	if err := p.loop.run(ctx); err != nil || ctx.Err() != nil {
		return nil, fetcherr.TimeoutIn(fetcherr.PhaseBrowserNetworkIdle, p.cfg.Timeout.Seconds()).
			With("url", doc.FinalURL.String())
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fetcherr.Wrap(fetcherr.Internal, err, "serialize DOM").With("url", doc.FinalURL.String())
	}

	res := &Rendered{
		FinalURL:         doc.FinalURL,
		HTML:             buf.String(),
		SubresourceBytes: p.ic.SubresourceBytes(),
	}
	if len(res.HTML) > p.cfg.MaxRenderedDOMBytes {
		res.HTML = truncateUTF8(res.HTML, p.cfg.MaxRenderedDOMBytes)
		res.Truncated = true
	}

	var notes output.Notes
	if p.ic.RobotsFailOpen() {
		notes.Add(output.NoteRobotsUnavailableFailOpen)
	}
	if res.Truncated {
		notes.Add(output.NoteBrowserDOMTruncated)
	}
	if p.ic.BlockedNonGet() {
		notes.Add(output.NoteBrowserBlockedNonGet)
	}
	if doc.CharsetFallback {
		notes.Add(output.NoteCharsetFallback)
	}
	res.Notes = notes.List()

	p.logger.Debug("Rendered page",
		zap.String("url", res.FinalURL.String()),
		zap.Int("bytes", len(res.HTML)),
		zap.Int64("subresource_bytes", res.SubresourceBytes),
		zap.Bool("truncated", res.Truncated))
	return res, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (p *page) installDocument() {
	document := p.dom.document()
	p.vm.Set("document", document)

	window := p.vm.GlobalObject()
	p.vm.Set("window", window)
	p.vm.Set("self", window)

	location := p.vm.NewObject()
	location.Set("href", p.base.String())
	location.Set("origin", p.base.Origin())
	location.Set("protocol", p.base.Scheme()+":")
	location.Set("host", p.base.Authority())
	location.Set("hostname", p.base.Hostname())
	location.Set("pathname", p.base.Path())
	search := ""
	if q := p.base.RawQuery(); q != "" {
		search = "?" + q
	}
	location.Set("search", search)
	p.vm.Set("location", location)

	navigator := p.vm.NewObject()
	navigator.Set("userAgent", p.ic.client.Config().UserAgent)
	navigator.Set("language", "en-US")
	p.vm.Set("navigator", navigator)

	listen := func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			name := call.Argument(0).String()
			p.listeners[name] = append(p.listeners[name], fn)
		}
		return goja.Undefined()
	}
	window.Set("addEventListener", listen)
	document.Set("addEventListener", listen)
}

func (p *page) installConsole() {
	console := p.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			p.logger.Debug("Console",
				zap.String("level", level),
				zap.String("message", strings.Join(parts, " ")))
			return goja.Undefined()
		})
	}
	p.vm.Set("console", console)
}

func (p *page) dispatch(event string) {
	ev := p.vm.NewObject()
	ev.Set("type", event)
	for _, fn := range p.listeners[event] {
		p.loop.call(fn, nil, ev)
	}
}

func (p *page) run(name, src string) {
	if _, err := p.vm.RunScript(name, src); err != nil {
		p.loop.scriptError(name, err)
	}
}

// execScript runs a parser-inserted script synchronously, fetching it
// first when it has a src.
func (p *page) execScript(n *html.Node) {
	if p.executed[n] {
		return
	}
	p.executed[n] = true
	if !isScriptType(n) {
		return
	}

	src, ok := getAttr(n, "src")
	if !ok {
		p.run(p.base.String(), textOf(n))
		return
	}
	if strings.TrimSpace(src) == "" {
		return
	}
	abs := p.resolve(src)
	resp, err := p.ic.Intercept(p.ctx, SubRequest{URL: abs, Type: TypeScript})
	if err != nil {
		p.logger.Debug("Script load failed", zap.String("url", abs), zap.Error(err))
		return
	}
	if resp.Status < 200 || resp.Status > 299 {
		p.logger.Debug("Script load failed", zap.String("url", abs), zap.Int("status", resp.Status))
		return
	}
	p.run(abs, string(resp.Body))
}

// attached handles elements that script inserts into the document.
func (p *page) attached(n *html.Node) {
	if n.DataAtom == atom.Script {
		if p.executed[n] {
			return
		}
		if src, ok := getAttr(n, "src"); ok {
			p.executed[n] = true
			if !isScriptType(n) || strings.TrimSpace(src) == "" {
				return
			}
			abs := p.resolve(src)
			p.loop.spawn(func() func() {
				resp, err := p.ic.Intercept(p.ctx, SubRequest{URL: abs, Type: TypeScript})
				return func() {
					if err == nil && resp.Status >= 200 && resp.Status <= 299 {
						p.run(abs, string(resp.Body))
					}
				}
			})
			return
		}
		p.loop.spawn(func() func() {
			return func() { p.execScript(n) }
		})
		return
	}
	if t, raw, ok := subresourceOf(n); ok {
		p.load(t, raw)
	}
}

// loadStatic requests the stylesheets, frames and media in the parsed
// document.
func (p *page) loadStatic(root *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if t, raw, ok := subresourceOf(n); ok {
				p.load(t, raw)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func (p *page) load(t ResourceType, raw string) {
	abs := p.resolve(raw)
	p.loop.spawn(func() func() {
		p.ic.Intercept(p.ctx, SubRequest{URL: abs, Type: t})
		return nil
	})
}

// resolve makes raw absolute against the document URL. Unparseable input
// is passed through for the interceptor to reject.
func (p *page) resolve(raw string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return p.base.Std().ResolveReference(ref).String()
}

func subresourceOf(n *html.Node) (ResourceType, string, bool) {
	attr := func(key string) (string, bool) {
		v, ok := getAttr(n, key)
		return v, ok && strings.TrimSpace(v) != ""
	}
	switch n.DataAtom {
	case atom.Link:
		href, ok := attr("href")
		if !ok {
			return "", "", false
		}
		rel, _ := getAttr(n, "rel")
		for _, token := range strings.Fields(strings.ToLower(rel)) {
			switch token {
			case "stylesheet":
				return TypeStylesheet, href, true
			case "preload", "prefetch":
				if as, _ := getAttr(n, "as"); strings.EqualFold(as, "font") {
					return TypeFont, href, true
				}
			}
		}
	case atom.Img:
		if src, ok := attr("src"); ok {
			return TypeImage, src, true
		}
	case atom.Iframe:
		if src, ok := attr("src"); ok {
			return TypeIframe, src, true
		}
	case atom.Video, atom.Audio, atom.Source, atom.Track:
		if src, ok := attr("src"); ok {
			return TypeMedia, src, true
		}
	}
	return "", "", false
}

func isScriptType(n *html.Node) bool {
	t, _ := getAttr(n, "type")
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "text/javascript", "application/javascript", "text/ecmascript",
		"application/ecmascript", "application/x-javascript", "text/jscript":
		return true
	}
	return false
}

func collect(root *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}
