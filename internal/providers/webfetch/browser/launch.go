package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// ErrUnavailable means no session could be started: rendering is
// disabled or the pool is closed.
var ErrUnavailable = errors.New("browser rendering unavailable")

var errNoSession = errors.New("browser: launch step used without its predecessor")

// Launcher starts sessions. A session is reached only through
// Isolate, Intercept and Ready, in that order; each step takes the
// previous step's token.
type Launcher struct {
	cfg    Config
	client *fetch.Client
	pool   *Pool
	logger *zap.Logger
}

// NewLauncher creates a launcher whose sessions fetch through client.
func NewLauncher(cfg Config, client *fetch.Client, logger *zap.Logger) *Launcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		cfg:    cfg,
		client: client,
		pool:   NewPool(cfg.MaxSessions),
		logger: logger.Named("browser"),
	}
}

// Available reports whether Isolate can succeed.
func (l *Launcher) Available() bool {
	return l != nil && l.cfg.Enabled && l.client != nil && !l.pool.Stats().Closed
}

// Config returns the effective configuration.
func (l *Launcher) Config() Config { return l.cfg }

// Stats reports session pool usage.
func (l *Launcher) Stats() PoolStats { return l.pool.Stats() }

// Close stops new sessions from starting.
func (l *Launcher) Close() error { return l.pool.Close() }

// Isolated is a runtime with no host access: no module loader, no
// process object, no network. Its deadline interrupts running script.
type Isolated struct{ p *page }

// Intercepted is an isolated runtime whose only network path is an
// Interceptor.
type Intercepted struct{ p *page }

// Isolate acquires a session slot and builds a bare runtime. The runtime
// is interrupted when ctx ends.
func (l *Launcher) Isolate(ctx context.Context) (Isolated, error) {
	if !l.cfg.Enabled || l.client == nil {
		return Isolated{}, ErrUnavailable
	}
	if err := l.pool.Acquire(ctx); err != nil {
		if errors.Is(err, ErrPoolClosed) {
			return Isolated{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return Isolated{}, fetcherr.TimeoutIn(fetcherr.PhaseBrowserNavigation, l.cfg.Timeout.Seconds())
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	for _, name := range []string{"require", "process", "module", "exports", "eval"} {
		vm.Set(name, goja.Undefined())
	}

	p := &page{
		vm:        vm,
		cfg:       l.cfg,
		logger:    l.logger,
		sanitizer: newSanitizer(),
		executed:  make(map[*html.Node]bool),
		listeners: make(map[string][]goja.Callable),
		release:   l.pool.Release,
	}
	p.loop = newLoop(vm, l.logger, l.cfg.NetworkIdle, l.cfg.PollInterval)
	p.loop.install()
	p.installConsole()
	p.stopInterrupt = context.AfterFunc(ctx, func() {
		vm.Interrupt("browser deadline exceeded")
	})
	return Isolated{p: p}, nil
}

// Intercept binds fetch, XMLHttpRequest, WebSocket and resource loading
// to ic.
func (i Isolated) Intercept(ic *Interceptor) (Intercepted, error) {
	if i.p == nil || ic == nil {
		return Intercepted{}, errNoSession
	}
	i.p.ic = ic
	i.p.installNetwork()
	return Intercepted{p: i.p}, nil
}

// Close releases an isolated runtime that will not be used.
func (i Isolated) Close() {
	if i.p != nil {
		i.p.close()
	}
}

// Ready returns a session able to render.
func (i Intercepted) Ready() (*Session, error) {
	if i.p == nil || i.p.ic == nil {
		return nil, errNoSession
	}
	return &Session{p: i.p}, nil
}

// Session renders a single page. It is not safe for concurrent use.
type Session struct {
	p *page
}

// Close releases the session's pool slot and stops its timers.
func (s *Session) Close() { s.p.close() }

// Render runs the whole launch sequence for u and closes the session.
// gate authorizes every main document hop.
func (l *Launcher) Render(ctx context.Context, u canon.URL, gate fetch.Gate) (*Rendered, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	isolated, err := l.Isolate(ctx)
	if err != nil {
		return nil, err
	}
	intercepted, err := isolated.Intercept(NewInterceptor(l.client, gate, l.cfg, l.logger))
	if err != nil {
		isolated.Close()
		return nil, err
	}
	session, err := intercepted.Ready()
	if err != nil {
		isolated.Close()
		return nil, err
	}
	defer session.Close()

	return session.Render(ctx, u)
}
