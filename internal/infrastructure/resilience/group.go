package resilience

import "sync"

// Group lazily creates one breaker per key, all sharing the same settings.
type Group struct {
	prefix   string
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a breaker group. Breaker names are prefix + ":" + key.
func NewGroup(prefix string, settings Settings) *Group {
	return &Group{
		prefix:   prefix,
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[key]; ok {
		return b
	}
	b := New(g.prefix+":"+key, g.settings)
	g.breakers[key] = b
	return b
}

// States reports the current state of every breaker.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	keys := make(map[string]*Breaker, len(g.breakers))
	for k, b := range g.breakers {
		keys[k] = b
	}
	g.mu.Unlock()

	out := make(map[string]State, len(keys))
	for k, b := range keys {
		out[k] = b.State()
	}
	return out
}
