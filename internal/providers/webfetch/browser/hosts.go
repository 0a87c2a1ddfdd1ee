package browser

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// HostMatcher matches hostnames against glob patterns such as
// "*.example.com", which matches any subdomain but not "example.com"
// itself.
type HostMatcher struct {
	patterns []string
}

// NewHostMatcher validates and lowercases patterns.
func NewHostMatcher(patterns []string) (HostMatcher, error) {
	m := HostMatcher{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return HostMatcher{}, fmt.Errorf("invalid host pattern %q", p)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether host matches any pattern.
func (m HostMatcher) Match(host string) bool {
	host = strings.ToLower(host)
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, host); ok {
			return true
		}
	}
	return false
}

// Empty reports whether no patterns are configured.
func (m HostMatcher) Empty() bool { return len(m.patterns) == 0 }
