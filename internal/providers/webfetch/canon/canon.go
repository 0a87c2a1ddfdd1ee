// Package canon parses and normalizes URLs into the comparable, hashable form
// used for cache keys, robots origins and SSRF resolution.
package canon

import (
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// URL is an immutable canonical http(s) URL. The zero value is not valid.
type URL struct {
	scheme   string
	host     string // lowercase ASCII, dotted quad, or bracketed IPv6
	port     int    // effective port
	path     string // escaped, dot segments removed
	query    string
	hasQuery bool
}

// DefaultPort returns the well-known port for scheme.
func DefaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// Canonicalize validates raw and returns its canonical form. Failures are
// reported as invalid_url, invalid_scheme or invalid_host, in that precedence
// after parse failure.
func Canonicalize(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fetcherr.Wrap(fetcherr.InvalidURL, err, "url could not be parsed").With("url", raw)
	}
	if u.Scheme == "" {
		return URL{}, fetcherr.New(fetcherr.InvalidURL, "url must be absolute").With("url", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return URL{}, fetcherr.New(fetcherr.InvalidScheme,
			"scheme %q not allowed; only http and https are supported", scheme).With("scheme", scheme)
	}
	if u.Opaque != "" || u.Host == "" {
		return URL{}, fetcherr.New(fetcherr.InvalidURL, "url has no host").With("url", raw)
	}
	if u.User != nil {
		return URL{}, fetcherr.New(fetcherr.InvalidURL, "userinfo not allowed in url").With("reason", "userinfo")
	}

	rawHost, bracketed := rawAuthorityHost(raw)
	if bracketed && strings.Contains(rawHost, "%") {
		return URL{}, fetcherr.New(fetcherr.InvalidHost, "ipv6 zone identifiers are not allowed").
			With("reason", "ipv6_zone").With("host", rawHost)
	}

	host, err := canonicalHost(u.Hostname(), rawHost, bracketed)
	if err != nil {
		return URL{}, err
	}

	port := DefaultPort(scheme)
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return URL{}, fetcherr.New(fetcherr.InvalidURL, "invalid port %q", p).With("url", raw)
		}
		port = n
	}

	return URL{
		scheme:   scheme,
		host:     host,
		port:     port,
		path:     normalizePath(u.EscapedPath()),
		query:    u.RawQuery,
		hasQuery: u.ForceQuery || u.RawQuery != "",
	}, nil
}

// MustCanonicalize is Canonicalize for known-good literals. It panics on error.
func MustCanonicalize(raw string) URL {
	u, err := Canonicalize(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func canonicalHost(hostname, rawHost string, bracketed bool) (string, error) {
	if bracketed {
		addr, err := netip.ParseAddr(hostname)
		if err != nil || !addr.Is6() {
			return "", fetcherr.New(fetcherr.InvalidHost, "invalid ipv6 literal").With("host", rawHost)
		}
		return "[" + addr.String() + "]", nil
	}

	lower := strings.TrimSuffix(strings.ToLower(rawHost), ".")
	if looksNumeric(lower) {
		if !isCanonicalIPv4(lower) {
			return "", fetcherr.New(fetcherr.InvalidHost, "non-canonical numeric host").
				With("reason", "non_canonical_ip").With("host", rawHost)
		}
		return lower, nil
	}

	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(hostname, "."))
	if err != nil || ascii == "" {
		return "", fetcherr.New(fetcherr.InvalidHost, "host is not a valid domain name").With("host", rawHost)
	}
	return strings.ToLower(ascii), nil
}

// looksNumeric reports whether a URL parser following the WHATWG host rules
// would interpret host as an IPv4 number: its last label is all digits or a
// 0x-prefixed hex number.
func looksNumeric(host string) bool {
	if host == "" {
		return false
	}
	last := host
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		last = host[i+1:]
	}
	if last == "" {
		return false
	}
	if strings.HasPrefix(last, "0x") {
		for _, c := range last[2:] {
			if !isHex(c) {
				return false
			}
		}
		return true
	}
	for _, c := range last {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isCanonicalIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n := 0
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// rawAuthorityHost returns the host exactly as written in raw, without
// userinfo or port, and whether it was bracketed.
func rawAuthorityHost(raw string) (string, bool) {
	i := strings.Index(raw, "://")
	if i < 0 {
		return "", false
	}
	rest := raw[i+3:]
	if end := strings.IndexAny(rest, "/?#\\"); end >= 0 {
		rest = rest[:end]
	}
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}
	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end > 0 {
			return rest[1:end], true
		}
		return rest[1:], true
	}
	if colon := strings.LastIndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	return rest, false
}

// Scheme returns "http" or "https".
func (u URL) Scheme() string { return u.scheme }

// Host returns the canonical host; IPv6 literals keep their brackets.
func (u URL) Host() string { return u.host }

// Hostname returns the host without IPv6 brackets.
func (u URL) Hostname() string {
	return strings.TrimSuffix(strings.TrimPrefix(u.host, "["), "]")
}

// Port returns the effective port.
func (u URL) Port() int { return u.port }

// HasDefaultPort reports whether the port is the scheme default.
func (u URL) HasDefaultPort() bool { return u.port == DefaultPort(u.scheme) }

// Path returns the escaped path, always starting with "/".
func (u URL) Path() string { return u.path }

// RawQuery returns the query without the leading "?".
func (u URL) RawQuery() string { return u.query }

// IsZero reports whether u is the zero value.
func (u URL) IsZero() bool { return u.scheme == "" }

// Addr returns the literal IP when the host is an IP literal.
func (u URL) Addr() (netip.Addr, bool) {
	addr, err := netip.ParseAddr(u.Hostname())
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// HostPort returns host:port suitable for dialing and the Host header.
func (u URL) HostPort() string {
	return u.host + ":" + strconv.Itoa(u.port)
}

// Authority returns host with the port only when it is not the default.
func (u URL) Authority() string {
	if u.HasDefaultPort() {
		return u.host
	}
	return u.HostPort()
}

// Origin returns scheme://authority, the robots scoping key.
func (u URL) Origin() string {
	return u.scheme + "://" + u.Authority()
}

// PathAndQuery returns the path plus "?query" when a query is present.
func (u URL) PathAndQuery() string {
	if u.hasQuery {
		return u.path + "?" + u.query
	}
	return u.path
}

// String returns the canonical form. It never carries a fragment.
func (u URL) String() string {
	if u.IsZero() {
		return ""
	}
	return u.Origin() + u.PathAndQuery()
}

// WithPath returns a copy of u with a new path and no query.
func (u URL) WithPath(path string) URL {
	c := u
	c.path = normalizePath(path)
	c.query = ""
	c.hasQuery = false
	return c
}

// WithScheme returns a copy of u under scheme. A port that was the old
// scheme's default becomes the new scheme's default.
func (u URL) WithScheme(scheme string) URL {
	c := u
	if u.HasDefaultPort() {
		c.port = DefaultPort(scheme)
	}
	c.scheme = scheme
	return c
}

// Std converts u to a *url.URL.
func (u URL) Std() *url.URL {
	std := &url.URL{
		Scheme:   u.scheme,
		Host:     u.Authority(),
		RawQuery: u.query,
	}
	std.Path, _ = url.PathUnescape(u.path)
	std.RawPath = u.path
	std.ForceQuery = u.hasQuery && u.query == ""
	return std
}

// Resolve resolves ref against u and canonicalizes the result.
func (u URL) Resolve(ref string) (URL, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return URL{}, fetcherr.Wrap(fetcherr.InvalidURL, err, "reference could not be parsed").With("url", ref)
	}
	return Canonicalize(u.Std().ResolveReference(r).String())
}

// Equal reports whether two canonical URLs are identical.
func (u URL) Equal(other URL) bool {
	return u == other
}
