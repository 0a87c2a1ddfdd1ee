// Package ssrf validates fetch destinations against address and port policy
// and pins the validated address set so that connections can only reach
// addresses that passed the check.
package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// DefaultBlockedCIDRs are reserved, private, loopback, link-local,
// multicast and documentation ranges.
var DefaultBlockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
	"2001:db8::/32",
}

// DefaultAllowedPorts is replaced, not extended, by a configured list.
var DefaultAllowedPorts = []int{80, 443}

// ErrInsecureOverrideRequired is returned by NewPolicy when a default range
// is disabled without the explicit opt-in flag.
var ErrInsecureOverrideRequired = errors.New("disabling a blocked range requires allow_insecure_overrides")

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Config configures a Policy.
type Config struct {
	// BlockedCIDRs are appended to the default blocklist.
	BlockedCIDRs []string
	// DisabledRanges names default ranges (by CIDR text) to drop.
	DisabledRanges []string
	// AllowedPorts overrides DefaultAllowedPorts when non-empty.
	AllowedPorts []int
	// AllowInsecureOverrides unblocks loopback and permits the range toggles.
	AllowInsecureOverrides bool
	// MaxDNSAttempts caps how many resolved addresses a dial will try.
	MaxDNSAttempts int
	Resolver       Resolver
}

type blockedRange struct {
	prefix netip.Prefix
	text   string
}

// Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	blocked     []blockedRange
	ports       map[int]struct{}
	insecure    bool
	maxAttempts int
	resolver    Resolver
	logger      *zap.Logger
}

// NewPolicy builds a policy. It fails when ranges are disabled without the
// insecure-override opt-in so that a misconfigured process refuses to start.
func NewPolicy(cfg Config, logger *zap.Logger) (*Policy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.DisabledRanges) > 0 && !cfg.AllowInsecureOverrides {
		return nil, ErrInsecureOverrideRequired
	}

	disabled := make(map[string]struct{}, len(cfg.DisabledRanges))
	for _, text := range cfg.DisabledRanges {
		p, err := netip.ParsePrefix(text)
		if err != nil {
			return nil, fmt.Errorf("invalid disabled range %q: %w", text, err)
		}
		disabled[p.Masked().String()] = struct{}{}
	}

	p := &Policy{
		ports:       make(map[int]struct{}),
		insecure:    cfg.AllowInsecureOverrides,
		maxAttempts: cfg.MaxDNSAttempts,
		resolver:    cfg.Resolver,
		logger:      logger,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.resolver == nil {
		p.resolver = net.DefaultResolver
	}

	for _, text := range DefaultBlockedCIDRs {
		prefix := netip.MustParsePrefix(text)
		if _, off := disabled[prefix.String()]; off {
			logger.Warn("SSRF range disabled by configuration", zap.String("cidr", text))
			continue
		}
		p.blocked = append(p.blocked, blockedRange{prefix: prefix, text: text})
	}
	for _, text := range cfg.BlockedCIDRs {
		prefix, err := netip.ParsePrefix(text)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked cidr %q: %w", text, err)
		}
		p.blocked = append(p.blocked, blockedRange{prefix: prefix.Masked(), text: text})
	}

	ports := cfg.AllowedPorts
	if len(ports) == 0 {
		ports = DefaultAllowedPorts
	}
	for _, port := range ports {
		p.ports[port] = struct{}{}
	}

	return p, nil
}

// MaxDNSAttempts returns the per-dial address cap.
func (p *Policy) MaxDNSAttempts() int { return p.maxAttempts }

// InsecureOverrides reports whether the insecure opt-in is active.
func (p *Policy) InsecureOverrides() bool { return p.insecure }

// Blocked returns the matching blocked range for ip, if any. IPv6 forms
// that embed an IPv4 address (mapped, compatible, NAT64 and 6to4) are also
// checked against the IPv4 ranges.
func (p *Policy) Blocked(ip netip.Addr) (string, bool) {
	if p.insecure && isLoopback(ip) {
		return "", false
	}
	if v4, ok := embeddedV4(ip); ok {
		for _, r := range p.blocked {
			if r.prefix.Addr().Is4() && r.prefix.Contains(v4) {
				return r.text, true
			}
		}
	}
	for _, r := range p.blocked {
		if r.prefix.Addr().Is4() == ip.Is4() && r.prefix.Contains(ip) {
			return r.text, true
		}
	}
	return "", false
}

var (
	nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	sixToFour   = netip.MustParsePrefix("2002::/16")
)

// embeddedV4 extracts the IPv4 address carried inside an IPv6 address.
// :: and ::1 are IPv6 addresses in their own right and are not unwrapped.
func embeddedV4(ip netip.Addr) (netip.Addr, bool) {
	if !ip.Is6() {
		return netip.Addr{}, false
	}
	if ip.Is4In6() {
		return ip.Unmap(), true
	}
	b := ip.As16()
	switch {
	case nat64Prefix.Contains(ip):
		return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
	case sixToFour.Contains(ip):
		return netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}), true
	}
	for _, x := range b[:12] {
		if x != 0 {
			return netip.Addr{}, false
		}
	}
	if ip == netip.IPv6Unspecified() || ip == netip.IPv6Loopback() {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
}

// PortAllowed applies the allowlist; with insecure overrides any port is
// accepted when every address is loopback.
func (p *Policy) PortAllowed(port int, ips []netip.Addr) bool {
	if _, ok := p.ports[port]; ok {
		return true
	}
	if !p.insecure || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		if !isLoopback(ip) {
			return false
		}
	}
	return true
}

// Resolve validates u's destination and returns the pinned address set.
// Literal hosts skip DNS. Blocked addresses are discarded; when none remain
// the result is ssrf_blocked, never dns_failed.
func (p *Policy) Resolve(ctx context.Context, u canon.URL) (ResolvedSet, error) {
	set := ResolvedSet{Host: u.Hostname(), Port: u.Port()}

	if addr, ok := u.Addr(); ok {
		if cidr, blocked := p.Blocked(addr); blocked {
			return ResolvedSet{}, blockedError(set.Host, addr, cidr)
		}
		if !p.PortAllowed(set.Port, []netip.Addr{addr}) {
			return ResolvedSet{}, portError(set.Port)
		}
		set.IPs = []netip.Addr{addr}
		return set, nil
	}

	addrs, err := p.resolver.LookupIPAddr(ctx, set.Host)
	if err != nil {
		var dnsErr *net.DNSError
		if ctx.Err() != nil || (errors.As(err, &dnsErr) && dnsErr.IsTimeout) {
			return ResolvedSet{}, fetcherr.TimeoutIn(fetcherr.PhaseDNS, 0).With("host", set.Host)
		}
		return ResolvedSet{}, fetcherr.Wrap(fetcherr.DNSFailed, err, "dns lookup failed").
			With("host", set.Host).With("error", err.Error())
	}

	ips := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		if a.IP.To4() != nil {
			ip = ip.Unmap()
		}
		ips = append(ips, ip)
	}
	if len(ips) == 0 {
		return ResolvedSet{}, fetcherr.New(fetcherr.DNSFailed, "dns lookup returned no addresses").With("host", set.Host)
	}
	ips = SortAddrs(ips)

	allowed := ips[:0:0]
	var firstBlocked netip.Addr
	var firstCIDR string
	for _, ip := range ips {
		if cidr, blocked := p.Blocked(ip); blocked {
			if !firstBlocked.IsValid() {
				firstBlocked, firstCIDR = ip, cidr
			}
			p.logger.Debug("Discarding blocked address",
				zap.String("host", set.Host), zap.String("ip", ip.String()), zap.String("cidr", cidr))
			continue
		}
		allowed = append(allowed, ip)
	}
	if len(allowed) == 0 {
		return ResolvedSet{}, blockedError(set.Host, firstBlocked, firstCIDR)
	}
	if !p.PortAllowed(set.Port, allowed) {
		return ResolvedSet{}, portError(set.Port)
	}

	set.IPs = allowed
	return set, nil
}

// SortAddrs de-duplicates and orders addresses: IPv6 first, then IPv4, each
// by byte value.
func SortAddrs(ips []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(ips))
	seen := make(map[netip.Addr]struct{}, len(ips))
	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Is4() != b.Is4() {
			return !a.Is4()
		}
		return a.Less(b)
	})
	return out
}

func isLoopback(ip netip.Addr) bool {
	if v4, ok := embeddedV4(ip); ok {
		return v4.IsLoopback()
	}
	return ip.IsLoopback()
}

func blockedError(host string, ip netip.Addr, cidr string) *fetcherr.Error {
	return fetcherr.New(fetcherr.SSRFBlocked, "destination address is blocked by policy").
		With("host", host).With("ip", ip.String()).With("cidr", cidr)
}

func portError(port int) *fetcherr.Error {
	return fetcherr.New(fetcherr.PortBlocked, "port %d is not allowed", port).
		With("port", strconv.Itoa(port))
}
