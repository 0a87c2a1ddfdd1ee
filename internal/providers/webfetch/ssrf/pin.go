package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrNoPin is returned when a dial is attempted without a validated set.
var ErrNoPin = errors.New("no pinned address set for dial")

// ErrPinMismatch is returned when the dialed authority differs from the pin.
var ErrPinMismatch = errors.New("dial target does not match pinned host")

// ResolvedSet is an ordered list of addresses that passed policy for one
// host and port. It is never re-resolved during a fetch.
type ResolvedSet struct {
	Host string
	Port int
	IPs  []netip.Addr
}

type pinKey struct{}

// WithPin attaches a validated set to ctx for the pinned dialer.
func WithPin(ctx context.Context, set ResolvedSet) context.Context {
	return context.WithValue(ctx, pinKey{}, set)
}

// PinFrom returns the set attached by WithPin.
func PinFrom(ctx context.Context) (ResolvedSet, bool) {
	set, ok := ctx.Value(pinKey{}).(ResolvedSet)
	return set, ok
}

// Dialer connects only to members of the pinned set carried by the context.
// Dials without a pin fail closed.
type Dialer struct {
	base        *net.Dialer
	maxAttempts int
	logger      *zap.Logger
}

// NewDialer creates a pinned dialer for the policy's attempt cap.
func (p *Policy) NewDialer(connectTimeout time.Duration) *Dialer {
	return &Dialer{
		base:        &net.Dialer{Timeout: connectTimeout},
		maxAttempts: p.maxAttempts,
		logger:      p.logger,
	}
}

// DialContext satisfies http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	set, ok := PinFrom(ctx)
	if !ok || len(set.IPs) == 0 {
		return nil, ErrNoPin
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("split dial address: %w", err)
	}
	if host != set.Host || port != strconv.Itoa(set.Port) {
		return nil, fmt.Errorf("%w: %s", ErrPinMismatch, addr)
	}

	attempts := set.IPs
	if len(attempts) > d.maxAttempts {
		attempts = attempts[:d.maxAttempts]
	}

	var lastErr error
	for _, ip := range attempts {
		conn, err := d.base.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		d.logger.Debug("Pinned dial failed",
			zap.String("host", set.Host), zap.String("ip", ip.String()), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
