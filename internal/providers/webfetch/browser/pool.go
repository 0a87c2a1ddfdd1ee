package browser

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser session pool is closed")

// Pool bounds the number of concurrent sessions. Sessions are never
// reused: each acquires a slot, builds a fresh runtime and releases the
// slot when closed.
type Pool struct {
	slots chan struct{}
	size  int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Size   int  `json:"size"`
	InUse  int  `json:"in_use"`
	Closed bool `json:"closed"`
}

// NewPool creates a pool with size slots.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	return &Pool{
		slots: make(chan struct{}, size),
		size:  size,
		done:  make(chan struct{}),
	}
}

// Acquire blocks until a slot is free, ctx is done or the pool closes.
func (p *Pool) Acquire(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (p *Pool) Release() {
	select {
	case <-p.slots:
	default:
	}
}

// Close rejects further acquisitions. Sessions already running finish
// normally.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Size:   p.size,
		InUse:  len(p.slots),
		Closed: p.closed,
	}
}
