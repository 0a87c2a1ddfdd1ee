package fetch

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// phaseTracker records which stage of a request is in progress so that a
// deadline can be attributed to it.
type phaseTracker struct {
	phase atomic.Value
}

func (p *phaseTracker) set(phase fetcherr.Phase) { p.phase.Store(phase) }

func (p *phaseTracker) get() fetcherr.Phase {
	if v, ok := p.phase.Load().(fetcherr.Phase); ok {
		return v
	}
	return fetcherr.PhaseConnect
}

func (p *phaseTracker) attach(ctx context.Context) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GetConn:           func(string) { p.set(fetcherr.PhaseConnect) },
		TLSHandshakeStart: func() { p.set(fetcherr.PhaseTLS) },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			p.set(fetcherr.PhaseRequest)
		},
		GotConn:              func(httptrace.GotConnInfo) { p.set(fetcherr.PhaseRequest) },
		WroteRequest:         func(httptrace.WroteRequestInfo) { p.set(fetcherr.PhaseRequest) },
		GotFirstResponseByte: func() { p.set(fetcherr.PhaseResponse) },
	})
}
