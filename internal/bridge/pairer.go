package bridge

import (
	"context"
	"net"
	"sync"

	"github.com/n-ia-hane/intercom-relay/internal/commons"
	"github.com/n-ia-hane/intercom-relay/internal/transport"
)

// Pairer accepts connections on the bridge port and pairs them two at a
// time: the first arrival becomes a session's device leg, the second its
// client leg. It holds no state beyond the one connection it is waiting to
// pair, matching the point-to-point flow's "no separate state" design — if
// the parked connection disconnects before a peer arrives, its eventual
// session simply fails immediately on first read, which is cheaper to
// tolerate than to actively detect.
type Pairer struct {
	queueDepth int
	logger     commons.Logger

	mu      sync.Mutex
	waiting *transport.Conn
}

// NewPairer builds a Pairer whose sessions use the given per-direction
// audio queue depth.
func NewPairer(queueDepth int, logger commons.Logger) *Pairer {
	return &Pairer{queueDepth: queueDepth, logger: logger}
}

// ListenAndServe binds addr and pairs connections until ctx is cancelled.
func (p *Pairer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return p.Serve(ctx, ln)
}

// Serve accepts on an already-bound listener until ctx is cancelled.
func (p *Pairer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.handleConn(nc)
	}
}

func (p *Pairer) handleConn(nc net.Conn) {
	conn := transport.New(nc)

	p.mu.Lock()
	if p.waiting == nil {
		p.waiting = conn
		p.mu.Unlock()
		return
	}
	device := p.waiting
	p.waiting = nil
	p.mu.Unlock()

	session := NewSession(device, conn, p.queueDepth, p.logger)
	go session.Serve()
}
