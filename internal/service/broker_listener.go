package service

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/registry"
	"github.com/n-ia-hane/intercom-relay/internal/relay"
	"github.com/n-ia-hane/intercom-relay/internal/transport"
	"github.com/n-ia-hane/intercom-relay/internal/wire/broker"
)

// flushEveryNFrames bounds the audio TX pump's buffering: a best-effort
// flush fires at least this often, or every flushInterval, whichever comes
// first.
const flushEveryNFrames = 10

const flushInterval = 50 * time.Millisecond

// ListenAndServeBroker binds addr and serves device connections until ctx
// is cancelled.
func (s *Service) ListenAndServeBroker(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeBroker(ctx, ln)
}

// ServeBroker accepts device connections on an already-bound listener until
// ctx is cancelled. Accept itself is a cooperating task alongside every
// connection's reader and TX pump; splitting it from ListenAndServeBroker
// lets callers (and tests) bind an ephemeral port first and learn its
// address before serving.
func (s *Service) ServeBroker(ctx context.Context, ln net.Listener) error {
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
		go s.handleBrokerConn(nc)
	}
}

// handleBrokerConn runs a connection's whole lifetime: it creates the
// Device (identity-less until REGISTER), starts the paired TX pump, runs
// the reader loop until disconnect, and then always posts the disconnect
// back to the actor, which removes the Device from the registry if it is
// still the incumbent for its id.
func (s *Service) handleBrokerConn(nc net.Conn) {
	conn := transport.New(nc)
	dev := &registry.Device{
		Conn:  conn,
		Queue: relay.NewQueue(s.cfg.AudioQueueDepth),
	}

	go s.audioTXPump(dev, conn)
	s.readBrokerLoop(dev, conn)
	s.postDisconnect(dev)
}

func (s *Service) readBrokerLoop(dev *registry.Device, conn *transport.Conn) {
	for {
		hdrBuf, err := conn.ReadFull(broker.HeaderSize)
		if err != nil {
			return
		}
		hdr, err := broker.DecodeHeader(hdrBuf)
		if err != nil {
			s.logger.Warnw("closing connection on framing error", "remote", conn.RemoteAddr(), "err", err)
			conn.Close()
			return
		}
		var payload []byte
		if hdr.Length > 0 {
			payload, err = conn.ReadFull(int(hdr.Length))
			if err != nil {
				return
			}
		}
		s.postFrame(dev, broker.Frame{Header: hdr, Payload: payload})
	}
}

// audioTXPump is the per-connection writer for AUDIO frames: it waits for
// the device's queue to wake it, drains whatever is queued, and writes each
// frame unflushed — a flush fires every flushEveryNFrames cumulative packets
// sent (tracked via dev.PacketsSent, mirroring the drain cadence the relay
// this was ported from keys off its own packets-sent counter), with the
// background ticker as a bounded backstop for whatever's left unflushed in
// between. Every other frame type is written directly by the actor via
// writeControl and always flushes immediately; this pump never touches
// control frames.
func (s *Service) audioTXPump(dev *registry.Device, conn *transport.Conn) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-conn.Context().Done():
			return
		case <-dev.Queue.Wake():
			for _, f := range dev.Queue.Drain() {
				frame := broker.New(broker.MsgAudio, 0, f.CallID, f.Seq, f.Payload)
				if err := conn.Write(frame.Encode(), false); err != nil {
					if !errors.Is(err, net.ErrClosed) {
						s.logger.Warnw("audio write failed, closing connection", "device", dev.ID, "err", err)
					}
					conn.Close()
					return
				}
				dev.PacketsSent++
				dirty = true
				if dev.PacketsSent%flushEveryNFrames == 0 {
					conn.Flush()
					dirty = false
				}
			}
		case <-ticker.C:
			if dirty {
				conn.Flush()
				dirty = false
			}
		}
	}
}
