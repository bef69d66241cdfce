// Package bridge implements the point-to-point browser↔device flow: a
// client connects directly to one device via the relay's bridge port, the
// relay pairs the two arriving connections, and from then on it forwards
// the 4-byte point-to-point frames between them, queuing AUDIO through a
// small bounded drop-oldest buffer per direction. No call table, no
// call-id, no registry lookup — pairing is the only state, and it is
// discarded the moment the session ends.
package bridge

import (
	"sync"

	"github.com/n-ia-hane/intercom-relay/internal/commons"
	"github.com/n-ia-hane/intercom-relay/internal/relay"
	"github.com/n-ia-hane/intercom-relay/internal/transport"
	wire "github.com/n-ia-hane/intercom-relay/internal/wire/bridge"
)

// Outcome is the result of a session's START handshake, surfaced because
// the flow this was distilled from (the Python intercom's session start)
// distinguishes these three cases rather than just forwarding bytes blind.
type Outcome string

const (
	OutcomeStreaming Outcome = "streaming"
	OutcomeRinging   Outcome = "ringing"
	OutcomeError     Outcome = "error"
)

// Session is one paired client↔device point-to-point connection.
type Session struct {
	device *transport.Conn
	client *transport.Conn

	toDevice *relay.Queue
	toClient *relay.Queue

	logger commons.Logger

	outcomeOnce sync.Once
	outcomes    chan Outcome

	closeOnce sync.Once
}

// NewSession pairs an already-accepted device leg and client leg. depth
// bounds each direction's audio queue independently of the broker relay's
// own queue depth.
func NewSession(device, client *transport.Conn, depth int, logger commons.Logger) *Session {
	return &Session{
		device:   device,
		client:   client,
		toDevice: relay.NewQueue(depth),
		toClient: relay.NewQueue(depth),
		logger:   logger,
		outcomes: make(chan Outcome, 1),
	}
}

// Outcomes delivers at most one value: the device's first substantive
// response (RING, ANSWER, or ERROR) to the client's START. Callers that
// don't need it may simply never read it.
func (s *Session) Outcomes() <-chan Outcome { return s.outcomes }

// Serve runs the session to completion: both legs' reader loops and TX
// pumps, until either side disconnects or sends STOP. It blocks until the
// session is fully torn down, so callers run it in its own goroutine.
func (s *Session) Serve() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.readClient() }()
	go func() { defer wg.Done(); s.readDevice() }()
	go s.txPump(s.device, s.toDevice)
	go s.txPump(s.client, s.toClient)
	wg.Wait()
	s.close()
}

// close tears down both legs. Called by whichever reader loop notices the
// session is over (STOP, or either socket going away) so the other,
// still-blocked reader is released immediately rather than waiting for its
// own peer to vanish independently.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.device.Close()
		s.client.Close()
	})
}

func (s *Session) emitOutcome(o Outcome) {
	s.outcomeOnce.Do(func() {
		s.outcomes <- o
	})
}

// readClient handles everything the client leg sends: AUDIO is queued for
// the device's TX pump, START/STOP forward through to the device verbatim,
// PING is answered locally without crossing to the other leg.
func (s *Session) readClient() {
	defer s.close()
	for {
		frame, err := readFrame(s.client)
		if err != nil {
			return
		}
		switch frame.Type {
		case wire.MsgAudio:
			s.toDevice.Push(relay.Frame{Payload: frame.Payload})
		case wire.MsgStart:
			if err := s.device.WriteControl(wire.New(wire.MsgStart, frame.Flags, nil).Encode()); err != nil {
				return
			}
		case wire.MsgStop:
			s.device.WriteControl(wire.New(wire.MsgStop, 0, nil).Encode())
			return
		case wire.MsgPing:
			if err := s.client.WriteControl(wire.New(wire.MsgPong, 0, nil).Encode()); err != nil {
				return
			}
		case wire.MsgPong:
			// no liveness bookkeeping kept beyond the TCP connection itself.
		default:
			s.logger.Warnw("bridge: dropping unexpected frame from client", "type", frame.Type)
		}
	}
}

// readDevice handles everything the device leg sends: AUDIO is queued for
// the client's TX pump, RING/ANSWER/ERROR forward to the client and report
// the session's start outcome the first time one of them is seen.
func (s *Session) readDevice() {
	defer s.close()
	for {
		frame, err := readFrame(s.device)
		if err != nil {
			return
		}
		switch frame.Type {
		case wire.MsgAudio:
			s.toClient.Push(relay.Frame{Payload: frame.Payload})
		case wire.MsgRing:
			s.emitOutcome(OutcomeRinging)
			if err := s.client.WriteControl(wire.New(wire.MsgRing, 0, nil).Encode()); err != nil {
				return
			}
		case wire.MsgAnswer:
			s.emitOutcome(OutcomeStreaming)
			if err := s.client.WriteControl(wire.New(wire.MsgAnswer, 0, nil).Encode()); err != nil {
				return
			}
		case wire.MsgError:
			s.emitOutcome(OutcomeError)
			s.client.WriteControl(frame.Encode())
		case wire.MsgPing:
			if err := s.device.WriteControl(wire.New(wire.MsgPong, 0, nil).Encode()); err != nil {
				return
			}
		case wire.MsgPong:
		default:
			s.logger.Warnw("bridge: dropping unexpected frame from device", "type", frame.Type)
		}
	}
}

func readFrame(conn *transport.Conn) (wire.Frame, error) {
	hdrBuf, err := conn.ReadFull(wire.HeaderSize)
	if err != nil {
		return wire.Frame{}, err
	}
	hdr, err := wire.DecodeHeader(hdrBuf)
	if err != nil {
		conn.Close()
		return wire.Frame{}, err
	}
	var payload []byte
	if hdr.Length > 0 {
		payload, err = conn.ReadFull(int(hdr.Length))
		if err != nil {
			return wire.Frame{}, err
		}
	}
	return wire.Frame{Header: hdr, Payload: payload}, nil
}
