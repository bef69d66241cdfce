package service

import (
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/callmgr"
	"github.com/n-ia-hane/intercom-relay/internal/registry"
	"github.com/n-ia-hane/intercom-relay/internal/relay"
	"github.com/n-ia-hane/intercom-relay/internal/wire/broker"
)

// handleFrame is the dispatch table: every broker message type that reaches
// the actor goes through here. It is the only place that inspects
// frame.Type, and it runs entirely on the actor goroutine.
func (s *Service) handleFrame(dev *registry.Device, frame broker.Frame) {
	switch frame.Type {
	case broker.MsgRegister:
		s.handleRegister(dev, trimNUL(frame.Payload))
	case broker.MsgInvite:
		s.handleInvite(dev, trimNUL(frame.Payload))
	case broker.MsgAnswer:
		s.handleAnswer(dev, frame.CallID)
	case broker.MsgDecline:
		reason := broker.DeclineBusy
		if len(frame.Payload) > 0 {
			reason = frame.Payload[0]
		}
		s.handleDecline(dev, frame.CallID, reason)
	case broker.MsgHangup:
		s.handleHangup(dev, frame.CallID)
	case broker.MsgAudio:
		s.handleAudio(dev, frame.CallID, frame.Seq, frame.Payload)
	case broker.MsgPing:
		dev.LastPing = time.Now()
		s.writeControl(dev, broker.New(broker.MsgPong, 0, 0, 0, nil))
	case broker.MsgPong:
		dev.LastPing = time.Now()
	default:
		s.logger.Warnw("dropping unrecognised frame type", "type", frame.Type, "device", dev.ID)
	}
}

// handleRegister assigns dev.ID exactly once (or re-assigns it on a fresh
// connection reusing the same logical device). An empty id is rejected
// silently, as is a further REGISTER on an already-registered connection;
// a colliding id evicts the prior connection first so that exactly one
// DeviceDown precedes the DeviceUp for the new one.
func (s *Service) handleRegister(dev *registry.Device, id string) {
	if id == "" || dev.ID != "" {
		return
	}
	if old, ok := s.registry.Lookup(id); ok {
		s.teardownDevice(old, true)
	}

	dev.ID = id
	dev.LastPing = time.Now()
	s.registry.Put(dev)
	s.emit(Event{Kind: EventDeviceUp, DeviceID: id})
	s.sendRoster(dev)
	s.broadcastRoster()
}

func (s *Service) handleInvite(dev *registry.Device, targetID string) {
	if dev.ID == "" {
		s.writeError(dev, broker.ErrProtocol, 0)
		return
	}
	if dev.CurrentCallID != 0 {
		s.writeError(dev, broker.ErrBusy, 0)
		return
	}
	target, ok := s.registry.Lookup(targetID)
	if !ok {
		s.writeError(dev, broker.ErrNotFound, 0)
		return
	}
	if target.CurrentCallID != 0 {
		s.writeError(dev, broker.ErrBusy, 0)
		return
	}

	call := s.calls.Create(dev, target)
	s.calls.ArmTimeout(call, s.cfg.CallTimeout, func() { s.postTimeout(call.ID) })
	s.writeControl(target, broker.New(broker.MsgRing, 0, call.ID, 0, []byte(dev.ID+"\x00")))
	s.emit(Event{Kind: EventCallUp, CallID: call.ID, Caller: dev.ID, Callee: target.ID})
}

func (s *Service) handleAnswer(dev *registry.Device, callID uint32) {
	call, ok := s.calls.Answer(callID, dev)
	if !ok {
		return
	}
	s.writeControl(call.Caller, broker.New(broker.MsgAnswer, 0, callID, 0, nil))
}

func (s *Service) handleDecline(dev *registry.Device, callID uint32, reason byte) {
	call, ok := s.calls.Get(callID)
	if !ok || call.Callee != dev {
		return
	}
	s.calls.Destroy(callID)
	s.emit(Event{Kind: EventCallDown, CallID: callID})
	s.writeControl(call.Caller, broker.New(broker.MsgDecline, 0, callID, 0, []byte{reason}))
}

func (s *Service) handleHangup(dev *registry.Device, callID uint32) {
	call, ok := s.calls.Get(callID)
	if !ok {
		return
	}
	peer, ok := call.Peer(dev)
	if !ok {
		return
	}
	s.calls.Destroy(callID)
	s.emit(Event{Kind: EventCallDown, CallID: callID})
	s.writeControl(peer, broker.New(broker.MsgBye, 0, callID, 0, nil))
}

// handleTimeout runs when a previously-armed ringing timeout fires. The
// call may already be gone (answered, declined, or hung up in the window
// between the timer firing and this handler running) — that's a normal
// race, not an error.
func (s *Service) handleTimeout(callID uint32) {
	call, ok := s.calls.Get(callID)
	if !ok || call.State != callmgr.StateRinging {
		return
	}
	s.calls.Destroy(callID)
	s.emit(Event{Kind: EventCallDown, CallID: callID})
	s.writeControl(call.Caller, broker.New(broker.MsgError, 0, callID, 0, []byte{broker.ErrTimeout}))
	bye := broker.New(broker.MsgBye, 0, callID, 0, nil)
	s.writeControl(call.Caller, bye)
	s.writeControl(call.Callee, bye)
}

// handleAudio is the hot path: look up the call, confirm it's live and dev
// is actually a party to it, then hand the frame to the peer's own queue —
// never touching the peer's connection directly, so the enqueue never
// blocks the actor on a slow socket.
func (s *Service) handleAudio(dev *registry.Device, callID uint32, seq uint32, payload []byte) {
	call, ok := s.calls.Get(callID)
	if !ok || call.State != callmgr.StateInCall {
		return
	}
	peer, ok := call.Peer(dev)
	if !ok {
		return
	}
	peer.Queue.Push(relay.Frame{CallID: callID, Seq: seq, Payload: payload})
}
