// Package service is the relay's single actor: one goroutine owns the
// device registry and call table and is the only code path allowed to
// mutate either. Every other goroutine (per-connection readers, audio TX
// pumps, call-timeout timers) only ever posts a command onto one of the
// actor's channels and never touches registry/callmgr state directly.
package service

import (
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/callmgr"
	"github.com/n-ia-hane/intercom-relay/internal/commons"
	"github.com/n-ia-hane/intercom-relay/internal/registry"
	"github.com/n-ia-hane/intercom-relay/internal/wire/broker"
)

// Config is the subset of the application configuration the actor needs.
type Config struct {
	CallTimeout     time.Duration
	PingInterval    time.Duration
	PingTimeout     time.Duration
	AudioQueueDepth int
}

type inboundFrame struct {
	dev   *registry.Device
	frame broker.Frame
}

// Service is the relay core: registry + call manager + the single actor
// goroutine that serialises every mutation of either.
type Service struct {
	cfg    Config
	logger commons.Logger

	registry *registry.Registry
	calls    *callmgr.Manager

	inbox        chan inboundFrame
	timeoutCh    chan uint32
	disconnectCh chan *registry.Device
	shutdownCh   chan struct{}
	doneCh       chan struct{}

	events chan Event
}

// New builds a Service ready to Run. AudioQueueDepth must be positive —
// callers read it from validated configuration.
func New(cfg Config, logger commons.Logger) *Service {
	return &Service{
		cfg:          cfg,
		logger:       logger,
		registry:     registry.New(),
		calls:        callmgr.New(),
		inbox:        make(chan inboundFrame, 64),
		timeoutCh:    make(chan uint32, 16),
		disconnectCh: make(chan *registry.Device, 16),
		shutdownCh:   make(chan struct{}),
		doneCh:       make(chan struct{}),
		events:       make(chan Event, 256),
	}
}

// Events is the observer channel: DeviceUp/DeviceDown/CallUp/CallDown, in
// the order their underlying mutation happened. Consumers must not block —
// a full buffer causes the actor to drop (and log) the event rather than
// stall the relay.
func (s *Service) Events() <-chan Event { return s.events }

// Run drives the actor loop until Shutdown is called or ctx-equivalent
// shutdownCh closes. It owns registry and calls for its entire lifetime —
// nothing outside this goroutine may read registry.Device.CurrentCallID or
// mutate the call table.
func (s *Service) Run() {
	defer close(s.doneCh)

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case in := <-s.inbox:
			s.handleFrame(in.dev, in.frame)
		case id := <-s.timeoutCh:
			s.handleTimeout(id)
		case dev := <-s.disconnectCh:
			s.teardownDevice(dev, true)
		case <-pingTicker.C:
			s.sweepLiveness()
		case <-s.shutdownCh:
			s.drainAndShutdown()
			return
		}
	}
}

// Shutdown stops accepting new actor work and waits for Run to finish its
// shutdown sweep: destroy every active call with peer-notify, then
// disconnect every device.
func (s *Service) Shutdown() {
	close(s.shutdownCh)
	<-s.doneCh
}

func (s *Service) drainAndShutdown() {
	for _, call := range s.calls.All() {
		s.calls.Destroy(call.ID)
		s.emit(Event{Kind: EventCallDown, CallID: call.ID})
		bye := broker.New(broker.MsgBye, 0, call.ID, 0, nil)
		s.writeControl(call.Caller, bye)
		s.writeControl(call.Callee, bye)
	}
	for _, dev := range s.registry.Devices() {
		if dev.ID != "" {
			s.registry.Remove(dev.ID, dev)
			s.emit(Event{Kind: EventDeviceDown, DeviceID: dev.ID})
		}
		dev.Conn.Close()
	}
}

// postFrame hands an inbound, fully-decoded frame to the actor. Called from
// a connection's reader goroutine.
func (s *Service) postFrame(dev *registry.Device, frame broker.Frame) {
	select {
	case s.inbox <- inboundFrame{dev: dev, frame: frame}:
	case <-s.shutdownCh:
	}
}

// postDisconnect tells the actor a connection's reader loop has exited.
func (s *Service) postDisconnect(dev *registry.Device) {
	select {
	case s.disconnectCh <- dev:
	case <-s.shutdownCh:
	}
}

// postTimeout is the only thing a call's time.AfterFunc callback is allowed
// to do: hand the call-id back to the actor instead of touching call state
// from the timer's own goroutine.
func (s *Service) postTimeout(callID uint32) {
	select {
	case s.timeoutCh <- callID:
	case <-s.shutdownCh:
	}
}

func (s *Service) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warnw("event channel full, dropping", "kind", e.Kind)
	}
}

// writeControl writes a control frame to dev, logging (but not otherwise
// acting on) write failures — the owning connection's reader will observe
// the broken socket on its next read and drive the normal disconnect path.
func (s *Service) writeControl(dev *registry.Device, frame broker.Frame) {
	if dev == nil {
		return
	}
	if err := dev.Conn.WriteControl(frame.Encode()); err != nil {
		s.logger.Warnw("control write failed", "device", dev.ID, "err", err)
	}
}

func (s *Service) writeError(dev *registry.Device, code byte, callID uint32) {
	s.writeControl(dev, broker.New(broker.MsgError, 0, callID, 0, []byte{code}))
}

func (s *Service) sendRoster(dev *registry.Device) {
	payload, err := s.registry.SnapshotJSON(dev.ID)
	if err != nil {
		s.logger.Errorf("marshal roster: %v", err)
		return
	}
	s.writeControl(dev, broker.New(broker.MsgContacts, 0, 0, 0, payload))
}

func (s *Service) broadcastRoster() {
	for _, dev := range s.registry.Devices() {
		s.sendRoster(dev)
	}
}

// teardownDevice is the single disconnect path, used for a real socket
// close, a re-REGISTER eviction, and a liveness eviction (shutdown runs its
// own sweep in drainAndShutdown): end any call the device
// holds with a peer-notify BYE, remove it from the registry (only if it is
// still the incumbent for its id), and optionally close its socket.
func (s *Service) teardownDevice(dev *registry.Device, closeConn bool) {
	if dev.CurrentCallID != 0 {
		if call, ok := s.calls.Get(dev.CurrentCallID); ok {
			peer, _ := call.Peer(dev)
			s.calls.Destroy(call.ID)
			s.emit(Event{Kind: EventCallDown, CallID: call.ID})
			s.writeControl(peer, broker.New(broker.MsgBye, 0, call.ID, 0, nil))
		}
	}

	removed := false
	if dev.ID != "" {
		removed = s.registry.Remove(dev.ID, dev)
	}
	if closeConn {
		dev.Conn.Close()
	}
	if removed {
		s.emit(Event{Kind: EventDeviceDown, DeviceID: dev.ID})
		s.broadcastRoster()
	}
}

// sweepLiveness runs once per PingInterval: ping every registered device and
// force-disconnect any whose last heartbeat is older than PingTimeout.
func (s *Service) sweepLiveness() {
	now := time.Now()
	for _, dev := range s.registry.Devices() {
		if now.Sub(dev.LastPing) > s.cfg.PingTimeout {
			s.logger.Infow("evicting stale device", "device", dev.ID)
			s.teardownDevice(dev, true)
			continue
		}
		s.writeControl(dev, broker.New(broker.MsgPing, 0, 0, 0, nil))
	}
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
