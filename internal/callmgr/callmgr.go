// Package callmgr is the call manager: allocates call-ids, runs the
// RINGING → IN_CALL → destroyed state machine, and arms the ringing timeout.
//
// Like package registry, every exported method is only ever called from the
// relay's single actor goroutine — the call table and the CurrentCallID
// field of its participants are mutated together, atomically with respect
// to any observer on that goroutine.
package callmgr

import (
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/registry"
)

// State is a call's position in the INVITE → RING → ANSWER/DECLINE/TIMEOUT →
// IN_CALL → HANGUP/BYE state machine.
type State int

const (
	StateRinging State = iota
	StateInCall
)

// Call is an active or pending call: an ordered pair of endpoints plus
// call-id, state, and an optional timeout handle.
type Call struct {
	ID     uint32
	Caller *registry.Device
	Callee *registry.Device
	State  State

	timer *time.Timer
}

// Manager owns the call table.
type Manager struct {
	calls  map[uint32]*Call
	nextID uint32
}

// New builds an empty call manager. Call-ids are allocated starting at 1
// and increase monotonically for the life of the process.
func New() *Manager {
	return &Manager{calls: make(map[uint32]*Call)}
}

// Get returns the call with the given id, if any.
func (m *Manager) Get(id uint32) (*Call, bool) {
	c, ok := m.calls[id]
	return c, ok
}

// Count reports the number of active calls.
func (m *Manager) Count() int {
	return len(m.calls)
}

// All returns every active call, in no particular order — used by shutdown
// to walk and destroy the whole table.
func (m *Manager) All() []*Call {
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out
}

// Create allocates the next call-id, inserts a RINGING call for
// (caller, callee), and marks both endpoints busy. Callers must have
// already verified caller/callee are idle.
func (m *Manager) Create(caller, callee *registry.Device) *Call {
	m.nextID++
	call := &Call{ID: m.nextID, Caller: caller, Callee: callee, State: StateRinging}
	m.calls[call.ID] = call
	caller.CurrentCallID = call.ID
	callee.CurrentCallID = call.ID
	return call
}

// Answer transitions call to IN_CALL if by is indeed its callee. Only the
// callee of the named call may answer; any other sender for that call-id,
// or an unknown call-id, is rejected (reported via the bool return).
func (m *Manager) Answer(id uint32, by *registry.Device) (*Call, bool) {
	call, ok := m.calls[id]
	if !ok || call.Callee != by {
		return nil, false
	}
	m.CancelTimeout(call)
	call.State = StateInCall
	return call, true
}

// ArmTimeout schedules fire to run after d, stashing the timer on the call so
// a later ANSWER/DECLINE/HANGUP can cancel it.
func (m *Manager) ArmTimeout(call *Call, d time.Duration, fire func()) {
	call.timer = time.AfterFunc(d, fire)
}

// CancelTimeout cancels call's ringing timeout. Safe to call on a call with
// no timer, or one whose timer already fired — cancelling is idempotent.
func (m *Manager) CancelTimeout(call *Call) {
	if call.timer != nil {
		call.timer.Stop()
		call.timer = nil
	}
}

// Destroy removes call from the table: cancels its timeout, clears
// CurrentCallID on both endpoints (but only when it still equals this
// call-id, defending against a concurrent re-registration race), and
// reports whether the call was actually found.
func (m *Manager) Destroy(id uint32) (*Call, bool) {
	call, ok := m.calls[id]
	if !ok {
		return nil, false
	}
	m.CancelTimeout(call)
	if call.Caller.CurrentCallID == id {
		call.Caller.CurrentCallID = 0
	}
	if call.Callee.CurrentCallID == id {
		call.Callee.CurrentCallID = 0
	}
	delete(m.calls, id)
	return call, true
}

// Peer returns the other endpoint of call relative to d, and whether d is
// actually one of call's two endpoints.
func (c *Call) Peer(d *registry.Device) (*registry.Device, bool) {
	switch d {
	case c.Caller:
		return c.Callee, true
	case c.Callee:
		return c.Caller, true
	default:
		return nil, false
	}
}
