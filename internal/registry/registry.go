// Package registry is the device registry: the mapping from device-id to
// its live connection, roster broadcast, and the single-registration-per-id
// invariant enforced by evicting on re-register.
//
// Every exported method here is callable only from the relay's single actor
// goroutine (internal/service). The registry itself holds no lock because
// of that single-writer discipline.
package registry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/relay"
)

// Sender is the minimal write surface a device connection exposes to the
// registry and call manager — just enough to push control frames and learn
// when the underlying socket is gone. internal/transport's Conn satisfies
// it; tests use a fake.
type Sender interface {
	WriteControl(payload []byte) error
	Close() error
	RemoteAddr() string
}

// Device is one live, registered (or pre-registration) connection. ID,
// CurrentCallID and LastPing are mutated only by the relay's single actor
// goroutine. PacketsSent is mutated only by this device's own audio TX pump,
// which drives its flush cadence off the running count — two disjoint
// single-writer fields sharing one struct.
type Device struct {
	ID            string
	CurrentCallID uint32
	Queue         *relay.Queue
	LastPing      time.Time
	PacketsSent   uint64

	Conn Sender
}

// Contact is one entry of a roster snapshot.
type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Busy bool   `json:"busy"`
}

// Registry owns the device-id → Device mapping.
type Registry struct {
	devices map[string]*Device
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Lookup returns the device registered under id, if any.
func (r *Registry) Lookup(id string) (*Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// Put inserts dev under dev.ID. Callers must have already evicted any prior
// incumbent for the same id via the disconnect path.
func (r *Registry) Put(dev *Device) {
	r.devices[dev.ID] = dev
}

// Remove deletes id from the registry iff dev is still the incumbent —
// guards against a stale disconnect racing a newer registration for the
// same id.
func (r *Registry) Remove(id string, dev *Device) bool {
	cur, ok := r.devices[id]
	if !ok || cur != dev {
		return false
	}
	delete(r.devices, id)
	return true
}

// Count reports the number of registered devices.
func (r *Registry) Count() int {
	return len(r.devices)
}

// Snapshot builds the roster seen by excludeID: every other registered
// device, busy flag set when the device holds a call, sorted by id so that
// repeated snapshots of a stable registry are byte-identical once encoded.
func (r *Registry) Snapshot(excludeID string) []Contact {
	out := make([]Contact, 0, len(r.devices))
	for id, d := range r.devices {
		if id == excludeID {
			continue
		}
		out = append(out, Contact{ID: id, Name: id, Busy: d.CurrentCallID != 0})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SnapshotJSON is the CONTACTS frame payload for excludeID: the roster,
// JSON-encoded. Recomputed on every call rather than diffed — the roster is
// small and churn is low, so there is no measurable cost to simplicity here.
func (r *Registry) SnapshotJSON(excludeID string) ([]byte, error) {
	contacts := r.Snapshot(excludeID)
	if contacts == nil {
		contacts = []Contact{}
	}
	return json.Marshal(contacts)
}

// Devices returns every currently registered device (stable order not
// guaranteed) — used for broadcast and shutdown sweeps.
func (r *Registry) Devices() []*Device {
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}
