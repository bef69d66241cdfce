package callmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dev(id string) *registry.Device {
	return &registry.Device{ID: id}
}

func TestCreateAllocatesIncreasingIDsAndMarksEndpointsBusy(t *testing.T) {
	m := New()
	a, b, c := dev("a"), dev("b"), dev("c")

	call1 := m.Create(a, b)
	call2 := m.Create(c, a) // a is now double-booked only for this unit test's sake

	assert.Equal(t, uint32(1), call1.ID)
	assert.Equal(t, uint32(2), call2.ID)
	assert.Equal(t, call1.ID, b.CurrentCallID)
	assert.Equal(t, StateRinging, call1.State)
}

func TestAnswerOnlyAcceptedFromCallee(t *testing.T) {
	m := New()
	caller, callee := dev("caller"), dev("callee")
	call := m.Create(caller, callee)

	_, ok := m.Answer(call.ID, caller)
	assert.False(t, ok, "caller answering its own invite must be ignored")

	got, ok := m.Answer(call.ID, callee)
	require.True(t, ok)
	assert.Equal(t, StateInCall, got.State)
}

func TestAnswerUnknownCallIsIgnored(t *testing.T) {
	m := New()
	_, ok := m.Answer(999, dev("nobody"))
	assert.False(t, ok)
}

func TestDestroyClearsCurrentCallIDOnlyWhenStillOwner(t *testing.T) {
	m := New()
	caller, callee := dev("caller"), dev("callee")
	call := m.Create(caller, callee)

	// Simulate a race: caller already moved on to a newer call before the
	// destroy of the old one runs.
	caller.CurrentCallID = 999

	destroyed, ok := m.Destroy(call.ID)
	require.True(t, ok)
	assert.Equal(t, call, destroyed)
	assert.Equal(t, uint32(999), caller.CurrentCallID, "must not clobber a newer call id")
	assert.Equal(t, uint32(0), callee.CurrentCallID)
	_, stillThere := m.Get(call.ID)
	assert.False(t, stillThere)
}

func TestDestroyUnknownIDIsNoop(t *testing.T) {
	m := New()
	_, ok := m.Destroy(42)
	assert.False(t, ok)
}

func TestPeerIdentifiesOtherEndpointOrRejectsStranger(t *testing.T) {
	m := New()
	caller, callee, stranger := dev("caller"), dev("callee"), dev("stranger")
	call := m.Create(caller, callee)

	peer, ok := call.Peer(caller)
	require.True(t, ok)
	assert.Same(t, callee, peer)

	peer, ok = call.Peer(callee)
	require.True(t, ok)
	assert.Same(t, caller, peer)

	_, ok = call.Peer(stranger)
	assert.False(t, ok)
}

func TestTimeoutFiresOnceAndCancelIsIdempotent(t *testing.T) {
	m := New()
	caller, callee := dev("caller"), dev("callee")
	call := m.Create(caller, callee)

	var mu sync.Mutex
	fired := 0
	m.ArmTimeout(call, 10*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, fired)
	mu.Unlock()

	// Cancelling an already-fired timer must be a no-op, not a panic.
	assert.NotPanics(t, func() { m.CancelTimeout(call) })
}

func TestAnswerCancelsTimeoutBeforeItFires(t *testing.T) {
	m := New()
	caller, callee := dev("caller"), dev("callee")
	call := m.Create(caller, callee)

	var mu sync.Mutex
	fired := false
	m.ArmTimeout(call, 20*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	_, ok := m.Answer(call.ID, callee)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired, "answering must cancel the ringing timeout")
}
