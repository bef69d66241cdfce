package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/commons"
	wire "github.com/n-ia-hane/intercom-relay/internal/wire/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestPairer(t *testing.T) string {
	t.Helper()
	p := NewPairer(8, commons.NewTestLogger())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Serve(ctx, ln)
	t.Cleanup(cancel)
	return ln.Addr().String()
}

func TestPairerPairsFirstTwoArrivalsAsDeviceThenClient(t *testing.T) {
	addr := startTestPairer(t)

	device, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer device.Close()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	sendFrame(t, client, wire.New(wire.MsgStart, 0, nil))
	start := recvFrame(t, device)
	assert.Equal(t, wire.MsgStart, start.Type)
}

func TestPairerQueuesAThirdArrivalForTheNextPairing(t *testing.T) {
	addr := startTestPairer(t)

	a, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer a.Close()
	b, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer b.Close()

	// a+b are already paired; c becomes the new waiting slot.
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	time.Sleep(50 * time.Millisecond) // let the pairer register c as waiting

	d, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer d.Close()

	sendFrame(t, d, wire.New(wire.MsgStart, 0, nil))
	start := recvFrame(t, c)
	assert.Equal(t, wire.MsgStart, start.Type)
}
