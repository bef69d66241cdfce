package bridge

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/commons"
	"github.com/n-ia-hane/intercom-relay/internal/transport"
	wire "github.com/n-ia-hane/intercom-relay/internal/wire/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legPair returns a *transport.Conn for the session side and the raw
// net.Conn standing in for the remote peer (client app or device
// firmware), wired over net.Pipe.
func legPair(t *testing.T) (*transport.Conn, net.Conn) {
	t.Helper()
	server, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	return transport.New(server), remote
}

func sendFrame(t *testing.T, c net.Conn, f wire.Frame) {
	t.Helper()
	done := make(chan struct{})
	go func() { c.Write(f.Encode()); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send timed out")
	}
}

func recvFrame(t *testing.T, c net.Conn) wire.Frame {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	hdr := make([]byte, wire.HeaderSize)
	_, err := io.ReadFull(c, hdr)
	require.NoError(t, err)
	h, err := wire.DecodeHeader(hdr)
	require.NoError(t, err)
	payload := make([]byte, h.Length)
	if h.Length > 0 {
		_, err = io.ReadFull(c, payload)
		require.NoError(t, err)
	}
	return wire.Frame{Header: h, Payload: payload}
}

func TestSessionForwardsStartAndReportsStreamingOutcome(t *testing.T) {
	deviceConn, deviceRemote := legPair(t)
	clientConn, clientRemote := legPair(t)
	sess := NewSession(deviceConn, clientConn, 8, commons.NewTestLogger())
	go sess.Serve()

	sendFrame(t, clientRemote, wire.New(wire.MsgStart, wire.FlagNoRing, nil))
	start := recvFrame(t, deviceRemote)
	assert.Equal(t, wire.MsgStart, start.Type)
	assert.Equal(t, wire.FlagNoRing, start.Flags)

	sendFrame(t, deviceRemote, wire.New(wire.MsgAnswer, 0, nil))
	answer := recvFrame(t, clientRemote)
	assert.Equal(t, wire.MsgAnswer, answer.Type)

	select {
	case o := <-sess.Outcomes():
		assert.Equal(t, OutcomeStreaming, o)
	case <-time.After(time.Second):
		t.Fatal("expected a streaming outcome")
	}
}

func TestSessionReportsRingingOutcome(t *testing.T) {
	deviceConn, deviceRemote := legPair(t)
	clientConn, clientRemote := legPair(t)
	sess := NewSession(deviceConn, clientConn, 8, commons.NewTestLogger())
	go sess.Serve()

	sendFrame(t, clientRemote, wire.New(wire.MsgStart, 0, nil))
	recvFrame(t, deviceRemote)

	sendFrame(t, deviceRemote, wire.New(wire.MsgRing, 0, nil))
	ring := recvFrame(t, clientRemote)
	assert.Equal(t, wire.MsgRing, ring.Type)

	select {
	case o := <-sess.Outcomes():
		assert.Equal(t, OutcomeRinging, o)
	case <-time.After(time.Second):
		t.Fatal("expected a ringing outcome")
	}
}

func TestSessionRoutesAudioBothWays(t *testing.T) {
	deviceConn, deviceRemote := legPair(t)
	clientConn, clientRemote := legPair(t)
	sess := NewSession(deviceConn, clientConn, 8, commons.NewTestLogger())
	go sess.Serve()

	toDevice := []byte{1, 2, 3, 4}
	sendFrame(t, clientRemote, wire.New(wire.MsgAudio, 0, toDevice))
	got := recvFrame(t, deviceRemote)
	assert.Equal(t, toDevice, got.Payload)

	toClient := []byte{9, 8, 7}
	sendFrame(t, deviceRemote, wire.New(wire.MsgAudio, 0, toClient))
	got = recvFrame(t, clientRemote)
	assert.Equal(t, toClient, got.Payload)
}

func TestSessionStopTearsDownBothLegs(t *testing.T) {
	deviceConn, deviceRemote := legPair(t)
	clientConn, clientRemote := legPair(t)
	sess := NewSession(deviceConn, clientConn, 8, commons.NewTestLogger())
	serveDone := make(chan struct{})
	go func() { sess.Serve(); close(serveDone) }()

	sendFrame(t, clientRemote, wire.New(wire.MsgStop, 0, nil))
	stop := recvFrame(t, deviceRemote)
	assert.Equal(t, wire.MsgStop, stop.Type)

	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("STOP must tear down the session")
	}
}
