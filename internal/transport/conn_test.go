package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return New(server), client
}

func TestReadFullReturnsExactBytes(t *testing.T) {
	c, client := pipePair(t)
	defer c.Close()

	go func() { client.Write([]byte{1, 2, 3, 4, 5}) }()

	got, err := c.ReadFull(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)
}

func TestReadFullSurfacesEOFOnClose(t *testing.T) {
	c, client := pipePair(t)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.ReadFull(4)
		done <- err
	}()
	client.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadFull did not return after peer close")
	}
}

func TestWriteWithoutFlushIsNotObservedUntilFlush(t *testing.T) {
	c, client := pipePair(t)
	defer c.Close()

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 3)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	require.NoError(t, c.Write([]byte{9, 9, 9}, false))

	select {
	case <-readDone:
		t.Fatal("unflushed write must not reach the peer yet")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Flush())
	select {
	case got := <-readDone:
		assert.Equal(t, []byte{9, 9, 9}, got)
	case <-time.After(time.Second):
		t.Fatal("flush did not deliver the buffered write")
	}
}

func TestWriteControlFlushesImmediately(t *testing.T) {
	c, client := pipePair(t)
	defer c.Close()

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	require.NoError(t, c.WriteControl([]byte{7, 7}))

	select {
	case got := <-readDone:
		assert.Equal(t, []byte{7, 7}, got)
	case <-time.After(time.Second):
		t.Fatal("WriteControl must flush without a separate Flush call")
	}
}

func TestCloseCancelsContext(t *testing.T) {
	c, _ := pipePair(t)

	select {
	case <-c.Context().Done():
		t.Fatal("context must not be cancelled before Close")
	default:
	}

	require.NoError(t, c.Close())

	select {
	case <-c.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Close must cancel the connection context")
	}
}

func TestIDIsStableAndNonEmpty(t *testing.T) {
	c, _ := pipePair(t)
	defer c.Close()

	id := c.ID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, c.ID())
}
