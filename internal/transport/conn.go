// Package transport wraps a net.Conn with the framed-connection primitives
// every broker and bridge listener needs: buffered reads for header/payload
// parsing, a write path with explicit flush control so the audio TX pump can
// batch writes, and a per-connection context pairing the reader and pump so
// one's exit cancels the other.
package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Conn is the per-connection I/O handle shared by a connection's reader loop
// and its audio TX pump. Reads are unbuffered-safe via bufio.Reader; writes
// go through a single mutex so control writes (which flush immediately) and
// audio writes (flushed only periodically by the pump) never interleave
// mid-frame on the wire.
type Conn struct {
	id     string
	nc     net.Conn
	ctx    context.Context
	cancel context.CancelFunc

	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer
}

// New wraps an accepted connection. id is a correlation id for logging only
// — it has no relation to the device-id later assigned by REGISTER.
func New(nc net.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:     uuid.NewString(),
		nc:     nc,
		ctx:    ctx,
		cancel: cancel,
		reader: bufio.NewReader(nc),
		writer: bufio.NewWriter(nc),
	}
}

// ID is this connection's log-correlation id, assigned once at accept.
func (c *Conn) ID() string { return c.id }

// RemoteAddr reports the peer's network address.
func (c *Conn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

// Context is cancelled when the reader loop exits or Close is called —
// the paired audio TX pump selects on it to know when to stop.
func (c *Conn) Context() context.Context { return c.ctx }

// ReadFull reads exactly n bytes, or returns the underlying error (including
// io.EOF / io.ErrUnexpectedEOF on a partial read at connection close).
func (c *Conn) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write sends b on the wire, flushing immediately when flush is true.
// The audio TX pump calls this with flush=false on most frames and lets its
// own cadence decide when to actually push bytes out; every other writer
// (control frames) always passes flush=true.
func (c *Conn) Write(b []byte, flush bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(b); err != nil {
		return err
	}
	if flush {
		return c.writer.Flush()
	}
	return nil
}

// WriteControl writes and flushes b immediately — every non-AUDIO frame
// takes this path.
func (c *Conn) WriteControl(b []byte) error {
	return c.Write(b, true)
}

// Flush pushes any buffered, unflushed bytes (pending audio frames) to the
// wire. Called by the TX pump on its flush ticker or every Nth frame.
func (c *Conn) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.Flush()
}

// Close cancels the connection's context and closes the underlying socket.
// Safe to call more than once; net.Conn.Close is idempotent-safe-enough for
// our purposes and the second cancel is a no-op.
func (c *Conn) Close() error {
	c.cancel()
	return c.nc.Close()
}
