package bridge

import (
	"time"

	"github.com/n-ia-hane/intercom-relay/internal/relay"
	"github.com/n-ia-hane/intercom-relay/internal/transport"
	wire "github.com/n-ia-hane/intercom-relay/internal/wire/bridge"
)

const (
	flushEveryNFrames = 10
	flushInterval     = 50 * time.Millisecond
)

// txPump drains q and writes AUDIO frames to conn, flushing on the same
// cadence as the broker's per-device pump: at least every flushEveryNFrames
// frames, or every flushInterval, whichever comes first.
func (s *Session) txPump(conn *transport.Conn, q *relay.Queue) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	unflushed := 0
	for {
		select {
		case <-conn.Context().Done():
			return
		case <-q.Wake():
			for _, f := range q.Drain() {
				frame := wire.New(wire.MsgAudio, 0, f.Payload)
				if err := conn.Write(frame.Encode(), false); err != nil {
					conn.Close()
					return
				}
				unflushed++
				if unflushed >= flushEveryNFrames {
					conn.Flush()
					unflushed = 0
				}
			}
		case <-ticker.C:
			if unflushed > 0 {
				conn.Flush()
				unflushed = 0
			}
		}
	}
}
