// Package bridge implements the simpler 4-byte framed wire protocol used by
// the point-to-point browser↔device bridge: type, flags, length, followed by
// length payload bytes, all little-endian. No call_id or seq field — the
// bridge carries no call-table state of its own.
package bridge

import (
	"encoding/binary"
	"fmt"
)

// Message types.
const (
	MsgAudio  byte = 0x01
	MsgStart  byte = 0x02
	MsgStop   byte = 0x03
	MsgPing   byte = 0x04
	MsgPong   byte = 0x05
	MsgError  byte = 0x06
	MsgRing   byte = 0x07
	MsgAnswer byte = 0x08
)

// FlagNoRing on a START frame means "bypass any local ring UI and start
// streaming unconditionally if the device permits".
const FlagNoRing byte = 0x02

// Error codes carried in an ERROR frame's single payload byte, reusing the
// broker's taxonomy since both framings share the same relay's error model.
const (
	ErrNotFound byte = 0x01
	ErrBusy     byte = 0x02
	ErrTimeout  byte = 0x03
	ErrProtocol byte = 0x04
)

// HeaderSize is the fixed 4-byte header length.
const HeaderSize = 4

// MaxPayload mirrors the broker dialect's limit.
const MaxPayload = 4096

// Header is the decoded fixed-size prefix of every bridge frame.
type Header struct {
	Type   byte
	Flags  byte
	Length uint16
}

// Encode writes the header into a 4-byte little-endian buffer.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Type
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Length)
	return buf
}

// DecodeHeader parses a 4-byte header buffer.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("bridge: short header: got %d bytes, want %d", len(buf), HeaderSize)
	}
	h := Header{
		Type:   buf[0],
		Flags:  buf[1],
		Length: binary.LittleEndian.Uint16(buf[2:4]),
	}
	if h.Length > MaxPayload {
		return Header{}, fmt.Errorf("bridge: payload length %d exceeds max %d", h.Length, MaxPayload)
	}
	return h, nil
}

// Frame is a fully decoded message: header plus its payload.
type Frame struct {
	Header
	Payload []byte
}

// Encode serialises a frame ready to write to the wire.
func (f Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.Payload))
	hdr := f.Header.Encode()
	out := make([]byte, 0, HeaderSize+len(f.Payload))
	out = append(out, hdr[:]...)
	out = append(out, f.Payload...)
	return out
}

// New builds a Frame, computing Length from the payload.
func New(msgType, flags byte, payload []byte) Frame {
	return Frame{
		Header:  Header{Type: msgType, Flags: flags, Length: uint16(len(payload))},
		Payload: payload,
	}
}
