// Package broker implements the 12-byte framed wire protocol devices use to
// talk to the relay core: type, flags, length, call_id, seq, followed by
// length payload bytes, all little-endian.
package broker

import (
	"encoding/binary"
	"fmt"
)

// Message types.
const (
	MsgRegister byte = 0x10
	MsgInvite   byte = 0x11
	MsgRing     byte = 0x12
	MsgAnswer   byte = 0x13
	MsgDecline  byte = 0x14
	MsgHangup   byte = 0x15
	MsgBye      byte = 0x16
	MsgAudio    byte = 0x17
	MsgContacts byte = 0x18
	MsgPing     byte = 0x19
	MsgPong     byte = 0x1A
	MsgError    byte = 0x1B
)

// Error codes carried in an ERROR frame's single payload byte.
const (
	ErrNotFound byte = 0x01
	ErrBusy     byte = 0x02
	ErrTimeout  byte = 0x03
	ErrProtocol byte = 0x04
)

// Decline reasons carried in a DECLINE frame's single payload byte.
const (
	DeclineBusy     byte = 0x00
	DeclineRejected byte = 0x01
)

// HeaderSize is the fixed 12-byte header length.
const HeaderSize = 12

// MaxPayload is the hard limit on frame payload length; a longer length
// field is a protocol error and the connection must be closed.
const MaxPayload = 4096

// Header is the decoded fixed-size prefix of every broker frame.
type Header struct {
	Type   byte
	Flags  byte
	Length uint16
	CallID uint32
	Seq    uint32
}

// Encode writes the header into a 12-byte little-endian buffer.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Type
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.CallID)
	binary.LittleEndian.PutUint32(buf[8:12], h.Seq)
	return buf
}

// DecodeHeader parses a 12-byte header buffer.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("broker: short header: got %d bytes, want %d", len(buf), HeaderSize)
	}
	h := Header{
		Type:   buf[0],
		Flags:  buf[1],
		Length: binary.LittleEndian.Uint16(buf[2:4]),
		CallID: binary.LittleEndian.Uint32(buf[4:8]),
		Seq:    binary.LittleEndian.Uint32(buf[8:12]),
	}
	if h.Length > MaxPayload {
		return Header{}, fmt.Errorf("broker: payload length %d exceeds max %d", h.Length, MaxPayload)
	}
	return h, nil
}

// Frame is a fully decoded message: header plus its payload.
type Frame struct {
	Header
	Payload []byte
}

// Encode serialises a frame (header + payload) ready to write to the wire.
func (f Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.Payload))
	hdr := f.Header.Encode()
	out := make([]byte, 0, HeaderSize+len(f.Payload))
	out = append(out, hdr[:]...)
	out = append(out, f.Payload...)
	return out
}

// New builds a Frame, computing Length from the payload.
func New(msgType byte, flags byte, callID, seq uint32, payload []byte) Frame {
	return Frame{
		Header: Header{
			Type:   msgType,
			Flags:  flags,
			Length: uint16(len(payload)),
			CallID: callID,
			Seq:    seq,
		},
		Payload: payload,
	}
}
