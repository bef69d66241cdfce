package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Type: MsgRegister, Flags: 0, Length: 0, CallID: 0, Seq: 0},
		{Type: MsgAudio, Flags: 0xFF, Length: 512, CallID: 1, Seq: 7},
		{Type: MsgAudio, Flags: 0, Length: MaxPayload, CallID: 0xFFFFFFFF, Seq: 0xFFFFFFFF},
	}

	for _, want := range cases {
		buf := want.Encode()
		got, err := DecodeHeader(buf[:])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeHeaderRejectsOversizedLength(t *testing.T) {
	h := Header{Type: MsgAudio, Length: MaxPayload + 1}
	buf := h.Encode()
	_, err := DecodeHeader(buf[:])
	assert.Error(t, err)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestFrameEncodeComputesLength(t *testing.T) {
	f := New(MsgInvite, 0, 0, 0, []byte("bob"))
	encoded := f.Encode()
	require.Len(t, encoded, HeaderSize+3)

	hdr, err := DecodeHeader(encoded[:HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, uint16(3), hdr.Length)
	assert.Equal(t, "bob", string(encoded[HeaderSize:]))
}
