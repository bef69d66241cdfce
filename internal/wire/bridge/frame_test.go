package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Type: MsgStart, Flags: 0, Length: 0},
		{Type: MsgStart, Flags: FlagNoRing, Length: 0},
		{Type: MsgAudio, Flags: 0, Length: 512},
		{Type: MsgAudio, Flags: 0xFF, Length: MaxPayload},
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
