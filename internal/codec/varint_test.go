package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntBoundaries(t *testing.T) {
	assert.Equal(t, []byte{0xfc}, EncodeVarInt(0xfc))
	assert.Equal(t, []byte{0xfd, 0xfd, 0x00}, EncodeVarInt(0xfd))
	assert.Equal(t, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}, EncodeVarInt(0x10000))
}

func TestVarIntRoundTrip(t *testing.T) {
	cases := []uint64{
		0, 1, 0xfc, 0xfd, 0xfe, 0xff, 0xffff, 0x10000,
		0xffffffff, 0x100000000, 1 << 63, ^uint64(0),
	}
	for _, n := range cases {
		enc := EncodeVarInt(n)
		got, consumed, err := DecodeVarInt(enc)
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.Equal(t, len(enc), consumed)
	}
}

func TestDecodeVarIntTruncated(t *testing.T) {
	_, _, err := DecodeVarInt(nil)
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = DecodeVarInt([]byte{0xfd, 0x01})
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = DecodeVarInt([]byte{0xff, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestVarStringRoundTrip(t *testing.T) {
	s := "/BitLab:0.1/"
	enc := EncodeVarString(s)
	got, consumed, err := DecodeVarString(enc)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, len(enc), consumed)
}
