package codec

import (
	"encoding/binary"
	"encoding/hex"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvHashEndianness(t *testing.T) {
	h := "0000000000000000000aaaabbbbccccddddeeeeffff111122223333444455556666"
	h = h[:64] // exactly 32 bytes of hex
	frame, err := Inv(MagicMainnet, InvBlock, h)
	require.NoError(t, err)

	payload := frame[HeaderLen:]
	// offset 5 = varint(1 byte) + kind(4 bytes)
	wantRaw, err := hex.DecodeString(h)
	require.NoError(t, err)
	wantReversed := ReverseBytes(wantRaw)
	assert.Equal(t, wantReversed, payload[5:37])
}

func TestVersionPortEndianness(t *testing.T) {
	v, err := NewVersionPayload(net.ParseIP("1.2.3.4"), 8333, 0, "/BitLab:0.1/", 0)
	require.NoError(t, err)
	encoded := v.Encode()

	// AddrRecv starts right after version(4)+services(8)+timestamp(8) = 20.
	addrRecvOffset := 20
	portOffset := addrRecvOffset + 24 // services(8)+ip(16) precede the port within NetAddr
	port := binary.BigEndian.Uint16(encoded[portOffset : portOffset+2])
	assert.Equal(t, uint16(8333), port)
}

func TestVersionRoundTrip(t *testing.T) {
	v, err := NewVersionPayload(net.ParseIP("203.0.113.5"), 8333, 1, "/BitLab:0.1/", 123)
	require.NoError(t, err)

	encoded := v.Encode()
	decoded, err := DecodeVersionPayload(encoded)
	require.NoError(t, err)

	assert.Equal(t, v.Version, decoded.Version)
	assert.Equal(t, v.Services, decoded.Services)
	assert.Equal(t, v.UserAgent, decoded.UserAgent)
	assert.Equal(t, v.StartHeight, decoded.StartHeight)
	assert.Equal(t, v.Relay, decoded.Relay)
	assert.Equal(t, v.AddrRecv.Port, decoded.AddrRecv.Port)
	assert.True(t, v.AddrRecv.IP.Equal(decoded.AddrRecv.IP))
}

func TestRejectPayloadShape(t *testing.T) {
	frame, err := Reject(MagicMainnet, "tx", "bad-txn-inputs-spent", DefaultRejectCode)
	require.NoError(t, err)

	payload := frame[HeaderLen:]
	cmd, consumed, err := DecodeVarString(payload)
	require.NoError(t, err)
	assert.Equal(t, "tx", cmd)

	code := payload[consumed]
	assert.Equal(t, DefaultRejectCode, code)

	reason, _, err := DecodeVarString(payload[consumed+1:])
	require.NoError(t, err)
	assert.Equal(t, "bad-txn-inputs-spent", reason)
}

func TestGetBlocksDefaultStopHash(t *testing.T) {
	frame, err := GetBlocks(MagicMainnet, nil, "")
	require.NoError(t, err)

	payload := frame[HeaderLen:]
	// version(4) + varint(count=0, 1 byte) + stop hash (32 zero bytes)
	assert.Len(t, payload, 4+1+32)
	stopHash := payload[5:37]
	for _, b := range stopHash {
		assert.Equal(t, byte(0), b)
	}
}

func TestPingPongNonceMatches(t *testing.T) {
	frame, nonce, err := Ping(MagicMainnet)
	require.NoError(t, err)

	res := Parse(frame, MagicMainnet, DefaultMaxFrameBytes)
	require.Equal(t, StatusFrame, res.Status)
	gotNonce, err := PingNonce(res.Payload)
	require.NoError(t, err)
	assert.Equal(t, nonce, gotNonce)

	pongFrame, err := Pong(MagicMainnet, nonce)
	require.NoError(t, err)
	pongRes := Parse(pongFrame, MagicMainnet, DefaultMaxFrameBytes)
	require.Equal(t, StatusFrame, pongRes.Status)
	pongNonce, err := PingNonce(pongRes.Payload)
	require.NoError(t, err)
	assert.Equal(t, nonce, pongNonce)
}

func TestDecodeInventoryMultiEntry(t *testing.T) {
	payload := append([]byte{}, EncodeVarInt(2)...)
	var kindBytes [4]byte
	binary.LittleEndian.PutUint32(kindBytes[:], InvTx)
	payload = append(payload, kindBytes[:]...)
	payload = append(payload, make([]byte, 32)...)
	binary.LittleEndian.PutUint32(kindBytes[:], InvBlock)
	payload = append(payload, kindBytes[:]...)
	payload = append(payload, make([]byte, 32)...)

	vecs, err := DecodeInventory(payload)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, InvTx, vecs[0].Kind)
	assert.Equal(t, InvBlock, vecs[1].Kind)
}

func TestDecodeAddrRoundTrip(t *testing.T) {
	payload := append([]byte{}, EncodeVarInt(2)...)

	var tsBytes [4]byte
	binary.LittleEndian.PutUint32(tsBytes[:], 1700000000)
	payload = append(payload, tsBytes[:]...)
	payload = append(payload, NetAddr{Services: 1, IP: net.ParseIP("1.2.3.4"), Port: 8333}.Encode()...)

	binary.LittleEndian.PutUint32(tsBytes[:], 1700000100)
	payload = append(payload, tsBytes[:]...)
	payload = append(payload, NetAddr{Services: 0, IP: net.ParseIP("5.6.7.8"), Port: 18333}.Encode()...)

	entries, err := DecodeAddr(payload)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, uint32(1700000000), entries[0].Timestamp)
	assert.Equal(t, uint16(8333), entries[0].Addr.Port)
	assert.True(t, entries[0].Addr.IP.Equal(net.ParseIP("1.2.3.4")))

	assert.Equal(t, uint32(1700000100), entries[1].Timestamp)
	assert.Equal(t, uint16(18333), entries[1].Addr.Port)
	assert.True(t, entries[1].Addr.IP.Equal(net.ParseIP("5.6.7.8")))
}

func TestDecodeAddrTruncated(t *testing.T) {
	payload := append([]byte{}, EncodeVarInt(1)...)
	payload = append(payload, make([]byte, 10)...) // far short of timestamp+NetAddr
	_, err := DecodeAddr(payload)
	require.ErrorIs(t, err, ErrTruncated)
}
