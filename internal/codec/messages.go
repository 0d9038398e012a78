package codec

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// ProtocolVersion is the fixed version number this client advertises.
const ProtocolVersion int32 = 70015

// Inventory kinds (spec.md §3).
const (
	InvTx            uint32 = 1
	InvBlock         uint32 = 2
	InvFilteredBlock uint32 = 3
	InvCmpctBlock    uint32 = 4
)

// VersionPayload is the payload of a version message (spec.md §3).
type VersionPayload struct {
	Version     int32
	Services    uint64
	Timestamp   int64
	AddrRecv    NetAddr
	AddrFrom    NetAddr
	Nonce       uint64
	UserAgent   string
	StartHeight int32
	Relay       bool
}

// Encode serializes a VersionPayload in field order.
func (v VersionPayload) Encode() []byte {
	out := make([]byte, 0, 86+len(v.UserAgent))

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(v.Version))
	out = append(out, scratch[:4]...)
	binary.LittleEndian.PutUint64(scratch[:8], v.Services)
	out = append(out, scratch[:8]...)
	binary.LittleEndian.PutUint64(scratch[:8], uint64(v.Timestamp))
	out = append(out, scratch[:8]...)

	out = append(out, v.AddrRecv.Encode()...)
	out = append(out, v.AddrFrom.Encode()...)

	binary.LittleEndian.PutUint64(scratch[:8], v.Nonce)
	out = append(out, scratch[:8]...)

	out = append(out, EncodeVarString(v.UserAgent)...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(v.StartHeight))
	out = append(out, scratch[:4]...)

	if v.Relay {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

// DecodeVersionPayload parses a version message payload.
func DecodeVersionPayload(b []byte) (VersionPayload, error) {
	const minLen = 4 + 8 + 8 + NetAddrSize + NetAddrSize + 8 + 1 + 4
	if len(b) < minLen {
		return VersionPayload{}, fmt.Errorf("%w: version payload too short (%d bytes)", ErrTruncated, len(b))
	}

	var v VersionPayload
	off := 0
	v.Version = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	v.Services = binary.LittleEndian.Uint64(b[off:])
	off += 8
	v.Timestamp = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8

	addrRecv, n, err := DecodeNetAddr(b[off:])
	if err != nil {
		return VersionPayload{}, err
	}
	v.AddrRecv = addrRecv
	off += n

	addrFrom, n, err := DecodeNetAddr(b[off:])
	if err != nil {
		return VersionPayload{}, err
	}
	v.AddrFrom = addrFrom
	off += n

	v.Nonce = binary.LittleEndian.Uint64(b[off:])
	off += 8

	ua, n, err := DecodeVarString(b[off:])
	if err != nil {
		return VersionPayload{}, err
	}
	v.UserAgent = ua
	off += n

	if len(b) < off+4 {
		return VersionPayload{}, ErrTruncated
	}
	v.StartHeight = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4

	if len(b) > off {
		v.Relay = b[off] != 0
	}
	return v, nil
}

// NewVersionPayload builds a version payload addressed to recvIP:recvPort,
// with a fresh cryptographically-random nonce, matching spec.md §4.1's
// version builder semantics.
func NewVersionPayload(recvIP net.IP, recvPort uint16, services uint64, userAgent string, startHeight int32) (VersionPayload, error) {
	var nonceBytes [8]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return VersionPayload{}, fmt.Errorf("generating version nonce: %w", err)
	}

	return VersionPayload{
		Version:   ProtocolVersion,
		Services:  services,
		Timestamp: time.Now().Unix(),
		AddrRecv:  NetAddr{Services: services, IP: recvIP, Port: recvPort},
		AddrFrom:  NetAddr{Services: 0, IP: net.IPv4zero, Port: 0},
		Nonce:     binary.LittleEndian.Uint64(nonceBytes[:]),
		UserAgent: userAgent,
		// Height is whatever the caller passes; this client tracks no chain state.
		StartHeight: startHeight,
		Relay:       true,
	}, nil
}

// Version builds a complete version frame.
func Version(magic uint32, v VersionPayload) ([]byte, error) {
	return EncodeFrame(magic, "version", v.Encode())
}

// Verack builds a complete, empty-payload verack frame.
func Verack(magic uint32) ([]byte, error) {
	return EncodeFrame(magic, "verack", nil)
}

// GetAddr builds a complete, empty-payload getaddr frame.
func GetAddr(magic uint32) ([]byte, error) {
	return EncodeFrame(magic, "getaddr", nil)
}

// Ping builds a ping frame with a fresh random nonce, returning the frame
// bytes and the nonce so the caller can match the eventual pong.
func Ping(magic uint32) ([]byte, uint64, error) {
	var nonceBytes [8]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return nil, 0, fmt.Errorf("generating ping nonce: %w", err)
	}
	nonce := binary.LittleEndian.Uint64(nonceBytes[:])
	frame, err := EncodeFrame(magic, "ping", nonceBytes[:])
	return frame, nonce, err
}

// Pong builds a pong frame carrying the given nonce, echoing a peer's ping.
func Pong(magic uint32, nonce uint64) ([]byte, error) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, nonce)
	return EncodeFrame(magic, "pong", payload)
}

// PingNonce extracts the nonce carried by a ping or pong payload.
func PingNonce(payload []byte) (uint64, error) {
	if len(payload) < 8 {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint64(payload), nil
}

// inventoryVector builds the varint(1) ‖ kind ‖ hash(32, LE) payload shared
// by inv and getdata single-entry messages. hashHex is the human-readable
// (big-endian-displayed) hex string; the wire form is its byte reversal.
func inventoryVector(kind uint32, hashHex string) ([]byte, error) {
	h, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("decoding hash hex: %w", err)
	}
	if len(h) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(h))
	}
	reversed := ReverseBytes(h)

	payload := make([]byte, 0, 1+4+32)
	payload = append(payload, EncodeVarInt(1)...)
	var kindBytes [4]byte
	binary.LittleEndian.PutUint32(kindBytes[:], kind)
	payload = append(payload, kindBytes[:]...)
	payload = append(payload, reversed...)
	return payload, nil
}

// InvKindFromName maps the operator-facing names to wire inventory kinds.
func InvKindFromName(name string) (uint32, error) {
	switch name {
	case "tx":
		return InvTx, nil
	case "block":
		return InvBlock, nil
	case "filtered_block":
		return InvFilteredBlock, nil
	case "cmpct_block":
		return InvCmpctBlock, nil
	default:
		return 0, fmt.Errorf("unknown inventory kind %q", name)
	}
}

// Inv builds a single-entry inv message. Parsers must accept multi-entry
// inv payloads from peers; this client only ever emits one entry at a time.
func Inv(magic uint32, kind uint32, hashHex string) ([]byte, error) {
	payload, err := inventoryVector(kind, hashHex)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(magic, "inv", payload)
}

// GetData builds a single-entry getdata message.
func GetData(magic uint32, kind uint32, hashHex string) ([]byte, error) {
	payload, err := inventoryVector(kind, hashHex)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(magic, "getdata", payload)
}

// InvVector is one decoded entry of an inv or getdata payload.
type InvVector struct {
	Kind uint32
	Hash [32]byte // wire (LE) order, as received
}

// DecodeInventory parses a full (possibly multi-entry) inv/getdata payload.
func DecodeInventory(payload []byte) ([]InvVector, error) {
	count, consumed, err := DecodeVarInt(payload)
	if err != nil {
		return nil, err
	}
	rest := payload[consumed:]

	vectors := make([]InvVector, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(rest) < 36 {
			return nil, ErrTruncated
		}
		kind := binary.LittleEndian.Uint32(rest[0:4])
		var hash [32]byte
		copy(hash[:], rest[4:36])
		vectors = append(vectors, InvVector{Kind: kind, Hash: hash})
		rest = rest[36:]
	}
	return vectors, nil
}

// Tx builds a tx message wrapping an opaque raw-transaction byte blob. The
// codec does not parse or validate transactions; rawHex is passed through.
func Tx(magic uint32, rawHex string) ([]byte, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decoding tx hex: %w", err)
	}
	return EncodeFrame(magic, "tx", raw)
}

// Block builds a block message wrapping an opaque raw-block byte blob.
func Block(magic uint32, rawHex string) ([]byte, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decoding block hex: %w", err)
	}
	return EncodeFrame(magic, "block", raw)
}

// zeroHash32 is the default (all-zero) stop hash used by getblocks/getheaders
// when the caller doesn't want to bound the range.
var zeroHash32 = make([]byte, 32)

func locatorPayload(locators []string, stopHex string) ([]byte, error) {
	payload := make([]byte, 0, 4+9+32*(len(locators)+1))

	var versionBytes [4]byte
	binary.LittleEndian.PutUint32(versionBytes[:], uint32(ProtocolVersion))
	payload = append(payload, versionBytes[:]...)

	payload = append(payload, EncodeVarInt(uint64(len(locators)))...)
	for _, h := range locators {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("decoding locator hash hex: %w", err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("locator hash must be 32 bytes, got %d", len(raw))
		}
		payload = append(payload, ReverseBytes(raw)...)
	}

	if stopHex == "" {
		payload = append(payload, zeroHash32...)
	} else {
		raw, err := hex.DecodeString(stopHex)
		if err != nil {
			return nil, fmt.Errorf("decoding stop hash hex: %w", err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("stop hash must be 32 bytes, got %d", len(raw))
		}
		payload = append(payload, ReverseBytes(raw)...)
	}
	return payload, nil
}

// GetBlocks builds a getblocks message from a locator list and an optional
// stop hash (empty string means the default all-zero stop hash).
func GetBlocks(magic uint32, locators []string, stopHex string) ([]byte, error) {
	payload, err := locatorPayload(locators, stopHex)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(magic, "getblocks", payload)
}

// GetHeaders builds a getheaders message; identical wire shape to getblocks.
func GetHeaders(magic uint32, locators []string, stopHex string) ([]byte, error) {
	payload, err := locatorPayload(locators, stopHex)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(magic, "getheaders", payload)
}

// Headers builds a headers message from a list of raw 80-byte block headers.
// Each entry is followed by a single zero byte: the tx-count varint, always
// zero because header-only messages never carry transactions.
func Headers(magic uint32, headers [][]byte) ([]byte, error) {
	payload := make([]byte, 0, 1+81*len(headers))
	payload = append(payload, EncodeVarInt(uint64(len(headers)))...)
	for _, h := range headers {
		if len(h) != 80 {
			return nil, fmt.Errorf("block header must be 80 bytes, got %d", len(h))
		}
		payload = append(payload, h...)
		payload = append(payload, 0x00)
	}
	return EncodeFrame(magic, "headers", payload)
}

// Alert builds a non-standard alert message. No cryptographic signature is
// produced or verified: the historical alert-key scheme is intentionally
// dropped (spec.md Non-goals).
func Alert(magic uint32, text string) ([]byte, error) {
	return EncodeFrame(magic, "alert", []byte(text))
}

// Message builds a free-text diagnostic message. Non-standard; real nodes
// will not recognize it.
func Message(magic uint32, text string) ([]byte, error) {
	return EncodeFrame(magic, "message", []byte(text))
}

// DefaultRejectCode is used when the caller doesn't specify one.
const DefaultRejectCode byte = 0x10

// Reject builds a reject message: varstr(command) ‖ code ‖ varstr(reason).
func Reject(magic uint32, command, reason string, code byte) ([]byte, error) {
	payload := make([]byte, 0, len(command)+len(reason)+10)
	payload = append(payload, EncodeVarString(command)...)
	payload = append(payload, code)
	payload = append(payload, EncodeVarString(reason)...)
	return EncodeFrame(magic, "reject", payload)
}

// AddrEntry is one decoded entry of an addr message: the time this peer was
// last seen by whoever is reporting it, plus its NetAddr.
type AddrEntry struct {
	Timestamp uint32
	Addr      NetAddr
}

// DecodeAddr parses an addr payload: varint(count) ‖ count entries of
// timestamp(4 LE) ‖ NetAddr(26). Unlike the 30-byte-stride reader some
// implementations ship, this honors the leading varint rather than ignoring
// it, so it stays correct if a peer ever sends a count that doesn't match
// the remaining byte length.
func DecodeAddr(payload []byte) ([]AddrEntry, error) {
	count, consumed, err := DecodeVarInt(payload)
	if err != nil {
		return nil, err
	}
	rest := payload[consumed:]

	entries := make([]AddrEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(rest) < 4+NetAddrSize {
			return nil, ErrTruncated
		}
		ts := binary.LittleEndian.Uint32(rest[:4])
		addr, _, err := DecodeNetAddr(rest[4:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, AddrEntry{Timestamp: ts, Addr: addr})
		rest = rest[4+NetAddrSize:]
	}
	return entries, nil
}
