package codec

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the fixed size of a frame header: magic(4) + command(12) +
// length(4) + checksum(4).
const HeaderLen = 24

// CommandLen is the fixed width of the zero-padded command field.
const CommandLen = 12

// DefaultMaxFrameBytes is the cap mandated by spec.md §4.1 to stop a
// malicious payload_len from driving an unbounded allocation.
const DefaultMaxFrameBytes = 32 * 1024 * 1024

// Network magic constants (mainnet default; testnet configurable). Each
// value is the little-endian reading of the four wire bytes (mainnet's
// pchMessageStart is F9 BE B4 D9, testnet3's is 0B 11 09 07), matching
// btcsuite/btcd/chaincfg's MainNetParams.Net / TestNet3Params.Net so
// internal/config derives the same magic EncodeFrame/Parse use here.
const (
	MagicMainnet uint32 = 0xD9B4BEF9
	MagicTestnet uint32 = 0x0709110B
)

// EncodeFrame builds the full wire representation of a message:
// magic ‖ command(12, NUL-padded) ‖ len(payload) ‖ checksum ‖ payload.
func EncodeFrame(magic uint32, command string, payload []byte) ([]byte, error) {
	if len(command) == 0 || len(command) > CommandLen {
		return nil, fmt.Errorf("%w: command %q must be 1-12 bytes", ErrBadCommandEncoding, command)
	}
	for i := 0; i < len(command); i++ {
		c := command[i]
		if c < 0x20 || c > 0x7e {
			return nil, fmt.Errorf("%w: command %q is not printable ASCII", ErrBadCommandEncoding, command)
		}
	}

	out := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], magic)
	copy(out[4:16], command)
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(payload)))
	checksum := Sha256D(payload)
	copy(out[20:24], checksum[:4])
	copy(out[24:], payload)
	return out, nil
}

// ParseStatus discriminates the outcome of a Parse call.
type ParseStatus int

const (
	// StatusIncomplete means the buffer doesn't yet contain a full frame;
	// the input is returned unchanged and the caller must read more bytes.
	StatusIncomplete ParseStatus = iota
	// StatusFrame means exactly one complete frame was extracted.
	StatusFrame
	// StatusError means the header failed validation (bad magic, bad
	// checksum, or an oversized declared length); the caller must close
	// the session.
	StatusError
)

// ParseResult is the outcome of one Parse call.
type ParseResult struct {
	Status    ParseStatus
	Command   string
	Payload   []byte
	Remainder []byte // buffer with the consumed frame (if any) removed from its front
	Err       error  // set iff Status == StatusError
}

// Parse implements the streaming frame cutter described in spec.md §4.1.
// It is pure and restartable: calling it repeatedly on the same buffer with
// the same magic/maxFrameBytes yields the same verdict every time.
//
// Contract:
//  1. |buf| < 24             -> Incomplete, buf unchanged.
//  2. magic mismatch         -> Error(BadMagic). No resync is attempted.
//  3. payload_len too large  -> Error(OversizedFrame), before the payload
//     is read or allocated.
//  4. |buf| < 24+payload_len -> Incomplete, buf unchanged.
//  5. checksum mismatch      -> Error(BadChecksum).
//  6. otherwise              -> Frame(command, payload, buf[24+payload_len:]).
func Parse(buf []byte, magic uint32, maxFrameBytes int) ParseResult {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	if len(buf) < HeaderLen {
		return ParseResult{Status: StatusIncomplete, Remainder: buf}
	}

	gotMagic := binary.LittleEndian.Uint32(buf[0:4])
	if gotMagic != magic {
		return ParseResult{Status: StatusError, Err: fmt.Errorf("%w: got 0x%08x want 0x%08x", ErrBadMagic, gotMagic, magic)}
	}

	command := commandString(buf[4:16])

	payloadLen := binary.LittleEndian.Uint32(buf[16:20])
	if payloadLen > uint32(maxFrameBytes) {
		return ParseResult{Status: StatusError, Err: fmt.Errorf("%w: declared %d bytes, cap is %d", ErrOversizedFrame, payloadLen, maxFrameBytes)}
	}

	totalLen := HeaderLen + int(payloadLen)
	if len(buf) < totalLen {
		return ParseResult{Status: StatusIncomplete, Remainder: buf}
	}

	declaredChecksum := buf[20:24]
	payload := buf[HeaderLen:totalLen]
	actual := Sha256D(payload)
	if !bytesEqual(actual[:4], declaredChecksum) {
		return ParseResult{Status: StatusError, Err: ErrBadChecksum}
	}

	return ParseResult{
		Status:    StatusFrame,
		Command:   command,
		Payload:   payload,
		Remainder: buf[totalLen:],
	}
}

func commandString(field []byte) string {
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
