package codec

import "encoding/binary"

// EncodeVarInt serializes n using Bitcoin's compact variable-length
// encoding: values below 0xFD are a single byte, larger values are
// prefixed with a width marker (0xFD/0xFE/0xFF) followed by the fixed-width
// little-endian value. The encoding is always the shortest valid one for n.
func EncodeVarInt(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return b
	case n <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(n))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], n)
		return b
	}
}

// DecodeVarInt reads a varint from the front of b. It returns the decoded
// value and the number of bytes consumed. The prefix byte implies an exact
// follow-up width; if b is shorter than that width, ErrTruncated is returned
// and b is left untouched by the caller (DecodeVarInt never mutates b).
func DecodeVarInt(b []byte) (value uint64, consumed int, err error) {
	if len(b) < 1 {
		return 0, 0, ErrTruncated
	}
	switch prefix := b[0]; prefix {
	case 0xff:
		if len(b) < 9 {
			return 0, 0, ErrTruncated
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	default:
		return uint64(prefix), 1, nil
	}
}

// EncodeVarString serializes s as a varstr: varint(len) followed by the raw
// bytes of s.
func EncodeVarString(s string) []byte {
	out := EncodeVarInt(uint64(len(s)))
	return append(out, s...)
}

// DecodeVarString reads a varstr from the front of b, returning the string
// and the number of bytes consumed.
func DecodeVarString(b []byte) (s string, consumed int, err error) {
	n, c, err := DecodeVarInt(b)
	if err != nil {
		return "", 0, err
	}
	if uint64(len(b)-c) < n {
		return "", 0, ErrTruncated
	}
	return string(b[c : c+int(n)]), c + int(n), nil
}
