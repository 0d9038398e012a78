package codec

import "crypto/sha256"

// Sha256D computes the double-SHA256 of b: SHA256(SHA256(b)). This is the
// checksum primitive used for every frame header and nowhere else in the
// codec; keeping it as a single helper matches the teacher's
// calculateChecksum, generalized to return the full 32 bytes so callers can
// also use it for hash computation (e.g. block headers) rather than only
// the 4-byte checksum prefix.
func Sha256D(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// ReverseBytes returns a copy of b with byte order reversed. Bitcoin
// displays hashes in human-readable hex with the opposite byte order from
// how they sit on the wire; this helper converts either direction.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
