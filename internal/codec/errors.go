package codec

import "errors"

// Error kinds for the wire codec. These are values, not exceptions: callers
// inspect them with errors.Is and decide policy (close the session, ask for
// more bytes, etc.) themselves.
var (
	// ErrTruncated means the buffer is shorter than a declared field width.
	// Recoverable: the caller should read more bytes and retry.
	ErrTruncated = errors.New("codec: truncated buffer")

	// ErrBadMagic means the four magic bytes don't match the configured
	// network. Unrecoverable: the caller must close the session without
	// attempting to resync.
	ErrBadMagic = errors.New("codec: bad magic")

	// ErrBadChecksum means the payload's double-SHA256 prefix doesn't match
	// the header checksum. Unrecoverable.
	ErrBadChecksum = errors.New("codec: checksum mismatch")

	// ErrOversizedFrame means the header's payload_len exceeds the
	// configured cap. Raised before the payload is read or allocated.
	ErrOversizedFrame = errors.New("codec: oversized frame")

	// ErrBadCommandEncoding means the 12-byte command field isn't printable
	// ASCII, or contains a NUL before the padding starts.
	ErrBadCommandEncoding = errors.New("codec: bad command encoding")
)
