package pack

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Use errors.Is against these; the concrete
// error returned always wraps one of them with additional context.
var (
	// ErrInvalidPackHeader is returned for a missing/incorrect "PACK"
	// magic, an unsupported version, or a short read in the 12-byte
	// header.
	ErrInvalidPackHeader = errors.New("invalid pack header")

	// ErrInvalidPackFile covers structural problems in the body of the
	// pack: a decompression failure, a declared-size mismatch, a
	// trailer checksum mismatch, trailing garbage after the trailer,
	// or deltas whose base never arrives.
	ErrInvalidPackFile = errors.New("invalid pack file")

	// ErrInvalidObjectInfo is returned for structural inconsistencies
	// in a single object header, such as an OffsetDelta whose base
	// offset would underflow, or an unknown object type code.
	ErrInvalidObjectInfo = errors.New("invalid object info")

	// ErrDeltaObject is returned for a malformed delta instruction
	// stream: a bad copy/insert command, an out-of-range copy, or a
	// result-size mismatch after rebuild.
	ErrDeltaObject = errors.New("invalid delta object")

	// ErrConcurrentDecode is returned when a second decode is started
	// on a Decoder that is already decoding. A Decoder tracks its
	// memory budget and temp directory per instance and is not
	// reentrant.
	ErrConcurrentDecode = errors.New("concurrent decode on the same Decoder is not supported")
)

// wrapf wraps sentinel with a formatted detail message, preserving
// errors.Is against sentinel.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
