// Package packet implements the fixed-length command frame used on the wire:
// zero padded payload bytes followed by a single XOR checksum byte, plus the
// head/body/end segmentation scheme for payloads that do not fit in one frame.
//
// Two limits follow from the format. The XOR checksum misses corruptions
// that cancel out, and since no frame carries a payload length, trailing
// zero bytes of a segmented payload do not survive reassembly.
package packet

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// DefaultFrameLength is the frame size used by every peer we talk to.
// It matches the 20-byte ATT payload of a default 23-byte MTU.
const DefaultFrameLength = 20

// Codec errors
var (
	// ErrFrameOverflow is returned when a payload plus its checksum byte does not fit in a frame.
	ErrFrameOverflow = errors.New("frame overflow")

	// ErrTooManySegments is returned when a payload needs more than MaxSegments frames.
	ErrTooManySegments = errors.New("too many segments")

	// ErrInvalidFrame is returned when a frame has the wrong length or a bad checksum.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrMalformedSequence is returned when frames do not form a head/body/end sequence.
	ErrMalformedSequence = errors.New("malformed segment sequence")
)

// Frame is one fixed-length checksummed unit of the wire protocol.
type Frame []byte

// Checksum folds bytes with XOR.
//
// Comments in older firmware call this a CRC; it is not one. Two corruptions
// that cancel each other out (same bit flipped in two bytes) are not detected.
func Checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

// BuildFrame pads payload with zeros to length-1 bytes and appends the checksum.
// The payload must leave room for the checksum byte.
func BuildFrame(payload []byte, length int) (Frame, error) {
	if length <= 1 || len(payload) >= length {
		return nil, fmt.Errorf("%w: payload is %d bytes, frame of %d holds at most %d",
			ErrFrameOverflow, len(payload), length, max(length-1, 0))
	}

	f := make(Frame, length)
	copy(f, payload)
	f[length-1] = Checksum(f[:length-1])
	return f, nil
}

// NewFrame builds a DefaultFrameLength frame from the given bytes.
func NewFrame(payload ...byte) (Frame, error) {
	return BuildFrame(payload, DefaultFrameLength)
}

// ValidateFrame reports whether b is exactly length bytes long and its last
// byte is the checksum of the bytes before it.
func ValidateFrame(b []byte, length int) bool {
	if length <= 1 || len(b) != length {
		return false
	}
	return Checksum(b[:length-1]) == b[length-1]
}

// Valid reports whether f is a valid DefaultFrameLength frame.
func (f Frame) Valid() bool {
	return ValidateFrame(f, DefaultFrameLength)
}

// Payload returns the bytes before the checksum, padding included.
func (f Frame) Payload() []byte {
	if len(f) == 0 {
		return nil
	}
	return f[:len(f)-1]
}

func (f Frame) String() string {
	return hex.EncodeToString(f)
}
