package packet

import (
	"bytes"
	"fmt"
)

// Segmented transfer layout. These are protocol constants shared with the
// peripheral firmware; changing any of them breaks peer compatibility.
const (
	SegmentMarker    byte = 0xA3 // first byte of every segment frame
	SegmentEndMarker byte = 0xFF // second byte of the end frame

	// MaxSegments is the largest frame count a head frame can declare.
	MaxSegments = 255

	HeadPayloadSize = 13 // payload bytes carried by the head frame
	BodyPayloadSize = 16 // payload bytes carried by each body frame
	EndPayloadSize  = 16 // payload bytes carried by the end frame

	// MaxSegmentedPayload is the largest payload a single transfer can carry.
	MaxSegmentedPayload = HeadPayloadSize + (MaxSegments-2)*BodyPayloadSize + EndPayloadSize
)

// headHeader is followed by the frame count and headTrailer.
var (
	headHeader  = []byte{SegmentMarker, 0x00, 0x01}
	headTrailer = byte(0x02)
)

const (
	headPrefixLen = 5 // A3 00 01 <count> 02
	bodyPrefixLen = 2 // A3 <index>
	endPrefixLen  = 2 // A3 FF
)

// SegmentCount returns the number of frames Segment produces for a payload of n bytes.
func SegmentCount(n int) int {
	rest := max(n-HeadPayloadSize, 0)
	tail := (rest + BodyPayloadSize - 1) / BodyPayloadSize
	return 1 + max(tail, 1)
}

// Segment splits payload into a head frame, zero or more body frames and an end frame.
// An end frame is always emitted, even when the head carries the whole payload.
func Segment(payload []byte) ([]Frame, error) {
	count := SegmentCount(len(payload))
	if count > MaxSegments {
		return nil, fmt.Errorf("%w: %d bytes need %d frames, limit is %d",
			ErrTooManySegments, len(payload), count, MaxSegments)
	}

	frames := make([]Frame, 0, count)

	n := min(len(payload), HeadPayloadSize)
	head := make([]byte, 0, headPrefixLen+n)
	head = append(head, headHeader...)
	head = append(head, byte(count), headTrailer)
	head = append(head, payload[:n]...)
	f, err := BuildFrame(head, DefaultFrameLength)
	if err != nil {
		return nil, err
	}
	frames = append(frames, f)
	rest := payload[n:]

	for i := 1; i < count-1; i++ {
		chunk := rest[:BodyPayloadSize]
		rest = rest[BodyPayloadSize:]

		body := make([]byte, 0, bodyPrefixLen+len(chunk))
		body = append(body, SegmentMarker, byte(i))
		body = append(body, chunk...)
		if f, err = BuildFrame(body, DefaultFrameLength); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	end := make([]byte, 0, endPrefixLen+len(rest))
	end = append(end, SegmentMarker, SegmentEndMarker)
	end = append(end, rest...)
	if f, err = BuildFrame(end, DefaultFrameLength); err != nil {
		return nil, err
	}
	return append(frames, f), nil
}

// Reassemble rebuilds the payload carried by a complete segment sequence.
//
// The wire format carries no payload length, so trailing zero bytes are
// indistinguishable from padding and are dropped.
func Reassemble(frames []Frame) ([]byte, error) {
	r := NewReassembler()
	for i, f := range frames {
		payload, done, err := r.Feed(f)
		if err != nil {
			return nil, err
		}
		if done {
			if i != len(frames)-1 {
				return nil, fmt.Errorf("%w: %d frames after end frame", ErrMalformedSequence, len(frames)-1-i)
			}
			return payload, nil
		}
	}
	return nil, fmt.Errorf("%w: missing end frame", ErrMalformedSequence)
}

// IsSegmentFrame reports whether b looks like part of a segmented transfer.
func IsSegmentFrame(b []byte) bool {
	return len(b) == DefaultFrameLength && b[0] == SegmentMarker
}

// IsHeadFrame reports whether b is the first frame of a segmented transfer.
func IsHeadFrame(b []byte) bool {
	return IsSegmentFrame(b) && bytes.HasPrefix(b, headHeader) && b[4] == headTrailer
}
