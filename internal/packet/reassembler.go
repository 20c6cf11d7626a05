package packet

import (
	"bytes"
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// Payload regions inside a segment frame; byte 18 is always padding.
const (
	headRegionStart = headPrefixLen
	bodyRegionStart = bodyPrefixLen
	regionEnd       = headRegionStart + HeadPayloadSize
)

// Reassembler rebuilds segmented transfers one frame at a time, as they
// arrive through characteristic notifications.
//
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	buf      *ringbuffer.RingBuffer
	started  bool
	count    int // frames declared by the head
	received int // frames accepted so far, head included
}

// NewReassembler creates a Reassembler able to hold the largest legal transfer.
func NewReassembler() *Reassembler {
	return &Reassembler{
		buf: ringbuffer.New(MaxSegmentedPayload),
	}
}

// Feed consumes one frame. When the end frame completes the transfer it
// returns the payload with done set. Any error resets the Reassembler.
func (r *Reassembler) Feed(b []byte) (payload []byte, done bool, err error) {
	defer func() {
		if err != nil {
			r.Reset()
		}
	}()

	if !ValidateFrame(b, DefaultFrameLength) {
		return nil, false, fmt.Errorf("%w: % x", ErrInvalidFrame, b)
	}
	if b[0] != SegmentMarker {
		return nil, false, fmt.Errorf("%w: frame starts with 0x%02x", ErrMalformedSequence, b[0])
	}

	if !r.started {
		if !IsHeadFrame(b) {
			return nil, false, fmt.Errorf("%w: expected head frame", ErrMalformedSequence)
		}
		count := int(b[3])
		if count < 2 {
			return nil, false, fmt.Errorf("%w: head declares %d frames", ErrMalformedSequence, count)
		}
		if err := r.write(b[headRegionStart:regionEnd]); err != nil {
			return nil, false, err
		}
		r.started = true
		r.count = count
		r.received = 1
		return nil, false, nil
	}

	if b[1] == SegmentEndMarker {
		if r.received+1 != r.count {
			return nil, false, fmt.Errorf("%w: end frame after %d of %d frames", ErrMalformedSequence, r.received, r.count)
		}
		if err := r.write(b[bodyRegionStart:regionEnd]); err != nil {
			return nil, false, err
		}
		out := make([]byte, r.buf.Length())
		if len(out) > 0 {
			if _, err := r.buf.Read(out); err != nil {
				return nil, false, fmt.Errorf("read reassembly buffer: %w", err)
			}
		}
		r.Reset()
		return bytes.TrimRight(out, "\x00"), true, nil
	}

	if int(b[1]) != r.received {
		return nil, false, fmt.Errorf("%w: body index %d, expected %d", ErrMalformedSequence, b[1], r.received)
	}
	if r.received+1 >= r.count {
		return nil, false, fmt.Errorf("%w: body frame %d leaves no room for end frame", ErrMalformedSequence, b[1])
	}
	if err := r.write(b[bodyRegionStart:regionEnd]); err != nil {
		return nil, false, err
	}
	r.received++
	return nil, false, nil
}

// InProgress reports whether a head frame has been accepted and the end frame is still pending.
func (r *Reassembler) InProgress() bool {
	return r.started
}

// Reset drops any partial transfer.
func (r *Reassembler) Reset() {
	r.buf.Reset()
	r.started = false
	r.count = 0
	r.received = 0
}

func (r *Reassembler) write(region []byte) error {
	if len(region) > r.buf.Free() {
		return fmt.Errorf("%w: transfer exceeds %d bytes", ErrTooManySegments, MaxSegmentedPayload)
	}
	if _, err := r.buf.Write(region); err != nil {
		return fmt.Errorf("write reassembly buffer: %w", err)
	}
	return nil
}
