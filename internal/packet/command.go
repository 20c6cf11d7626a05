package packet

import (
	"fmt"
)

// Command prefixes used by the peripheral's single-frame command set.
const (
	ReadPrefix  byte = 0xAA // query a value; the peer answers with the same prefix
	WritePrefix byte = 0x33 // set a value; the peer acknowledges with the same prefix
)

// Response is a decoded single-frame reply.
type Response struct {
	Prefix byte
	Code   byte
	Args   []byte // bytes after the code, padding included
}

// IsRead reports whether the reply answers a read command.
func (r Response) IsRead() bool { return r.Prefix == ReadPrefix }

// IsWrite reports whether the reply acknowledges a write command.
func (r Response) IsWrite() bool { return r.Prefix == WritePrefix }

// ReadCommand builds a read command frame for the given code.
func ReadCommand(code byte, args ...byte) (Frame, error) {
	return command(ReadPrefix, code, args)
}

// WriteCommand builds a write command frame for the given code.
func WriteCommand(code byte, args ...byte) (Frame, error) {
	return command(WritePrefix, code, args)
}

func command(prefix, code byte, args []byte) (Frame, error) {
	payload := make([]byte, 0, 2+len(args))
	payload = append(payload, prefix, code)
	payload = append(payload, args...)
	return BuildFrame(payload, DefaultFrameLength)
}

// ParseResponse validates a notification frame and splits it into prefix, code and arguments.
func ParseResponse(b []byte) (Response, error) {
	if !ValidateFrame(b, DefaultFrameLength) {
		return Response{}, fmt.Errorf("%w: % x", ErrInvalidFrame, b)
	}
	args := make([]byte, DefaultFrameLength-3)
	copy(args, b[2:DefaultFrameLength-1])
	return Response{Prefix: b[0], Code: b[1], Args: args}, nil
}
