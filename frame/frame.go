// Package frame implements the wire framing used between the host and the plotter.
//
// A message is first packed into a length-prefixed buffer:
//
//	[len(message)(1)][message][len(payload)(1)][payload][index(1)]
//
// The packed buffer is then passed through Consistent Overhead Byte Stuffing
// (COBS), which removes every 0x00 byte, and a single 0x00 Delimiter is
// appended. Because stuffing is applied after packing, payloads may carry
// arbitrary binary data including zero bytes.
//
// The package is pure framing: it never interprets the message name.
package frame

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxFieldLen is the maximum length in bytes of the message name and of the payload.
const MaxFieldLen = 255

// Delimiter terminates every encoded frame, in both directions.
const Delimiter byte = 0x00

const (
	// packOverhead is the two length prefixes plus the index byte.
	packOverhead = 3

	// MaxPackedLen is the longest possible packed (pre-stuffing) buffer.
	MaxPackedLen = packOverhead + 2*MaxFieldLen

	// MaxFrameLen is the longest possible encoded frame including the delimiter.
	MaxFrameLen = MaxPackedLen + MaxPackedLen/254 + 1 + 1
)

var (
	// ErrOversize is returned when the message name or payload exceeds MaxFieldLen.
	ErrOversize = errors.New("frame: field exceeds 255 bytes")

	// ErrMalformedFrame is returned when a frame cannot be unstuffed or unpacked.
	ErrMalformedFrame = errors.New("frame: malformed frame")
)

// Packet is the decoded content of one frame.
type Packet struct {
	Message string
	Payload []byte
	Index   uint8
}

// String returns a short description used in logs and errors.
func (p Packet) String() string {
	return fmt.Sprintf("%s[%d] % X", p.Message, p.Index, p.Payload)
}

// Validate checks the field length limits without packing.
func Validate(message string, payload []byte) error {
	if len(message) > MaxFieldLen {
		return fmt.Errorf("%w: message is %d bytes", ErrOversize, len(message))
	}
	if len(payload) > MaxFieldLen {
		return fmt.Errorf("%w: payload is %d bytes", ErrOversize, len(payload))
	}

	return nil
}

// Pack serializes message, payload and index into the length-prefixed layout.
//
// No partial buffer is returned on error.
func Pack(message string, payload []byte, index uint8) ([]byte, error) {
	if err := Validate(message, payload); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, packOverhead+len(message)+len(payload))
	buf = append(buf, byte(len(message)))
	buf = append(buf, message...)
	buf = append(buf, byte(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, index)

	return buf, nil
}

// Unpack parses a packed buffer.
//
// The buffer must hold exactly the two length-prefixed fields followed by the
// index byte, and the message must be valid UTF-8 text.
func Unpack(buf []byte) (Packet, error) {
	if len(buf) < packOverhead {
		return Packet{}, fmt.Errorf("%w: %d bytes is shorter than the fixed layout", ErrMalformedFrame, len(buf))
	}

	msgLen := int(buf[0])
	payloadLenPos := 1 + msgLen
	if len(buf) < payloadLenPos+2 {
		return Packet{}, fmt.Errorf("%w: message length %d overruns %d bytes", ErrMalformedFrame, msgLen, len(buf))
	}

	payloadLen := int(buf[payloadLenPos])
	indexPos := payloadLenPos + 1 + payloadLen
	switch {
	case len(buf) <= indexPos:
		return Packet{}, fmt.Errorf("%w: payload length %d overruns %d bytes", ErrMalformedFrame, payloadLen, len(buf))
	case len(buf) > indexPos+1:
		return Packet{}, fmt.Errorf("%w: %d trailing bytes after index", ErrMalformedFrame, len(buf)-indexPos-1)
	}

	msg := buf[1:payloadLenPos]
	if !utf8.Valid(msg) {
		return Packet{}, fmt.Errorf("%w: message is not valid text", ErrMalformedFrame)
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[payloadLenPos+1:indexPos])

	return Packet{
		Message: string(msg),
		Payload: payload,
		Index:   buf[indexPos],
	}, nil
}

// Encode packs and stuffs a message into a delimited wire frame.
func Encode(message string, payload []byte, index uint8) ([]byte, error) {
	packed, err := Pack(message, payload, index)
	if err != nil {
		return nil, err
	}

	wire := Stuff(packed)

	return append(wire, Delimiter), nil
}

// Decode reverses Encode. A single trailing Delimiter is stripped if present.
func Decode(wire []byte) (Packet, error) {
	if n := len(wire); n > 0 && wire[n-1] == Delimiter {
		wire = wire[:n-1]
	}

	packed, err := Unstuff(wire)
	if err != nil {
		return Packet{}, err
	}

	return Unpack(packed)
}
