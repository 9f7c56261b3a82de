// Package command defines the closed set of messages exchanged with the plotter.
//
// Each variant knows its wire name and how to serialize its payload.
// Parse performs the explicit decode step from a wire name and payload back
// into a variant.
package command

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire names of the supported messages.
const (
	NameAck          = "ack"
	NameGo           = "go"
	NameMotorsOn     = "motorsOn"
	NameMotorsOff    = "motorsOff"
	NameMoveToOrigin = "moveTowardsOrigin"
	NameSetOrigin    = "setOrigin"
	NameServo        = "servo"
)

// Servo pulse widths in microseconds for the two pen positions.
const (
	PenUpPulse   uint32 = 1000
	PenDownPulse uint32 = 1700
)

var (
	// ErrUnknownMessage is returned by Parse for names outside the message taxonomy.
	ErrUnknownMessage = errors.New("command: unknown message")

	// ErrInvalidPayload is returned by Parse when the payload length does not match the variant.
	ErrInvalidPayload = errors.New("command: invalid payload")
)

// Kind identifies a Command variant.
type Kind uint8

const (
	KindAck Kind = iota
	KindGo
	KindMotorsOn
	KindMotorsOff
	KindMoveToOrigin
	KindSetOrigin
	KindSetServo
)

var kindNames = [...]string{
	KindAck:          NameAck,
	KindGo:           NameGo,
	KindMotorsOn:     NameMotorsOn,
	KindMotorsOff:    NameMotorsOff,
	KindMoveToOrigin: NameMoveToOrigin,
	KindSetOrigin:    NameSetOrigin,
	KindSetServo:     NameServo,
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Command is one message of the protocol.
//
// The set of implementations is closed; use a type switch on the concrete
// variants or switch on Kind.
type Command interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Name returns the wire name.
	Name() string
	// Payload returns the little-endian wire payload.
	Payload() []byte

	command()
}

// Ack acknowledges a previously received command. Its payload is ignored.
type Ack struct{}

// Go moves the pen head to an absolute position.
type Go struct {
	X float32
	Y float32
}

// MotorsOn energizes the stepper motors.
type MotorsOn struct{}

// MotorsOff releases the stepper motors.
type MotorsOff struct{}

// MoveToOrigin homes the pen head towards the stored origin.
type MoveToOrigin struct{}

// SetOrigin stores the current position as the origin.
type SetOrigin struct{}

// SetServo drives the pen servo with a pulse width in microseconds.
type SetServo struct {
	Pulse uint32
}

// PenUp returns the servo command that lifts the pen.
func PenUp() SetServo { return SetServo{Pulse: PenUpPulse} }

// PenDown returns the servo command that lowers the pen.
func PenDown() SetServo { return SetServo{Pulse: PenDownPulse} }

func (Ack) Kind() Kind          { return KindAck }
func (Go) Kind() Kind           { return KindGo }
func (MotorsOn) Kind() Kind     { return KindMotorsOn }
func (MotorsOff) Kind() Kind    { return KindMotorsOff }
func (MoveToOrigin) Kind() Kind { return KindMoveToOrigin }
func (SetOrigin) Kind() Kind    { return KindSetOrigin }
func (SetServo) Kind() Kind     { return KindSetServo }

func (c Ack) Name() string          { return c.Kind().String() }
func (c Go) Name() string           { return c.Kind().String() }
func (c MotorsOn) Name() string     { return c.Kind().String() }
func (c MotorsOff) Name() string    { return c.Kind().String() }
func (c MoveToOrigin) Name() string { return c.Kind().String() }
func (c SetOrigin) Name() string    { return c.Kind().String() }
func (c SetServo) Name() string     { return c.Kind().String() }

func (Ack) Payload() []byte          { return nil }
func (MotorsOn) Payload() []byte     { return nil }
func (MotorsOff) Payload() []byte    { return nil }
func (MoveToOrigin) Payload() []byte { return nil }
func (SetOrigin) Payload() []byte    { return nil }

// Payload encodes X then Y as little-endian IEEE 754 single precision.
func (c Go) Payload() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(c.X))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(c.Y))

	return buf
}

// Payload encodes the pulse as a little-endian uint32.
func (c SetServo) Payload() []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, 4), c.Pulse)
}

func (Ack) command()          {}
func (Go) command()           {}
func (MotorsOn) command()     {}
func (MotorsOff) command()    {}
func (MoveToOrigin) command() {}
func (SetOrigin) command()    {}
func (SetServo) command()     {}

// String implements fmt.Stringer.
func (c Go) String() string { return fmt.Sprintf("go(%g, %g)", c.X, c.Y) }

// String implements fmt.Stringer.
func (c SetServo) String() string { return fmt.Sprintf("servo(%d)", c.Pulse) }

// Parse decodes a wire name and payload into a Command.
//
// The acknowledgement payload is ignored. Variants without a payload accept
// only an empty one.
func Parse(name string, payload []byte) (Command, error) {
	switch name {
	case NameAck:
		return Ack{}, nil
	case NameGo:
		if len(payload) != 8 {
			return nil, fmt.Errorf("%w: %s expects 8 bytes, got %d", ErrInvalidPayload, name, len(payload))
		}

		return Go{
			X: math.Float32frombits(binary.LittleEndian.Uint32(payload[0:4])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(payload[4:8])),
		}, nil
	case NameServo:
		if len(payload) != 4 {
			return nil, fmt.Errorf("%w: %s expects 4 bytes, got %d", ErrInvalidPayload, name, len(payload))
		}

		return SetServo{Pulse: binary.LittleEndian.Uint32(payload)}, nil
	case NameMotorsOn, NameMotorsOff, NameMoveToOrigin, NameSetOrigin:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: %s expects no payload, got %d bytes", ErrInvalidPayload, name, len(payload))
		}

		switch name {
		case NameMotorsOn:
			return MotorsOn{}, nil
		case NameMotorsOff:
			return MotorsOff{}, nil
		case NameMoveToOrigin:
			return MoveToOrigin{}, nil
		default:
			return SetOrigin{}, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
}
