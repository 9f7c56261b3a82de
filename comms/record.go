package comms

import (
	"bytes"
	"fmt"

	"github.com/blotkit/goblot/frame"
)

// State is the lifecycle state of a Record.
type State uint8

const (
	// StateQueued records wait in the queue for the next flush pass.
	StateQueued State = iota
	// StateSent records have been written to the device and hold a sequence index.
	StateSent
	// StateResolved records have been acknowledged by the device.
	StateResolved
	// StateReceived marks records materialized from inbound frames. They are never queued.
	StateReceived
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateSent:
		return "sent"
	case StateResolved:
		return "resolved"
	case StateReceived:
		return "received"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Record is one protocol message with its delivery state.
//
// Records handed to callers are value copies; only the driver mutates the
// queued original.
type Record struct {
	id       ID
	message  string
	payload  []byte
	index    uint8
	hasIndex bool
	state    State
}

// NewRecord creates a Queued record with a fresh identity.
//
// It returns frame.ErrOversize if message or payload is longer than
// frame.MaxFieldLen bytes. The payload is copied.
func NewRecord(message string, payload []byte) (*Record, error) {
	if err := frame.Validate(message, payload); err != nil {
		return nil, err
	}

	return &Record{
		id:      nextID(),
		message: message,
		payload: bytes.Clone(payload),
		state:   StateQueued,
	}, nil
}

func newReceivedRecord(pkt frame.Packet) Record {
	return Record{
		id:       nextID(),
		message:  pkt.Message,
		payload:  pkt.Payload,
		index:    pkt.Index,
		hasIndex: true,
		state:    StateReceived,
	}
}

// ID returns the record identity.
func (r Record) ID() ID { return r.id }

// Message returns the command name.
func (r Record) Message() string { return r.message }

// Payload returns a copy of the payload bytes.
func (r Record) Payload() []byte { return bytes.Clone(r.payload) }

// SequenceIndex returns the index assigned when the record was sent.
// ok is false while the record is still queued.
func (r Record) SequenceIndex() (index uint8, ok bool) { return r.index, r.hasIndex }

// State returns the lifecycle state.
func (r Record) State() State { return r.state }

func (r Record) String() string {
	if r.hasIndex {
		return fmt.Sprintf("%s#%d[%d] %s", r.message, r.id, r.index, r.state)
	}

	return fmt.Sprintf("%s#%d %s", r.message, r.id, r.state)
}
