package comms

import (
	"errors"
	"fmt"
)

var (
	// ErrDriverStopped wraps the reason the driver loop exited. Every waiting
	// Submit returns it once the loop is gone.
	ErrDriverStopped = errors.New("comms: driver stopped")

	// ErrDriverStarted is returned when Run or RunPort is called more than once.
	ErrDriverStarted = errors.New("comms: driver already started")

	// ErrTransmit indicates that a frame could not be written to the port.
	ErrTransmit = errors.New("comms: transmission failed")

	// ErrAckTimeout is returned by Submit when the configured ack timeout elapses.
	ErrAckTimeout = errors.New("comms: timed out waiting for ack")

	// ErrRecordEvicted is returned by Submit when the record was overwritten
	// in the queue before its acknowledgement arrived.
	ErrRecordEvicted = errors.New("comms: record evicted from queue")
)

// UnexpectedMessageError is the fatal error raised when the device sends a
// message other than an acknowledgement.
type UnexpectedMessageError struct {
	Message string
	Index   uint8
	Payload []byte
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("comms: unexpected message %q (index %d, payload % X)", e.Message, e.Index, e.Payload)
}
