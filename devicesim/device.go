// Package devicesim provides an in-memory plotter that speaks the device side
// of the framed protocol.
//
// A Device satisfies the port contract of comms.Driver: Write accepts
// delimited frames from the host and Read returns the device's replies,
// yielding zero bytes when nothing arrives within the read timeout. Decoded
// commands are applied to a simulated position, pen and motor state.
package devicesim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/blotkit/goblot/command"
	"github.com/blotkit/goblot/frame"
	"github.com/blotkit/goblot/internal/pool"
	"github.com/blotkit/goblot/logger"
)

// DefaultReadTimeout is how long Read waits for a reply before returning zero bytes.
const DefaultReadTimeout = 10 * time.Millisecond

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("devicesim: device closed")

// State is the simulated machine state.
type State struct {
	X        float32
	Y        float32
	OriginX  float32
	OriginY  float32
	MotorsOn bool
	Servo    uint32
}

// PenDown reports whether the servo holds the pen on the paper.
func (s State) PenDown() bool { return s.Servo == command.PenDownPulse }

// Option configures a Device.
type Option func(*Device)

// WithReadTimeout sets how long Read blocks when no reply is pending.
func WithReadTimeout(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.readTimeout = d
		}
	}
}

// WithManualAck disables automatic acknowledgements; call Ack instead.
func WithManualAck() Option {
	return func(dev *Device) { dev.autoAck = false }
}

// WithLogger sets the device logger.
func WithLogger(l logger.Logger) Option {
	return func(dev *Device) {
		if l != nil {
			dev.logger = l
		}
	}
}

// Device is a simulated plotter.
type Device struct {
	readTimeout time.Duration
	autoAck     bool
	logger      logger.Logger

	mu       sync.Mutex
	inbound  []byte // partial frame from the host
	outbound []byte // replies not yet read by the host
	received []frame.Packet
	state    State
	writeErr error
	closed   bool

	notify  chan struct{}
	closeCh chan struct{}
}

// New creates a Device that acknowledges every frame it receives.
func New(opts ...Option) *Device {
	dev := &Device{
		readTimeout: DefaultReadTimeout,
		autoAck:     true,
		logger:      logger.GetLogger(),
		notify:      make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(dev)
	}

	return dev
}

// Read copies pending reply bytes into p. It waits up to the read timeout
// and returns (0, nil) if none arrive. After Close it returns io.EOF.
func (dev *Device) Read(p []byte) (int, error) {
	if n, ok, err := dev.drain(p); ok {
		return n, err
	}

	timer := pool.GetTimer(dev.readTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-dev.notify:
	case <-dev.closeCh:
	case <-timer.C:
	}

	n, _, err := dev.drain(p)

	return n, err
}

func (dev *Device) drain(p []byte) (n int, ok bool, err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if len(dev.outbound) > 0 {
		n = copy(p, dev.outbound)
		dev.outbound = dev.outbound[n:]

		return n, true, nil
	}
	if dev.closed {
		return 0, true, io.EOF
	}

	return 0, false, nil
}

// Write accepts bytes from the host. Every complete frame is decoded,
// recorded and applied; malformed frames are logged and dropped.
func (dev *Device) Write(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return 0, ErrClosed
	}
	if dev.writeErr != nil {
		return 0, dev.writeErr
	}

	dev.inbound = append(dev.inbound, p...)
	for {
		i := bytes.IndexByte(dev.inbound, frame.Delimiter)
		if i < 0 {
			break
		}
		raw := bytes.Clone(dev.inbound[:i])
		dev.inbound = dev.inbound[i+1:]
		if len(raw) == 0 {
			continue
		}

		pkt, err := frame.Decode(raw)
		if err != nil {
			dev.logger.Debug("devicesim: dropping malformed frame", "error", err)
			continue
		}
		dev.received = append(dev.received, pkt)
		dev.apply(pkt)

		if dev.autoAck {
			dev.queueAckLocked(pkt.Index)
		}
	}

	return len(p), nil
}

func (dev *Device) apply(pkt frame.Packet) {
	cmd, err := command.Parse(pkt.Message, pkt.Payload)
	if err != nil {
		dev.logger.Warn("devicesim: ignoring command", "message", pkt.Message, "error", err)
		return
	}

	switch c := cmd.(type) {
	case command.Go:
		dev.state.X, dev.state.Y = c.X, c.Y
	case command.MotorsOn:
		dev.state.MotorsOn = true
	case command.MotorsOff:
		dev.state.MotorsOn = false
	case command.SetServo:
		dev.state.Servo = c.Pulse
	case command.SetOrigin:
		dev.state.OriginX, dev.state.OriginY = dev.state.X, dev.state.Y
	case command.MoveToOrigin:
		dev.state.X, dev.state.Y = dev.state.OriginX, dev.state.OriginY
	case command.Ack:
	}
	dev.logger.Debug("devicesim: applied command", "command", fmt.Sprint(cmd), "index", pkt.Index)
}

func (dev *Device) queueAckLocked(index uint8) {
	wire, _ := frame.Encode(command.NameAck, nil, index)
	dev.outbound = append(dev.outbound, wire...)
	dev.signal()
}

func (dev *Device) signal() {
	select {
	case dev.notify <- struct{}{}:
	default:
	}
}

// Ack queues an acknowledgement for index. Use it with WithManualAck.
func (dev *Device) Ack(index uint8) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.queueAckLocked(index)
}

// Send queues an arbitrary framed message to the host.
func (dev *Device) Send(message string, payload []byte, index uint8) error {
	wire, err := frame.Encode(message, payload, index)
	if err != nil {
		return err
	}
	dev.Inject(wire)

	return nil
}

// Inject queues raw bytes to the host unchanged.
func (dev *Device) Inject(raw []byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.outbound = append(dev.outbound, raw...)
	dev.signal()
}

// FailWrites makes every following Write return err. A nil err restores writes.
func (dev *Device) FailWrites(err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.writeErr = err
}

// Received returns the packets decoded so far, oldest first.
func (dev *Device) Received() []frame.Packet {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	out := make([]frame.Packet, len(dev.received))
	copy(out, dev.received)

	return out
}

// State returns the current machine state.
func (dev *Device) State() State {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.state
}

// Close stops the device. Pending replies can still be read.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.closed {
		dev.closed = true
		close(dev.closeCh)
	}

	return nil
}
