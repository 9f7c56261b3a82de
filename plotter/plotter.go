// Package plotter is a typed facade over the comms client. It clamps target
// coordinates to the drawable area and tracks the last acknowledged pen
// position and state.
package plotter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blotkit/goblot/command"
	"github.com/blotkit/goblot/comms"
	"github.com/blotkit/goblot/logger"
)

const (
	// DefaultMax is the upper bound of both axes in millimetres.
	DefaultMax float32 = 125
	// DefaultStep is the distance of one relative move.
	DefaultStep float32 = 5
)

// ErrInvalidStep is returned by SetStep for steps outside (0, max).
var ErrInvalidStep = errors.New("plotter: step out of range")

// Submitter sends a command and waits for its acknowledgement.
// *comms.Client implements it.
type Submitter interface {
	Send(ctx context.Context, cmd command.Command) (comms.Record, error)
}

// Direction is a relative move direction.
type Direction int

const (
	Forward Direction = iota // +y
	Back                     // -y
	Left                     // -x
	Right                    // +x
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forwards"
	case Back:
		return "backwards"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// PenState is the pen position.
type PenState int

const (
	PenUp PenState = iota
	PenDown
)

func (p PenState) String() string {
	if p == PenDown {
		return "DOWN"
	}

	return "UP"
}

// Position is a point on the drawable area.
type Position struct {
	X float32
	Y float32
}

func (p Position) String() string { return fmt.Sprintf("(%g, %g)", p.X, p.Y) }

// Option configures a Plotter.
type Option func(*Plotter) error

// WithBounds sets the upper bound of each axis.
func WithBounds(maxX, maxY float32) Option {
	return func(p *Plotter) error {
		if maxX <= 0 || maxY <= 0 {
			return fmt.Errorf("plotter: bounds (%g, %g) must be positive", maxX, maxY)
		}
		p.maxX, p.maxY = maxX, maxY

		return nil
	}
}

// WithStep sets the initial relative move distance.
func WithStep(step float32) Option {
	return func(p *Plotter) error {
		p.step = step
		return nil
	}
}

// WithPenPulses sets the servo pulse widths for pen up and pen down.
func WithPenPulses(up, down uint32) Option {
	return func(p *Plotter) error {
		if up == 0 || down == 0 || up == down {
			return fmt.Errorf("plotter: invalid pen pulses up=%d down=%d", up, down)
		}
		p.penUpPulse, p.penDownPulse = up, down

		return nil
	}
}

// WithLogger sets the plotter logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Plotter) error {
		if l == nil {
			return errors.New("plotter: logger must not be nil")
		}
		p.logger = l

		return nil
	}
}

// Plotter drives one device through a Submitter. It is safe for concurrent
// use; tracked state changes only after the device acknowledges a command.
type Plotter struct {
	sub          Submitter
	logger       logger.Logger
	maxX, maxY   float32
	penUpPulse   uint32
	penDownPulse uint32

	mu     sync.Mutex
	pos    Position
	origin Position
	pen    PenState
	step   float32
}

// New creates a Plotter sending through sub.
func New(sub Submitter, opts ...Option) (*Plotter, error) {
	p := &Plotter{
		sub:          sub,
		logger:       logger.GetLogger(),
		maxX:         DefaultMax,
		maxY:         DefaultMax,
		penUpPulse:   command.PenUpPulse,
		penDownPulse: command.PenDownPulse,
		step:         DefaultStep,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if err := p.validStep(p.step); err != nil {
		return nil, err
	}

	return p, nil
}

// Clamp limits pos to the drawable area.
func (p *Plotter) Clamp(pos Position) Position {
	return Position{X: clamp(pos.X, p.maxX), Y: clamp(pos.Y, p.maxY)}
}

func clamp(v, hi float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > hi:
		return hi
	default:
		return v
	}
}

// Initialize lifts the pen, energizes the motors and moves to (0, 0).
func (p *Plotter) Initialize(ctx context.Context) error {
	if err := p.PenUp(ctx); err != nil {
		return err
	}
	if err := p.MotorsOn(ctx); err != nil {
		return err
	}
	_, err := p.GoTo(ctx, 0, 0)

	return err
}

// GoTo moves to (x, y) after clamping and returns the target actually sent.
func (p *Plotter) GoTo(ctx context.Context, x, y float32) (Position, error) {
	target := p.Clamp(Position{X: x, Y: y})
	if _, err := p.sub.Send(ctx, command.Go{X: target.X, Y: target.Y}); err != nil {
		return target, err
	}

	p.mu.Lock()
	p.pos = target
	p.mu.Unlock()
	p.logger.Debug("plotter: moved", "x", target.X, "y", target.Y)

	return target, nil
}

// Target returns the clamped destination of one step in dir from the current position.
func (p *Plotter) Target(dir Direction) Position {
	p.mu.Lock()
	pos, step := p.pos, p.step
	p.mu.Unlock()

	switch dir {
	case Forward:
		pos.Y += step
	case Back:
		pos.Y -= step
	case Left:
		pos.X -= step
	case Right:
		pos.X += step
	}

	return p.Clamp(pos)
}

// Move moves one step in dir.
func (p *Plotter) Move(ctx context.Context, dir Direction) (Position, error) {
	target := p.Target(dir)

	return p.GoTo(ctx, target.X, target.Y)
}

// MotorsOn energizes the stepper motors.
func (p *Plotter) MotorsOn(ctx context.Context) error {
	_, err := p.sub.Send(ctx, command.MotorsOn{})
	return err
}

// MotorsOff releases the stepper motors.
func (p *Plotter) MotorsOff(ctx context.Context) error {
	_, err := p.sub.Send(ctx, command.MotorsOff{})
	return err
}

// SetOrigin stores the current position as the origin.
func (p *Plotter) SetOrigin(ctx context.Context) error {
	if _, err := p.sub.Send(ctx, command.SetOrigin{}); err != nil {
		return err
	}

	p.mu.Lock()
	p.origin = p.pos
	p.mu.Unlock()

	return nil
}

// MoveToOrigin moves towards the stored origin.
func (p *Plotter) MoveToOrigin(ctx context.Context) error {
	if _, err := p.sub.Send(ctx, command.MoveToOrigin{}); err != nil {
		return err
	}

	p.mu.Lock()
	p.pos = p.origin
	p.mu.Unlock()

	return nil
}

// PenUp lifts the pen.
func (p *Plotter) PenUp(ctx context.Context) error {
	return p.setPen(ctx, PenUp)
}

// PenDown lowers the pen.
func (p *Plotter) PenDown(ctx context.Context) error {
	return p.setPen(ctx, PenDown)
}

func (p *Plotter) setPen(ctx context.Context, state PenState) error {
	pulse := p.penUpPulse
	if state == PenDown {
		pulse = p.penDownPulse
	}
	if _, err := p.sub.Send(ctx, command.SetServo{Pulse: pulse}); err != nil {
		return err
	}

	p.mu.Lock()
	p.pen = state
	p.mu.Unlock()

	return nil
}

// Position returns the last acknowledged position.
func (p *Plotter) Position() Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pos
}

// Pen returns the last acknowledged pen state.
func (p *Plotter) Pen() PenState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pen
}

// Step returns the relative move distance.
func (p *Plotter) Step() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.step
}

// SetStep changes the relative move distance. It must satisfy 0 < step < max,
// where max is the smaller axis bound.
func (p *Plotter) SetStep(step float32) error {
	if err := p.validStep(step); err != nil {
		return err
	}

	p.mu.Lock()
	p.step = step
	p.mu.Unlock()

	return nil
}

func (p *Plotter) validStep(step float32) error {
	limit := min(p.maxX, p.maxY)
	if step <= 0 || step >= limit {
		return fmt.Errorf("%w: %g not in (0, %g)", ErrInvalidStep, step, limit)
	}

	return nil
}
