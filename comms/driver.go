package comms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/blotkit/goblot/command"
	"github.com/blotkit/goblot/frame"
	"github.com/blotkit/goblot/internal/pool"
	"github.com/blotkit/goblot/logger"
	"github.com/blotkit/goblot/serialport"
)

// Port is the byte stream the driver exchanges frames over.
//
// Read must return (0, nil) when no data arrives within its timeout rather
// than blocking indefinitely.
type Port interface {
	io.Reader
	io.Writer
}

// Driver owns the port and runs the comms loop: it reads acknowledgements,
// resolves the matching records and transmits queued records.
//
// A Driver runs at most once. Any number of goroutines may submit through
// its Client while it runs.
type Driver struct {
	cfg     *Config
	logger  logger.Logger
	queue   *Queue
	waiters *xsync.MapOf[ID, chan Record]
	metrics DriverMetrics
	client  *Client

	started atomic.Bool
	done    chan struct{}
	errMu   sync.RWMutex
	err     error

	// loop-owned state
	lastIndex uint8
	pending   []byte
	readBuf   []byte
}

// NewDriver creates a driver. A nil cfg uses the defaults of NewConfig.
func NewDriver(cfg *Config) *Driver {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	d := &Driver{
		cfg:     cfg,
		logger:  cfg.GetLogger(),
		queue:   NewQueue(cfg.QueueSize()),
		waiters: xsync.NewMapOf[ID, chan Record](),
		done:    make(chan struct{}),
		pending: make([]byte, 0, frame.MaxFrameLen),
		readBuf: make([]byte, 256),
	}
	d.client = &Client{d: d}

	return d
}

// Client returns the request/ack client bound to this driver.
func (d *Driver) Client() *Client { return d.client }

// Queue returns the driver's command queue.
func (d *Driver) Queue() *Queue { return d.queue }

// Metrics returns the driver's live metrics.
func (d *Driver) Metrics() *DriverMetrics { return &d.metrics }

// Done is closed when the driver loop has exited.
func (d *Driver) Done() <-chan struct{} { return d.done }

// Err returns why the loop exited, or nil while it has not.
func (d *Driver) Err() error {
	d.errMu.RLock()
	defer d.errMu.RUnlock()

	return d.err
}

// RunPort opens the named port with the configured opener, runs the loop on
// it and closes it when the loop exits.
func (d *Driver) RunPort(ctx context.Context, name string) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrDriverStarted
	}

	port, err := d.cfg.opener(serialport.Config{
		Path:        name,
		BaudRate:    d.cfg.BaudRate(),
		ReadTimeout: d.cfg.ReadTimeout(),
	})
	if err != nil {
		return d.stop(fmt.Errorf("comms: open port %q: %w", name, err))
	}
	defer func() {
		if cerr := port.Close(); cerr != nil {
			d.logger.Debug("comms: failed to close port", "port", name, "error", cerr)
		}
	}()

	d.logger.Info("comms: port opened", "port", name, "baud", d.cfg.BaudRate())

	return d.loop(ctx, port)
}

// Run runs the loop on port until ctx is done or a fatal error occurs.
//
// The returned error always wraps ErrDriverStopped together with ctx.Err(),
// an *UnexpectedMessageError or ErrTransmit.
func (d *Driver) Run(ctx context.Context, port Port) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrDriverStarted
	}

	return d.loop(ctx, port)
}

func (d *Driver) loop(ctx context.Context, port Port) error {
	d.logger.Debug("comms: driver loop started", "queueSize", d.queue.Cap())

	for {
		if err := ctx.Err(); err != nil {
			return d.stop(err)
		}

		pkt, ok := d.readFrame(ctx, port)
		if ok {
			if err := d.handleInbound(pkt); err != nil {
				return d.stop(err)
			}
		} else if err := d.flush(port); err != nil {
			return d.stop(err)
		}

		runtime.Gosched()
	}
}

// stop publishes the loop failure and releases every waiter.
func (d *Driver) stop(cause error) error {
	err := fmt.Errorf("%w: %w", ErrDriverStopped, cause)

	d.errMu.Lock()
	d.err = err
	d.errMu.Unlock()
	close(d.done)

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		d.logger.Info("comms: driver stopped", "reason", cause)
	} else {
		d.logger.Error("comms: driver stopped", "error", cause)
	}

	return err
}

// readFrame returns the next complete inbound frame. ok is false when no
// frame is available in this iteration.
func (d *Driver) readFrame(ctx context.Context, port io.Reader) (pkt frame.Packet, ok bool) {
	for {
		if raw, found := d.nextBuffered(); found {
			return d.decodeFrame(raw)
		}

		if len(d.pending) > frame.MaxFrameLen {
			d.logger.Debug("comms: discarding undelimited input", "bytes", len(d.pending))
			d.metrics.incMalformedFrames()
			d.pending = d.pending[:0]

			return frame.Packet{}, false
		}

		n, err := port.Read(d.readBuf)
		if n > 0 {
			d.pending = append(d.pending, d.readBuf[:n]...)
		}
		if err != nil {
			d.metrics.incReadErrors()
			d.logger.Debug("comms: port read failed", "error", err)
			if raw, found := d.nextBuffered(); found {
				return d.decodeFrame(raw)
			}
			d.backoff(ctx)

			return frame.Packet{}, false
		}
		if n == 0 {
			return frame.Packet{}, false
		}
	}
}

// nextBuffered pops the next delimited frame from the reassembly buffer.
// Empty frames between consecutive delimiters are skipped.
func (d *Driver) nextBuffered() ([]byte, bool) {
	for {
		i := bytes.IndexByte(d.pending, frame.Delimiter)
		if i < 0 {
			return nil, false
		}

		raw := bytes.Clone(d.pending[:i])
		n := copy(d.pending, d.pending[i+1:])
		d.pending = d.pending[:n]

		if len(raw) > 0 {
			return raw, true
		}
	}
}

func (d *Driver) decodeFrame(raw []byte) (frame.Packet, bool) {
	pkt, err := frame.Decode(raw)
	if err != nil {
		d.metrics.incMalformedFrames()
		d.logger.Debug("comms: discarding malformed frame", "error", err, "frame", fmt.Sprintf("% X", raw))

		return frame.Packet{}, false
	}
	d.metrics.incFramesRecv()

	return pkt, true
}

// backoff waits one poll interval after a failed read.
func (d *Driver) backoff(ctx context.Context) {
	timer := pool.GetTimer(d.cfg.PollInterval())
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (d *Driver) handleInbound(pkt frame.Packet) error {
	rec := newReceivedRecord(pkt)

	cmd, err := command.Parse(rec.message, rec.payload)
	if err != nil || cmd.Kind() != command.KindAck {
		return &UnexpectedMessageError{Message: rec.message, Index: rec.index, Payload: rec.Payload()}
	}

	resolved, ok := d.queue.Resolve(rec.index)
	if !ok {
		d.metrics.incAcksUnmatched()
		d.logger.Warn("comms: ack has no matching sent record", "index", rec.index)

		return nil
	}

	d.metrics.incAcksMatched()
	d.metrics.addInflight(-1)
	d.logger.Debug("comms: record resolved", "id", resolved.id, "message", resolved.message, "index", resolved.index)
	d.notify(resolved)

	return nil
}

type outbound struct {
	id      ID
	index   uint8
	message string
	wire    []byte
	reused  bool
}

// flush transmits every Queued record, oldest first.
//
// Indices are assigned and frames encoded under the queue lock; the writes
// happen after it is released and the records are marked Sent afterwards.
func (d *Driver) flush(port io.Writer) error {
	var held [IndexSpace]bool
	d.queue.Update(func(r *Record) bool {
		if r.state == StateSent && r.hasIndex {
			held[r.index%IndexSpace] = true
		}

		return true
	})

	var (
		batch  []outbound
		encErr error
	)
	d.queue.Update(func(r *Record) bool {
		if r.state != StateQueued {
			return true
		}

		idx := d.nextIndex()
		wire, err := frame.Encode(r.message, r.payload, idx)
		if err != nil {
			encErr = fmt.Errorf("comms: encode %s: %w", r, err)
			return false
		}
		batch = append(batch, outbound{id: r.id, index: idx, message: r.message, wire: wire, reused: held[idx]})
		held[idx] = true

		return true
	})
	if encErr != nil {
		return encErr
	}
	if len(batch) == 0 {
		return nil
	}

	for i, o := range batch {
		if o.reused {
			d.logger.Warn("comms: sequence index reused while still awaiting ack", "index", o.index, "id", o.id)
		}
		if err := writeFull(port, o.wire); err != nil {
			d.markSent(batch[:i])
			return fmt.Errorf("%w: %s to index %d: %w", ErrTransmit, o.message, o.index, err)
		}
		d.metrics.incFramesSent()
		d.logger.Debug("comms: frame sent", "id", o.id, "message", o.message, "index", o.index)
	}
	d.markSent(batch)

	return nil
}

func (d *Driver) markSent(batch []outbound) {
	if len(batch) == 0 {
		return
	}

	sent := make(map[ID]uint8, len(batch))
	for _, o := range batch {
		sent[o.id] = o.index
	}

	var marked int64
	d.queue.Update(func(r *Record) bool {
		idx, ok := sent[r.id]
		if ok && r.state == StateQueued {
			r.index = idx
			r.hasIndex = true
			r.state = StateSent
			marked++
		}

		return true
	})
	d.metrics.addInflight(marked)
}

// nextIndex advances the index cursor cyclically; the first index is 1.
// The cursor keeps its own position instead of deriving it from the records
// in the queue, so after wrapping 8 -> 0 the next index is 1, not 0 again.
func (d *Driver) nextIndex() uint8 {
	d.lastIndex = (d.lastIndex + 1) % IndexSpace
	return d.lastIndex
}

// notify hands the final state of rec to its waiter. Only the first
// notification is kept.
func (d *Driver) notify(rec Record) {
	ch, ok := d.waiters.Load(rec.id)
	if !ok {
		return
	}

	select {
	case ch <- rec:
	default:
	}
}

// evicted accounts for a record overwritten by Push.
func (d *Driver) evicted(rec Record) {
	d.metrics.incEvictions()
	if rec.state == StateSent {
		d.metrics.addInflight(-1)
	}
	d.logger.Warn("comms: queue full, oldest record overwritten", "id", rec.id, "message", rec.message, "state", rec.state.String())
	d.notify(rec)
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}

	return nil
}
