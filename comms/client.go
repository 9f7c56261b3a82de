package comms

import (
	"context"
	"fmt"
	"time"

	"github.com/blotkit/goblot/command"
	"github.com/blotkit/goblot/internal/pool"
)

// Client submits commands to a Driver and waits for their acknowledgement.
// It is safe for concurrent use.
type Client struct {
	d *Driver
}

// Submit enqueues message with payload and blocks until the device
// acknowledges it.
//
// Construction errors such as frame.ErrOversize are returned immediately and
// nothing is enqueued. Otherwise Submit returns the Resolved record, or an
// error when ctx is done, the ack timeout elapses (ErrAckTimeout), the record
// is overwritten in the queue (ErrRecordEvicted) or the driver loop exits
// (ErrDriverStopped). A record whose wait ended early stays queued and may
// still be transmitted.
func (c *Client) Submit(ctx context.Context, message string, payload []byte) (Record, error) {
	rec, err := NewRecord(message, payload)
	if err != nil {
		return Record{}, err
	}

	select {
	case <-c.d.done:
		return Record{}, c.d.Err()
	default:
	}

	id := rec.id
	final := make(chan Record, 1)
	c.d.waiters.Store(id, final)
	defer c.d.waiters.Delete(id)

	if old, ok := c.d.queue.Push(rec); ok {
		c.d.evicted(old)
	}
	c.d.logger.Debug("comms: record queued", "id", id, "message", message)

	return c.wait(ctx, id, final)
}

// Send submits a typed command.
func (c *Client) Send(ctx context.Context, cmd command.Command) (Record, error) {
	return c.Submit(ctx, cmd.Name(), cmd.Payload())
}

// wait blocks until the record with id is resolved or the wait fails.
//
// final receives the record's last state from the driver when it is resolved
// or overwritten. A record leaves the queue only through an overwriting Push,
// which always reports it, so a record missing from the queue is settled by
// what arrives on final.
func (c *Client) wait(ctx context.Context, id ID, final <-chan Record) (Record, error) {
	ticker := time.NewTicker(c.d.cfg.PollInterval())
	defer ticker.Stop()
	poll := ticker.C

	var deadline <-chan time.Time
	if d := c.d.cfg.AckTimeout(); d > 0 {
		timer := pool.GetTimer(d)
		defer pool.PutTimer(timer)
		deadline = timer.C
	}

	for {
		rec, ok := c.d.queue.FindByID(id)
		switch {
		case !ok:
			poll = nil
		case rec.state == StateResolved:
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()

		case <-c.d.done:
			// the ack may have been processed just before the loop exited
			if rec, ok := c.d.queue.FindByID(id); ok && rec.state == StateResolved {
				return rec, nil
			}
			select {
			case rec := <-final:
				if rec.state == StateResolved {
					return rec, nil
				}
			default:
			}

			return Record{}, c.d.Err()

		case <-deadline:
			return Record{}, fmt.Errorf("%w: record %d after %v", ErrAckTimeout, id, c.d.cfg.AckTimeout())

		case rec := <-final:
			if rec.state != StateResolved {
				return Record{}, fmt.Errorf("%w: record %d", ErrRecordEvicted, id)
			}

			return rec, nil

		case <-poll:
		}
	}
}
