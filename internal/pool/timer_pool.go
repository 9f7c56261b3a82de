// Package pool provides reusable timers for the bounded waits of the comms
// client, the driver's read backoff and the simulated device.
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// GetTimer returns a stopped-and-drained timer from the pool, reset to fire after d.
//
// Hand it back with PutTimer once the wait is over.
func GetTimer(d time.Duration) *time.Timer {
	v := timers.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t, _ := v.(*time.Timer)
	t.Reset(d)

	return t
}

// PutTimer stops t, drains a pending tick and returns it to the pool.
// The caller must not use t afterwards.
func PutTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timers.Put(t)
}
