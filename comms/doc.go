// Package comms implements the request/acknowledge protocol spoken with the
// plotter over a single serial link.
//
// A Client enqueues Records into a bounded Queue of DefaultQueueSize entries.
// One goroutine runs Driver.Run (or Driver.RunPort), which owns the port: it
// reads inbound frames, resolves the Sent record whose sequence index matches
// each acknowledgement, and transmits Queued records with the next sequence
// index. Indices cycle through [0, IndexSpace).
//
// Usage:
//
//	cfg, err := comms.NewConfig(comms.WithAckTimeout(5 * time.Second))
//	if err != nil {
//		// handle error
//	}
//
//	drv := comms.NewDriver(cfg)
//	go func() {
//		if err := drv.RunPort(ctx, "/dev/ttyACM0"); err != nil {
//			// handle error
//		}
//	}()
//
//	rec, err := drv.Client().Send(ctx, command.MotorsOn{})
//
// The queue overwrites its oldest record when full, whatever its state; a
// Submit waiting on an overwritten record returns ErrRecordEvicted.
// Any message from the device other than an acknowledgement stops the driver
// with an *UnexpectedMessageError, and every waiting Submit returns the
// driver's error.
package comms
