package comms

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blotkit/goblot/command"
	"github.com/blotkit/goblot/devicesim"
	"github.com/blotkit/goblot/frame"
)

func TestClient_SendGo(t *testing.T) {
	d := newTestDriver(t)
	dev := devicesim.New()
	startDriver(t, d, dev)

	rec, err := d.Client().Send(context.Background(), command.Go{X: 12.5, Y: -3.0})
	require.NoError(t, err)
	assert.Equal(t, StateResolved, rec.State())
	assert.Equal(t, "go", rec.Message())

	received := dev.Received()
	require.Len(t, received, 1)
	got, err := command.Parse(received[0].Message, received[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, command.Go{X: 12.5, Y: -3.0}, got)

	state := dev.State()
	assert.Equal(t, float32(12.5), state.X)
	assert.Equal(t, float32(-3.0), state.Y)
}

func TestClient_Oversize(t *testing.T) {
	d := newTestDriver(t)

	_, err := d.Client().Submit(context.Background(), strings.Repeat("m", 256), nil)
	require.ErrorIs(t, err, frame.ErrOversize)
	assert.Zero(t, d.queue.Len())
}

func TestClient_AckTimeout(t *testing.T) {
	d := newTestDriver(t, WithAckTimeout(50*time.Millisecond))
	dev := devicesim.New(devicesim.WithManualAck())
	startDriver(t, d, dev)

	start := time.Now()
	_, err := d.Client().Submit(context.Background(), "motorsOn", nil)
	require.ErrorIs(t, err, ErrAckTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// the record was transmitted and still waits for its ack
	assert.Len(t, dev.Received(), 1)
	assert.Equal(t, 1, d.queue.Count(StateSent))
}

func TestClient_ContextCanceled(t *testing.T) {
	d := newTestDriver(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// no driver is running, so the record is never sent
	_, err := d.Client().Submit(ctx, "motorsOn", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, d.queue.Count(StateQueued))
}

func TestClient_Evicted(t *testing.T) {
	d := newTestDriver(t, WithQueueSize(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make([]chan error, 3)
	for i := range errs {
		errs[i] = make(chan error, 1)
		go func(ch chan error) {
			_, err := d.Client().Submit(ctx, "motorsOn", nil)
			ch <- err
		}(errs[i])

		want := min(i+1, 2)
		require.Eventually(t, func() bool {
			return d.queue.Len() == want && d.Metrics().Evictions.Load() == uint64(i+1-want)
		}, time.Second, time.Millisecond)
	}

	select {
	case err := <-errs[0]:
		require.ErrorIs(t, err, ErrRecordEvicted)
	case <-time.After(time.Second):
		t.Fatal("evicted submit was not released")
	}
	assert.EqualValues(t, 1, d.Metrics().Evictions.Load())

	cancel()
	require.ErrorIs(t, <-errs[1], context.Canceled)
	require.ErrorIs(t, <-errs[2], context.Canceled)
}

func TestClient_ConcurrentSubmits(t *testing.T) {
	d := newTestDriver(t)
	dev := devicesim.New()
	startDriver(t, d, dev)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Client().Send(context.Background(), command.Go{X: float32(i), Y: float32(i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, dev.Received(), n)
	assert.EqualValues(t, n, d.Metrics().AcksMatched.Load())
	assert.Zero(t, d.Metrics().Inflight.Load())
	assert.Zero(t, d.Metrics().AcksUnmatched.Load())
}

func TestClient_SequentialSubmitsWrapIndices(t *testing.T) {
	d := newTestDriver(t)
	dev := devicesim.New()
	startDriver(t, d, dev)

	for i := 0; i < 12; i++ {
		_, err := d.Client().Send(context.Background(), command.PenUp())
		require.NoError(t, err)
	}

	var got []uint8
	for _, p := range dev.Received() {
		got = append(got, p.Index)
	}
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6, 7, 8, 0, 1, 2, 3}, got)
	assert.EqualValues(t, 2, d.Metrics().Evictions.Load())
}

func TestClient_ResolvedThenOverwritten(t *testing.T) {
	d := newTestDriver(t)

	rec, err := NewRecord("motorsOn", nil)
	require.NoError(t, err)
	final := make(chan Record, 1)
	d.waiters.Store(rec.id, final)
	d.queue.Push(rec)

	port := &fakePort{}
	require.NoError(t, d.flush(port))
	require.NoError(t, d.handleInbound(frame.Packet{Message: "ack", Index: 1}))
	require.EqualValues(t, 1, d.Metrics().AcksMatched.Load())

	// the acknowledged record is overwritten before its waiter looks
	for _, id := range pushRecords(t, d.queue, DefaultQueueSize) {
		require.NotEqual(t, rec.id, id)
	}
	_, ok := d.queue.FindByID(rec.id)
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := d.Client().wait(ctx, rec.id, final)
	require.NoError(t, err)
	assert.Equal(t, rec.id, got.ID())
	assert.Equal(t, StateResolved, got.State())
	assert.Equal(t, uint8(1), got.index)
}

func TestClient_UnresolvedThenOverwritten(t *testing.T) {
	d := newTestDriver(t, WithQueueSize(1))

	rec, err := NewRecord("motorsOn", nil)
	require.NoError(t, err)
	final := make(chan Record, 1)
	d.waiters.Store(rec.id, final)
	d.queue.Push(rec)

	next, err := NewRecord("motorsOff", nil)
	require.NoError(t, err)
	old, ok := d.queue.Push(next)
	require.True(t, ok)
	d.evicted(old)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = d.Client().wait(ctx, rec.id, final)
	require.ErrorIs(t, err, ErrRecordEvicted)
}
