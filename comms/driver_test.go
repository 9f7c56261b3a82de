package comms

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blotkit/goblot/command"
	"github.com/blotkit/goblot/devicesim"
	"github.com/blotkit/goblot/frame"
	"github.com/blotkit/goblot/logger"
	"github.com/blotkit/goblot/serialport"
)

func TestDriver_IndexCycling(t *testing.T) {
	d := newTestDriver(t)
	port := &fakePort{}

	// eleven immediate submissions: the first is overwritten by the eleventh
	ids := pushRecords(t, d.queue, 11)
	require.NoError(t, d.flush(port))

	pkts := port.written(t)
	require.Len(t, pkts, 10)

	got := make([]uint8, 0, len(pkts))
	for _, p := range pkts {
		got = append(got, p.Index)
	}
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6, 7, 8, 0, 1}, got)

	_, ok := d.queue.FindByID(ids[0])
	assert.False(t, ok)

	for i, id := range ids[1:] {
		rec, ok := d.queue.FindByID(id)
		require.True(t, ok)
		assert.Equal(t, StateSent, rec.State())

		idx, ok := rec.SequenceIndex()
		require.True(t, ok)
		assert.Equal(t, got[i], idx)
	}
	assert.EqualValues(t, 10, d.Metrics().Inflight.Load())
	assert.EqualValues(t, 10, d.Metrics().FramesSent.Load())
}

func TestDriver_IndexContinuesAcrossFlushes(t *testing.T) {
	d := newTestDriver(t)
	port := &fakePort{}

	pushRecords(t, d.queue, 3)
	require.NoError(t, d.flush(port))
	pushRecords(t, d.queue, 2)
	require.NoError(t, d.flush(port))

	// nothing left to send
	require.NoError(t, d.flush(port))

	var got []uint8
	for _, p := range port.written(t) {
		got = append(got, p.Index)
	}
	assert.Equal(t, []uint8{1, 2, 3, 4, 5}, got)
}

func TestDriver_AckCorrelation(t *testing.T) {
	d := newTestDriver(t)
	port := &fakePort{}

	ids := pushRecords(t, d.queue, 5)
	require.NoError(t, d.flush(port))

	// ack for index 3 resolves only the record sent with index 3
	require.NoError(t, d.handleInbound(frame.Packet{Message: "ack", Index: 3}))

	for i, id := range ids {
		rec, ok := d.queue.FindByID(id)
		require.True(t, ok)
		idx, _ := rec.SequenceIndex()
		if idx == 3 {
			assert.Equal(t, StateResolved, rec.State(), "record %d", i)
		} else {
			assert.Equal(t, StateSent, rec.State(), "record %d", i)
		}
	}

	require.NoError(t, d.handleInbound(frame.Packet{Message: "ack", Index: 5}))
	rec, _ := d.queue.FindByID(ids[4])
	assert.Equal(t, StateResolved, rec.State())

	assert.EqualValues(t, 2, d.Metrics().AcksMatched.Load())
	assert.EqualValues(t, 3, d.Metrics().Inflight.Load())
}

func TestDriver_UnmatchedAckWarns(t *testing.T) {
	ml := logger.NewMockLogger()
	ml.On("Debug", mock.Anything, mock.Anything).Maybe()
	ml.On("Warn", "comms: ack has no matching sent record", []any{"index", uint8(7)}).Once()

	d := newTestDriver(t, WithLogger(ml))
	pushRecords(t, d.queue, 1)

	// the record is still Queued, so nothing holds index 7
	require.NoError(t, d.handleInbound(frame.Packet{Message: "ack", Index: 7}))

	ml.AssertExpectations(t)
	assert.EqualValues(t, 1, d.Metrics().AcksUnmatched.Load())
	assert.Equal(t, 0, d.queue.Count(StateResolved))
}

func TestDriver_UnexpectedMessage(t *testing.T) {
	d := newTestDriver(t)

	err := d.handleInbound(frame.Packet{Message: "motorsOn", Index: 2, Payload: []byte{}})
	var unexpected *UnexpectedMessageError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, "motorsOn", unexpected.Message)
	assert.Equal(t, uint8(2), unexpected.Index)

	err = d.handleInbound(frame.Packet{Message: "hello", Index: 1, Payload: []byte{9}})
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, []byte{9}, unexpected.Payload)
	assert.Contains(t, err.Error(), `"hello"`)
}

func TestDriver_ReadFrame(t *testing.T) {
	ctx := context.Background()

	t.Run("Partial Reads", func(t *testing.T) {
		d := newTestDriver(t)
		wire := ackFrame(t, 4)
		port := &fakePort{}
		port.queueRead(wire[:2], nil, wire[2:])

		_, ok := d.readFrame(ctx, port)
		assert.False(t, ok)

		pkt, ok := d.readFrame(ctx, port)
		require.True(t, ok)
		assert.Equal(t, "ack", pkt.Message)
		assert.Equal(t, uint8(4), pkt.Index)
	})

	t.Run("Several Frames In One Read", func(t *testing.T) {
		d := newTestDriver(t)
		port := &fakePort{}
		port.queueRead(append(ackFrame(t, 1), ackFrame(t, 2)...))

		pkt, ok := d.readFrame(ctx, port)
		require.True(t, ok)
		assert.Equal(t, uint8(1), pkt.Index)

		pkt, ok = d.readFrame(ctx, port)
		require.True(t, ok)
		assert.Equal(t, uint8(2), pkt.Index)
		assert.EqualValues(t, 2, d.Metrics().FramesRecv.Load())
	})

	t.Run("Malformed Frame Discarded", func(t *testing.T) {
		d := newTestDriver(t)
		port := &fakePort{}
		port.queueRead([]byte{0x05, 0x01, frame.Delimiter}, ackFrame(t, 6))

		_, ok := d.readFrame(ctx, port)
		assert.False(t, ok)
		assert.EqualValues(t, 1, d.Metrics().MalformedFrames.Load())

		pkt, ok := d.readFrame(ctx, port)
		require.True(t, ok)
		assert.Equal(t, uint8(6), pkt.Index)
	})

	t.Run("Empty Frames Skipped", func(t *testing.T) {
		d := newTestDriver(t)
		port := &fakePort{}
		port.queueRead(append([]byte{frame.Delimiter, frame.Delimiter}, ackFrame(t, 0)...))

		pkt, ok := d.readFrame(ctx, port)
		require.True(t, ok)
		assert.Equal(t, uint8(0), pkt.Index)
		assert.Zero(t, d.Metrics().MalformedFrames.Load())
	})

	t.Run("Overlong Input Dropped", func(t *testing.T) {
		d := newTestDriver(t)
		port := &fakePort{}
		port.queueRead(bytes.Repeat([]byte{0x7F}, frame.MaxFrameLen+1), nil, ackFrame(t, 3))

		_, ok := d.readFrame(ctx, port)
		assert.False(t, ok)
		_, ok = d.readFrame(ctx, port)
		assert.False(t, ok)
		assert.EqualValues(t, 1, d.Metrics().MalformedFrames.Load())

		pkt, ok := d.readFrame(ctx, port)
		require.True(t, ok)
		assert.Equal(t, uint8(3), pkt.Index)
	})

	t.Run("Read Error", func(t *testing.T) {
		d := newTestDriver(t)
		port := &fakePort{readErr: errors.New("device reset")}

		_, ok := d.readFrame(ctx, port)
		assert.False(t, ok)
		assert.EqualValues(t, 1, d.Metrics().ReadErrors.Load())
	})
}

func TestDriver_Run_MotorsOn(t *testing.T) {
	d := newTestDriver(t)
	dev := devicesim.New()
	startDriver(t, d, dev)

	rec, err := d.Client().Submit(context.Background(), "motorsOn", nil)
	require.NoError(t, err)

	assert.Equal(t, StateResolved, rec.State())
	idx, ok := rec.SequenceIndex()
	require.True(t, ok)
	assert.Equal(t, uint8(1), idx)

	assert.True(t, dev.State().MotorsOn)
	received := dev.Received()
	require.Len(t, received, 1)
	assert.Equal(t, "motorsOn", received[0].Message)
	assert.Empty(t, received[0].Payload)
	assert.Equal(t, uint8(1), received[0].Index)
}

func TestDriver_Run_CancelStops(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- d.Run(ctx, &fakePort{}) }()
	cancel()

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrDriverStopped)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop")
	}

	<-d.Done()
	require.ErrorIs(t, d.Err(), context.Canceled)

	// a driver runs once
	require.ErrorIs(t, d.Run(context.Background(), &fakePort{}), ErrDriverStarted)
	require.ErrorIs(t, d.RunPort(context.Background(), "/dev/null"), ErrDriverStarted)
}

func TestDriver_Run_UnexpectedMessageIsFatal(t *testing.T) {
	d := newTestDriver(t)
	dev := devicesim.New(devicesim.WithManualAck())
	result := startDriver(t, d, dev)

	submitErr := make(chan error, 1)
	go func() {
		_, err := d.Client().Submit(context.Background(), "motorsOn", nil)
		submitErr <- err
	}()

	require.Eventually(t, func() bool { return len(dev.Received()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, dev.Send("motorsOff", nil, 1))

	var unexpected *UnexpectedMessageError
	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrDriverStopped)
		require.ErrorAs(t, err, &unexpected)
		assert.Equal(t, "motorsOff", unexpected.Message)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop")
	}

	select {
	case err := <-submitErr:
		require.ErrorIs(t, err, ErrDriverStopped)
		require.ErrorAs(t, err, &unexpected)
	case <-time.After(time.Second):
		t.Fatal("submit was not released")
	}

	// later submissions fail fast
	_, err := d.Client().Submit(context.Background(), "motorsOn", nil)
	require.ErrorIs(t, err, ErrDriverStopped)
}

func TestDriver_Run_TransmitFailureIsFatal(t *testing.T) {
	d := newTestDriver(t)
	dev := devicesim.New()
	boom := errors.New("cable unplugged")
	dev.FailWrites(boom)
	result := startDriver(t, d, dev)

	_, err := d.Client().Submit(context.Background(), "motorsOn", nil)
	require.ErrorIs(t, err, ErrDriverStopped)
	require.ErrorIs(t, err, ErrTransmit)
	require.ErrorIs(t, err, boom)

	require.ErrorIs(t, <-result, ErrTransmit)
}

func TestDriver_RunPort(t *testing.T) {
	dev := devicesim.New()
	var opened serialport.Config
	opener := func(cfg serialport.Config) (io.ReadWriteCloser, error) {
		opened = cfg
		return dev, nil
	}

	d := newTestDriver(t, WithPortOpener(opener), WithBaudRate(19200))
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- d.RunPort(ctx, "/dev/ttyACM0") }()

	_, err := d.Client().Send(ctx, command.MotorsOff{})
	require.NoError(t, err)

	cancel()
	require.ErrorIs(t, <-result, context.Canceled)

	assert.Equal(t, "/dev/ttyACM0", opened.Path)
	assert.Equal(t, 19200, opened.BaudRate)
	assert.Equal(t, 100*time.Millisecond, opened.ReadTimeout)

	// the port was closed on exit
	_, err = dev.Write([]byte{0x01})
	require.ErrorIs(t, err, devicesim.ErrClosed)
}

func TestDriver_RunPort_OpenFailure(t *testing.T) {
	opener := func(serialport.Config) (io.ReadWriteCloser, error) {
		return nil, errors.New("permission denied")
	}
	d := newTestDriver(t, WithPortOpener(opener))

	err := d.RunPort(context.Background(), "/dev/ttyACM0")
	require.ErrorIs(t, err, ErrDriverStopped)
	require.ErrorContains(t, err, "permission denied")

	<-d.Done()
	_, err = d.Client().Submit(context.Background(), "motorsOn", nil)
	require.ErrorIs(t, err, ErrDriverStopped)
}
