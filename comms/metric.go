package comms

import "sync/atomic"

// DriverMetrics contains atomic counters for a driver.
// Values can back a prometheus CounterFunc or GaugeFunc.
type DriverMetrics struct {
	// FramesSent counts frames written to the port.
	FramesSent atomic.Uint64
	// FramesRecv counts well-formed frames read from the port.
	FramesRecv atomic.Uint64
	// AcksMatched counts acknowledgements that resolved a record.
	AcksMatched atomic.Uint64
	// AcksUnmatched counts acknowledgements with no Sent record for their index.
	AcksUnmatched atomic.Uint64
	// MalformedFrames counts inbound frames that failed to decode.
	MalformedFrames atomic.Uint64
	// ReadErrors counts failed port reads.
	ReadErrors atomic.Uint64
	// Evictions counts records overwritten in the queue.
	Evictions atomic.Uint64
	// Inflight is the number of Sent records awaiting acknowledgement.
	Inflight atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of DriverMetrics.
type MetricsSnapshot struct {
	FramesSent      uint64
	FramesRecv      uint64
	AcksMatched     uint64
	AcksUnmatched   uint64
	MalformedFrames uint64
	ReadErrors      uint64
	Evictions       uint64
	Inflight        int64
}

// Snapshot loads every counter.
func (m *DriverMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FramesSent:      m.FramesSent.Load(),
		FramesRecv:      m.FramesRecv.Load(),
		AcksMatched:     m.AcksMatched.Load(),
		AcksUnmatched:   m.AcksUnmatched.Load(),
		MalformedFrames: m.MalformedFrames.Load(),
		ReadErrors:      m.ReadErrors.Load(),
		Evictions:       m.Evictions.Load(),
		Inflight:        m.Inflight.Load(),
	}
}

func (m *DriverMetrics) incFramesSent() {
	m.FramesSent.Add(1)
}

func (m *DriverMetrics) incFramesRecv() {
	m.FramesRecv.Add(1)
}

func (m *DriverMetrics) incAcksMatched() {
	m.AcksMatched.Add(1)
}

func (m *DriverMetrics) incAcksUnmatched() {
	m.AcksUnmatched.Add(1)
}

func (m *DriverMetrics) incMalformedFrames() {
	m.MalformedFrames.Add(1)
}

func (m *DriverMetrics) incReadErrors() {
	m.ReadErrors.Add(1)
}

func (m *DriverMetrics) incEvictions() {
	m.Evictions.Add(1)
}

func (m *DriverMetrics) addInflight(n int64) {
	m.Inflight.Add(n)
}
