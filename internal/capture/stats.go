package capture

import (
	"context"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of capture instrumentation
type Stats struct {
	Captures       uint64
	Failures       uint64
	AvgCapture     time.Duration
	LastCapture    time.Time
	LatestFrameAge time.Duration
	Sequence       uint64
	Width          int
	Height         int
}

// Metered wraps a Source and records capture timings and outcomes
type Metered struct {
	Source

	captures     atomic.Uint64
	failures     atomic.Uint64
	captureNanos atomic.Uint64
	lastAt       atomic.Int64
	lastSeq      atomic.Uint64
	lastSize     atomic.Uint64
}

// NewMetered wraps src
func NewMetered(src Source) *Metered {
	return &Metered{Source: src}
}

func (m *Metered) CaptureOnce(ctx context.Context, h *Handle) (Frame, error) {
	start := time.Now()
	frame, err := m.Source.CaptureOnce(ctx, h)
	if err != nil {
		m.failures.Add(1)
		return frame, err
	}

	m.captures.Add(1)
	m.captureNanos.Add(uint64(time.Since(start)))
	m.lastAt.Store(frame.CapturedAt.UnixNano())
	m.lastSeq.Store(frame.Seq)
	m.lastSize.Store(uint64(frame.Width())<<32 | uint64(uint32(frame.Height())))
	return frame, nil
}

// Stats returns the current counters
func (m *Metered) Stats() Stats {
	captures := m.captures.Load()
	var avg time.Duration
	if captures > 0 {
		avg = time.Duration(m.captureNanos.Load() / captures)
	}

	var last time.Time
	var age time.Duration
	if ns := m.lastAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
		age = time.Since(last)
	}

	size := m.lastSize.Load()
	return Stats{
		Captures:       captures,
		Failures:       m.failures.Load(),
		AvgCapture:     avg,
		LastCapture:    last,
		LatestFrameAge: age,
		Sequence:       m.lastSeq.Load(),
		Width:          int(size >> 32),
		Height:         int(uint32(size)),
	}
}
