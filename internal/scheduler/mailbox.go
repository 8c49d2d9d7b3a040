package scheduler

import (
	"sync"

	"jordanella.com/autopilot/internal/capture"
)

// mailbox holds at most one pending frame. A newer frame replaces an
// undelivered older one so the worker always sees the latest capture.
type mailbox struct {
	mu    sync.Mutex
	frame capture.Frame
	full  bool
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

// put stores f and reports the frame it replaced, if any
func (m *mailbox) put(f capture.Frame) (capture.Frame, bool) {
	m.mu.Lock()
	old, replaced := m.frame, m.full
	m.frame = f
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return old, replaced
}

func (m *mailbox) take() (capture.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return capture.Frame{}, false
	}
	f := m.frame
	m.frame = capture.Frame{}
	m.full = false
	return f, true
}

func (m *mailbox) clear() {
	m.mu.Lock()
	m.frame = capture.Frame{}
	m.full = false
	m.mu.Unlock()
}
