package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/events"
)

// Transition is one recorded state change
type Transition struct {
	From   State
	To     State
	Reason Reason
	At     time.Time
}

// Snapshot is a read-only copy of the session's observable state
type Snapshot struct {
	ID           string
	Target       capture.Target
	State        State
	Reason       Reason
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ValidatedSeq uint64
	Validated    bool
}

// Session is the context object for one automation run. It holds the bound
// target and the current state, and publishes every transition.
type Session struct {
	id        string
	target    capture.Target
	bus       events.EventBus
	createdAt time.Time

	mu           sync.RWMutex
	state        State
	reason       Reason
	updatedAt    time.Time
	history      []Transition
	validatedSeq uint64
	validated    bool
}

// New creates an Idle session bound to target
func New(target capture.Target, bus events.EventBus) *Session {
	now := time.Now()
	s := &Session{
		id:        uuid.NewString(),
		target:    target,
		bus:       bus,
		createdAt: now,
		updatedAt: now,
		state:     StateIdle,
	}
	if bus != nil {
		bus.Publish(events.Event{
			Type:      events.EventTypeSessionCreated,
			Source:    "session",
			SessionID: s.id,
			Timestamp: now,
			Data: map[string]interface{}{
				"target": target.String(),
				"kind":   string(target.Kind),
			},
		})
	}
	return s
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Target returns the capture target bound to the session
func (s *Session) Target() capture.Target { return s.target }

// State returns the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reason returns the reason for the most recent transition
func (s *Session) Reason() Reason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Transition moves the session to the given state and publishes the change
func (s *Session) Transition(to State, reason Reason) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("illegal session transition %s -> %s (%s)", from, to, reason.Code)
	}
	now := time.Now()
	s.state = to
	s.reason = reason
	s.updatedAt = now
	s.history = append(s.history, Transition{From: from, To: to, Reason: reason, At: now})
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.NewSessionStateEvent(s.id, from.String(), to.String(), string(reason.Code), reason.Detail))
	}
	return nil
}

// MarkValidated records the sequence number of the most recent Ok frame
func (s *Session) MarkValidated(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validated || seq > s.validatedSeq {
		s.validatedSeq = seq
	}
	s.validated = true
}

// ValidatedSeq returns the most recent validated sequence number
func (s *Session) ValidatedSeq() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validatedSeq, s.validated
}

// History returns a copy of all transitions so far
func (s *Session) History() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns a consistent copy of the session state
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:           s.id,
		Target:       s.target,
		State:        s.state,
		Reason:       s.reason,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
		ValidatedSeq: s.validatedSeq,
		Validated:    s.validated,
	}
}
