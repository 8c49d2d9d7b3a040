package database

import (
	"time"
)

// SessionRecord is one persisted session run
type SessionRecord struct {
	ID          string     `db:"id" json:"id"`
	Target      string     `db:"target" json:"target"`
	CaptureKind string     `db:"capture_kind" json:"capture_kind"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	EndedAt     *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	FinalState  *string    `db:"final_state" json:"final_state,omitempty"`
	FinalReason *string    `db:"final_reason" json:"final_reason,omitempty"`
}

// Duration returns how long the session ran, or zero while it is open
func (s *SessionRecord) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// TransitionRecord is one session state change
type TransitionRecord struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	FromState  string    `db:"from_state" json:"from"`
	ToState    string    `db:"to_state" json:"to"`
	Reason     string    `db:"reason" json:"reason"`
	Detail     *string   `db:"detail" json:"detail,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// TaskEventRecord is one task outcome (fired, completed, failed, state change)
type TaskEventRecord struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	TaskID     string    `db:"task_id" json:"task_id"`
	Event      string    `db:"event" json:"event"`
	Detail     *string   `db:"detail" json:"detail,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// SessionSummary is a row of the session_summary view
type SessionSummary struct {
	SessionRecord
	Transitions int `db:"transitions" json:"transitions"`
	Fired       int `db:"fired" json:"fired"`
	Failed      int `db:"failed" json:"failed"`
}
