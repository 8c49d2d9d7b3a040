package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Session history operations

// CreateSession inserts a session row
func (db *DB) CreateSession(rec SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	return db.ExecTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sessions (id, target, capture_kind, started_at)
			VALUES (?, ?, ?, ?)
		`, rec.ID, rec.Target, rec.CaptureKind, rec.StartedAt)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// EndSession records the terminal state of a session
func (db *DB) EndSession(id, state, reason string, at time.Time) error {
	return db.ExecTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE sessions
			SET ended_at = ?,
				final_state = ?,
				final_reason = ?
			WHERE id = ?
		`, at, state, reason, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// RecordTransition appends a state change to a session's history
func (db *DB) RecordTransition(rec TransitionRecord) (int64, error) {
	var id int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO session_transitions (
				session_id, from_state, to_state, reason, detail, occurred_at
			) VALUES (?, ?, ?, ?, ?, ?)
		`, rec.SessionID, rec.FromState, rec.ToState, rec.Reason, rec.Detail, rec.OccurredAt)
		if err != nil {
			return fmt.Errorf("failed to insert transition: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

// RecordTaskEvent appends a task outcome
func (db *DB) RecordTaskEvent(rec TaskEventRecord) (int64, error) {
	var id int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO task_events (
				session_id, task_id, event, detail, occurred_at
			) VALUES (?, ?, ?, ?, ?)
		`, rec.SessionID, rec.TaskID, rec.Event, rec.Detail, rec.OccurredAt)
		if err != nil {
			return fmt.Errorf("failed to insert task event: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

// GetSession retrieves a session by ID
func (db *DB) GetSession(id string) (*SessionRecord, error) {
	rec := &SessionRecord{}
	err := db.conn.QueryRow(`
		SELECT id, target, capture_kind, started_at, ended_at, final_state, final_reason
		FROM sessions
		WHERE id = ?
	`, id).Scan(
		&rec.ID, &rec.Target, &rec.CaptureKind, &rec.StartedAt,
		&rec.EndedAt, &rec.FinalState, &rec.FinalReason,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentSessions returns summaries of the newest sessions first
func (db *DB) RecentSessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, target, capture_kind, started_at, ended_at, final_state, final_reason,
			transitions, fired, failed
		FROM session_summary
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(
			&s.ID, &s.Target, &s.CaptureKind, &s.StartedAt, &s.EndedAt, &s.FinalState, &s.FinalReason,
			&s.Transitions, &s.Fired, &s.Failed,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Transitions returns a session's state changes in order
func (db *DB) Transitions(sessionID string) ([]TransitionRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, from_state, to_state, reason, detail, occurred_at
		FROM session_transitions
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var t TransitionRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.FromState, &t.ToState, &t.Reason, &t.Detail, &t.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TaskEvents returns a session's task outcomes in order
func (db *DB) TaskEvents(sessionID string) ([]TaskEventRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, task_id, event, detail, occurred_at
		FROM task_events
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskEventRecord
	for rows.Next() {
		var e TaskEventRecord
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TaskID, &e.Event, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeBefore deletes sessions started before cutoff along with their history
func (db *DB) PurgeBefore(cutoff time.Time) (int64, error) {
	var n int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM sessions WHERE started_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
