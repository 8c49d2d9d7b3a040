package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
		Down:        migration001Down,
	},
	{
		Version:     2,
		Description: "Create sessions table",
		Up:          migration002Up,
		Down:        migration002Down,
	},
	{
		Version:     3,
		Description: "Create session_transitions and task_events tables",
		Up:          migration003Up,
		Down:        migration003Down,
	},
	{
		Version:     4,
		Description: "Create session_summary view",
		Up:          migration004Up,
		Down:        migration004Down,
	},
}

// LatestVersion is the schema version after every migration has run
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations() error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	db.logger.Debug(fmt.Sprintf("Current database version: %d", currentVersion))

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			_, err := tx.Exec(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, migration.Version, migration.Description, time.Now())

			return err
		})

		if err != nil {
			return err
		}

		db.logger.InfoWithContext("Migration applied", map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
	}

	return nil
}

// RollbackTo reverts migrations newer than version, newest first
func (db *DB) RollbackTo(version int) error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version <= version || migration.Version > currentVersion {
			continue
		}
		// Version 1 owns schema_version itself
		if migration.Version == 1 {
			return db.ExecTx(migration.Down)
		}

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Down(tx); err != nil {
				return fmt.Errorf("rollback %d failed: %w", migration.Version, err)
			}
			_, err := tx.Exec(`DELETE FROM schema_version WHERE version = ?`, migration.Version)
			return err
		})
		if err != nil {
			return err
		}
		db.logger.InfoWithContext("Migration rolled back", map[string]interface{}{
			"version": migration.Version,
		})
	}
	return nil
}

// getCurrentVersion returns the current schema version
func (db *DB) getCurrentVersion() (int, error) {
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)

	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	var version int
	err = db.conn.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)

	if err != nil {
		return 0, err
	}

	return version, nil
}

// Migration 001: Schema version tracking table
func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	return err
}

func migration001Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS schema_version`)
	return err
}

// Migration 002: one row per session run
func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			capture_kind TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			final_state TEXT,
			final_reason TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`)
	return err
}

func migration002Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS sessions`)
	return err
}

// Migration 003: state transitions and task outcomes
func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS session_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT,
			occurred_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_transitions_session ON session_transitions(session_id);

		CREATE TABLE IF NOT EXISTS task_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT,
			occurred_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_task_events_session ON task_events(session_id);
		CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);
	`)
	return err
}

func migration003Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP TABLE IF EXISTS task_events;
		DROP TABLE IF EXISTS session_transitions;
	`)
	return err
}

// Migration 004: per-session summary
func migration004Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIEW IF NOT EXISTS session_summary AS
		SELECT
			s.id,
			s.target,
			s.capture_kind,
			s.started_at,
			s.ended_at,
			s.final_state,
			s.final_reason,
			(SELECT COUNT(*) FROM session_transitions t WHERE t.session_id = s.id) AS transitions,
			(SELECT COUNT(*) FROM task_events e WHERE e.session_id = s.id AND e.event = 'fired') AS fired,
			(SELECT COUNT(*) FROM task_events e WHERE e.session_id = s.id AND e.event = 'failed') AS failed
		FROM sessions s
	`)
	return err
}

func migration004Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP VIEW IF EXISTS session_summary`)
	return err
}
