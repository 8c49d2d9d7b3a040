package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetVersion()
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("Expected version %d, got %d", LatestVersion(), version)
	}

	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Running again is a no-op
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
}

func TestSessionHistory(t *testing.T) {
	db := openTestDB(t)
	start := time.Now().Add(-time.Minute)

	if err := db.CreateSession(SessionRecord{ID: "s1", Target: "adb:emulator-5554", CaptureKind: "adb", StartedAt: start}); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	detail := `{"resolution":"800x600"}`
	steps := []TransitionRecord{
		{SessionID: "s1", FromState: "Idle", ToState: "Launching", Reason: "start_requested"},
		{SessionID: "s1", FromState: "Launching", ToState: "WaitingForWindow", Reason: "process_launched"},
		{SessionID: "s1", FromState: "Validating", ToState: "Error", Reason: "BelowMinimumSize", Detail: &detail},
	}
	for _, step := range steps {
		step.OccurredAt = time.Now()
		if _, err := db.RecordTransition(step); err != nil {
			t.Fatalf("Failed to record transition: %v", err)
		}
	}
	for _, ev := range []string{"fired", "fired", "failed"} {
		if _, err := db.RecordTaskEvent(TaskEventRecord{SessionID: "s1", TaskID: "claim", Event: ev, OccurredAt: time.Now()}); err != nil {
			t.Fatalf("Failed to record task event: %v", err)
		}
	}
	if err := db.EndSession("s1", "Error", "BelowMinimumSize", time.Now()); err != nil {
		t.Fatalf("Failed to end session: %v", err)
	}

	got, err := db.GetSession("s1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.FinalState == nil || *got.FinalState != "Error" || got.EndedAt == nil {
		t.Errorf("Unexpected session row: %+v", got)
	}
	if got.Duration() < time.Minute {
		t.Errorf("Duration = %v", got.Duration())
	}

	transitions, err := db.Transitions("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(transitions) != 3 || transitions[2].ToState != "Error" || transitions[2].Detail == nil || *transitions[2].Detail != detail {
		t.Errorf("Unexpected transitions: %+v", transitions)
	}

	summaries, err := db.RecentSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("Expected 1 summary, got %d", len(summaries))
	}
	if s := summaries[0]; s.Transitions != 3 || s.Fired != 2 || s.Failed != 1 {
		t.Errorf("Unexpected summary: %+v", s)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats["task_events"] != 3 || stats["sessions"] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

func TestMissingSession(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetSession("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession err = %v", err)
	}
	if err := db.EndSession("nope", "Stopped", "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("EndSession err = %v", err)
	}
	// Foreign keys are enforced
	if _, err := db.RecordTransition(TransitionRecord{SessionID: "nope", FromState: "Idle", ToState: "Launching", Reason: "x", OccurredAt: time.Now()}); err == nil {
		t.Error("Expected foreign key violation")
	}
}

func TestPurgeBefore(t *testing.T) {
	db := openTestDB(t)
	old := time.Now().Add(-48 * time.Hour)

	db.CreateSession(SessionRecord{ID: "old", Target: "pc:game", CaptureKind: "pc", StartedAt: old})
	db.CreateSession(SessionRecord{ID: "new", Target: "pc:game", CaptureKind: "pc"})
	db.RecordTaskEvent(TaskEventRecord{SessionID: "old", TaskID: "t", Event: "fired", OccurredAt: old})

	n, err := db.PurgeBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Purged %d sessions, want 1", n)
	}
	events, _ := db.TaskEvents("old")
	if len(events) != 0 {
		t.Error("Task events should cascade with their session")
	}
	if _, err := db.GetSession("new"); err != nil {
		t.Errorf("Recent session was removed: %v", err)
	}
}

func TestRollbackAndBackup(t *testing.T) {
	db := openTestDB(t)

	if err := db.RollbackTo(2); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if v, _ := db.GetVersion(); v != 2 {
		t.Errorf("Version after rollback = %d", v)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Re-migrate failed: %v", err)
	}

	backup := filepath.Join(t.TempDir(), "backup", "copy.db")
	if err := db.Backup(backup); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	copyDB, err := Open(backup)
	if err != nil {
		t.Fatal(err)
	}
	defer copyDB.Close()
	if v, _ := copyDB.GetVersion(); v != LatestVersion() {
		t.Errorf("Backup version = %d", v)
	}
}
