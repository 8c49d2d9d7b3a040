package logging

import (
	"errors"
	"testing"

	"jordanella.com/autopilot/internal/events"
)

func newTestReporter() *ErrorReporter {
	er := NewErrorReporter()
	er.SetLogger(Discard())
	return er
}

func TestErrorReporterCategorisesSessionErrors(t *testing.T) {
	bus := events.NewRecorder()
	er := newTestReporter()
	er.Attach(bus)

	var high []*ErrorReport
	er.OnError(ErrorSeverityHigh, func(r *ErrorReport) { high = append(high, r) })

	bus.Publish(events.NewSessionStateEvent("s1", "Idle", "Launching", "start_requested", nil))
	bus.Publish(events.NewSessionStateEvent("s1", "Validating", "Error", "BelowMinimumSize", map[string]interface{}{
		"resolution": "800x600",
	}))
	bus.Publish(events.NewSessionStateEvent("s2", "Launching", "Error", "LaunchFailed", nil))

	if len(high) != 2 {
		t.Fatalf("got %d high severity reports, want 2", len(high))
	}
	if high[0].Category != ErrorCategoryValidation || high[0].Code != "BelowMinimumSize" || high[0].SessionID != "s1" {
		t.Errorf("first report = %+v", high[0])
	}
	if high[0].Context["resolution"] != "800x600" {
		t.Errorf("context = %v", high[0].Context)
	}
	if high[1].Category != ErrorCategoryLaunch {
		t.Errorf("second category = %s", high[1].Category)
	}
}

func TestErrorReporterTaskAndErrorEvents(t *testing.T) {
	bus := events.NewRecorder()
	er := newTestReporter()
	er.Attach(bus)

	bus.Publish(events.NewTaskFailedEvent("s1", "claim", "action_failed", errors.New("device offline")))
	bus.Publish(events.NewErrorEvent("history", "s1", "write failed", errors.New("disk full")))

	recent := er.GetRecentErrors(10)
	if len(recent) != 2 {
		t.Fatalf("got %d reports", len(recent))
	}
	task := recent[0]
	if task.Category != ErrorCategoryTask || task.Severity != ErrorSeverityMedium || task.Code != "action_failed" {
		t.Errorf("task report = %+v", task)
	}
	if task.Error == nil || task.Error.Error() != "device offline" {
		t.Errorf("task error = %v", task.Error)
	}
	if task.Context["task_id"] != "claim" {
		t.Errorf("task context = %v", task.Context)
	}
	if recent[1].Category != ErrorCategorySystem || recent[1].Message != "write failed" {
		t.Errorf("error report = %+v", recent[1])
	}

	if got := er.GetErrorsByCategory(ErrorCategoryTask, 5); len(got) != 1 {
		t.Errorf("GetErrorsByCategory = %d", len(got))
	}

	stats := er.GetErrorStats()
	if stats["total"] != 2 || stats["category_task"] != 1 || stats["severity_high"] != 1 || stats["recoverable"] != 2 {
		t.Errorf("stats = %v", stats)
	}
}

func TestErrorReporterDetachAndHistoryLimit(t *testing.T) {
	bus := events.NewRecorder()
	er := newTestReporter()
	er.maxHistory = 3
	er.Attach(bus)

	for i := 0; i < 5; i++ {
		er.ReportError(ErrorCategoryCapture, ErrorSeverityLow, "capture", "slow frame", nil)
	}
	if got := len(er.GetRecentErrors(10)); got != 3 {
		t.Errorf("history = %d, want 3", got)
	}

	er.Detach()
	bus.Publish(events.NewTaskFailedEvent("s1", "claim", "panic", nil))
	if got := len(er.GetErrorsByCategory(ErrorCategoryTask, 5)); got != 0 {
		t.Errorf("reports after detach = %d", got)
	}

	er.Clear()
	if got := er.GetErrorStats()["total"]; got != 0 {
		t.Errorf("total after clear = %d", got)
	}
}
