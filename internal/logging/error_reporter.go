package logging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"jordanella.com/autopilot/internal/events"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	ErrorCategoryLaunch     ErrorCategory = "launch"
	ErrorCategoryCapture    ErrorCategory = "capture"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTask       ErrorCategory = "task"
	ErrorCategoryStorage    ErrorCategory = "storage"
	ErrorCategorySystem     ErrorCategory = "system"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// categories maps session reason codes to report categories
var categories = map[string]ErrorCategory{
	"LaunchFailed":             ErrorCategoryLaunch,
	"PrivilegesRequired":       ErrorCategoryLaunch,
	"StartTimeout":             ErrorCategoryLaunch,
	"UnsupportedCaptureMethod": ErrorCategoryCapture,
	"CaptureFailed":            ErrorCategoryCapture,
	"UnsupportedResolution":    ErrorCategoryValidation,
	"UnsupportedAspectRatio":   ErrorCategoryValidation,
	"BelowMinimumSize":         ErrorCategoryValidation,
}

// ErrorReport represents a detailed error report
type ErrorReport struct {
	Timestamp   time.Time              `json:"timestamp"`
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	SessionID   string                 `json:"session_id,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Message     string                 `json:"message"`
	Error       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// ErrorCallback is called when an error is reported
type ErrorCallback func(report *ErrorReport)

// ErrorReporter collects session and task failures from the event bus,
// logs them and keeps a bounded history
type ErrorReporter struct {
	logger         *Logger
	errorHistory   []*ErrorReport
	errorHistoryMu sync.RWMutex
	maxHistory     int

	callbacks   map[ErrorSeverity][]ErrorCallback
	callbacksMu sync.RWMutex

	bus  events.EventBus
	subs []events.SubscriptionID
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{
		logger:       NewLogger("ErrorReporter"),
		errorHistory: make([]*ErrorReport, 0),
		maxHistory:   1000,
		callbacks:    make(map[ErrorSeverity][]ErrorCallback),
	}
}

// SetLogger sets the logger for the error reporter
func (er *ErrorReporter) SetLogger(logger *Logger) {
	er.logger = logger
}

// Attach subscribes to session transitions, task failures and error events
func (er *ErrorReporter) Attach(bus events.EventBus) {
	er.bus = bus
	er.subs = append(er.subs,
		bus.Subscribe(events.EventTypeSessionState, er.handleEvent),
		bus.Subscribe(events.EventTypeTaskFailed, er.handleEvent),
		bus.Subscribe(events.EventTypeError, er.handleEvent),
	)
}

// Detach removes the reporter's subscriptions
func (er *ErrorReporter) Detach() {
	if er.bus == nil {
		return
	}
	for _, id := range er.subs {
		er.bus.Unsubscribe(id)
	}
	er.subs = nil
	er.bus = nil
}

func (er *ErrorReporter) handleEvent(e events.Event) {
	switch e.Type {
	case events.EventTypeSessionState:
		if e.Data["to"] != "Error" {
			return
		}
		code, _ := e.Data["reason"].(string)
		category, ok := categories[code]
		if !ok {
			category = ErrorCategorySystem
		}
		detail, _ := e.Data["detail"].(map[string]interface{})
		er.Report(&ErrorReport{
			Category:  category,
			Severity:  ErrorSeverityHigh,
			Component: e.Source,
			SessionID: e.SessionID,
			Code:      code,
			Message:   "Session stopped with an error",
			Context:   detail,
		})

	case events.EventTypeTaskFailed:
		var err error
		if msg, ok := e.Data["error"].(string); ok {
			err = errors.New(msg)
		}
		code, _ := e.Data["code"].(string)
		er.Report(&ErrorReport{
			Category:    ErrorCategoryTask,
			Severity:    ErrorSeverityMedium,
			Component:   e.Source,
			SessionID:   e.SessionID,
			Code:        code,
			Message:     "Task failed",
			Error:       err,
			Context:     map[string]interface{}{"task_id": e.Data["task_id"]},
			Recoverable: true,
		})

	case events.EventTypeError:
		var err error
		if msg, ok := e.Data["error"].(string); ok {
			err = errors.New(msg)
		}
		msg, _ := e.Data["message"].(string)
		er.Report(&ErrorReport{
			Category:    ErrorCategorySystem,
			Severity:    ErrorSeverityHigh,
			Component:   e.Source,
			SessionID:   e.SessionID,
			Message:     msg,
			Error:       err,
			Recoverable: true,
		})
	}
}

// Report logs, stores and dispatches an error report
func (er *ErrorReporter) Report(report *ErrorReport) {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	er.logError(report)
	er.addToHistory(report)
	er.invokeCallbacks(report)
}

// ReportError reports a simple error
func (er *ErrorReporter) ReportError(category ErrorCategory, severity ErrorSeverity, component, message string, err error) {
	er.Report(&ErrorReport{
		Category:    category,
		Severity:    severity,
		Component:   component,
		Message:     message,
		Error:       err,
		Recoverable: severity != ErrorSeverityCritical,
	})
}

// logError logs an error report
func (er *ErrorReporter) logError(report *ErrorReport) {
	context := map[string]interface{}{
		"category":    string(report.Category),
		"severity":    string(report.Severity),
		"component":   report.Component,
		"recoverable": report.Recoverable,
	}
	if report.SessionID != "" {
		context["session_id"] = report.SessionID
	}
	if report.Code != "" {
		context["code"] = report.Code
	}
	for k, v := range report.Context {
		context[k] = v
	}

	switch report.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		er.logger.ErrorWithContext(report.Message, report.Error, context)
	case ErrorSeverityMedium:
		if report.Error != nil {
			context["error"] = report.Error.Error()
		}
		er.logger.WarnWithContext(report.Message, context)
	default:
		er.logger.InfoWithContext(report.Message, context)
	}
}

// addToHistory adds an error to the history
func (er *ErrorReporter) addToHistory(report *ErrorReport) {
	er.errorHistoryMu.Lock()
	defer er.errorHistoryMu.Unlock()

	er.errorHistory = append(er.errorHistory, report)

	if len(er.errorHistory) > er.maxHistory {
		er.errorHistory = er.errorHistory[len(er.errorHistory)-er.maxHistory:]
	}
}

// invokeCallbacks runs the callbacks registered for the report severity.
// Callbacks run on the reporting goroutine, in registration order.
func (er *ErrorReporter) invokeCallbacks(report *ErrorReport) {
	er.callbacksMu.RLock()
	callbacks := er.callbacks[report.Severity]
	er.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		callback(report)
	}
}

// OnError registers a callback for a specific error severity
func (er *ErrorReporter) OnError(severity ErrorSeverity, callback ErrorCallback) {
	er.callbacksMu.Lock()
	defer er.callbacksMu.Unlock()

	er.callbacks[severity] = append(er.callbacks[severity], callback)
}

// GetRecentErrors returns the N most recent errors
func (er *ErrorReporter) GetRecentErrors(n int) []*ErrorReport {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	if n > len(er.errorHistory) {
		n = len(er.errorHistory)
	}

	start := len(er.errorHistory) - n
	result := make([]*ErrorReport, n)
	copy(result, er.errorHistory[start:])

	return result
}

// GetErrorsByCategory returns errors filtered by category, newest first
func (er *ErrorReporter) GetErrorsByCategory(category ErrorCategory, limit int) []*ErrorReport {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	result := make([]*ErrorReport, 0)
	for i := len(er.errorHistory) - 1; i >= 0 && len(result) < limit; i-- {
		if er.errorHistory[i].Category == category {
			result = append(result, er.errorHistory[i])
		}
	}

	return result
}

// GetErrorStats returns counts by severity and category
func (er *ErrorReporter) GetErrorStats() map[string]int {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	stats := map[string]int{
		"total":           len(er.errorHistory),
		"recoverable":     0,
		"non_recoverable": 0,
	}

	for _, report := range er.errorHistory {
		stats[fmt.Sprintf("severity_%s", report.Severity)]++
		stats[fmt.Sprintf("category_%s", report.Category)]++
		if report.Recoverable {
			stats["recoverable"]++
		} else {
			stats["non_recoverable"]++
		}
	}

	return stats
}

// Clear clears the error history
func (er *ErrorReporter) Clear() {
	er.errorHistoryMu.Lock()
	defer er.errorHistoryMu.Unlock()

	er.errorHistory = make([]*ErrorReport, 0)
}
