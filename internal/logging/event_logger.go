package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jordanella.com/autopilot/internal/events"
)

// EventLogger subscribes to the event bus and writes every event to a log file
type EventLogger struct {
	logger         *Logger
	eventBus       events.EventBus
	subscriptionID events.SubscriptionID
	logFile        *os.File
}

// NewEventLogger creates a new event logger writing into logDir
func NewEventLogger(eventBus events.EventBus, logDir string) (*EventLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("events_%s.log", timestamp))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := NewLogger("EventLogger").SetConsole(nil).SetMinLevel(LogLevelDebug)
	logger.AddOutput(logFile)

	el := &EventLogger{
		logger:   logger,
		eventBus: eventBus,
		logFile:  logFile,
	}
	el.subscriptionID = eventBus.SubscribeAll(el.handleEvent)

	return el, nil
}

// Path returns the event log file path
func (el *EventLogger) Path() string {
	return el.logFile.Name()
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
	}
	if event.SessionID != "" {
		context["session_id"] = event.SessionID
	}
	for k, v := range event.Data {
		context[k] = v
	}

	if event.Type == events.EventTypeError || event.Type == events.EventTypeTaskFailed {
		el.logger.WarnWithContext(fmt.Sprintf("Event: %s", event.Type), context)
		return
	}
	el.logger.InfoWithContext(fmt.Sprintf("Event: %s", event.Type), context)
}

// Close unsubscribes and closes the log file
func (el *EventLogger) Close() error {
	el.eventBus.Unsubscribe(el.subscriptionID)
	if el.logFile != nil {
		return el.logFile.Close()
	}
	return nil
}
