package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Session events
	EventTypeSessionCreated EventType = "session.created"
	EventTypeSessionState   EventType = "session.state_changed"

	// Validation events
	EventTypeHazard EventType = "validation.hazard"

	// Task events
	EventTypeTaskState     EventType = "task.state_changed"
	EventTypeTaskFired     EventType = "task.fired"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"
	EventTypeTaskHealth    EventType = "task.health"

	// Frame pipeline events
	EventTypeFrameDropped EventType = "frame.dropped"

	// Error events
	EventTypeError EventType = "error"
)

// AllEventTypes lists every type the engine publishes.
var AllEventTypes = []EventType{
	EventTypeSessionCreated,
	EventTypeSessionState,
	EventTypeHazard,
	EventTypeTaskState,
	EventTypeTaskFired,
	EventTypeTaskCompleted,
	EventTypeTaskFailed,
	EventTypeTaskHealth,
	EventTypeFrameDropped,
	EventTypeError,
}

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "controller", "scheduler")
	SessionID string                 // Session the event belongs to, empty for process-level events
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event, blocking while the queue is full
	Publish(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// NewSessionStateEvent creates a session state transition event
func NewSessionStateEvent(sessionID, from, to, reason string, detail map[string]interface{}) Event {
	data := map[string]interface{}{
		"from":   from,
		"to":     to,
		"reason": reason,
	}
	if len(detail) > 0 {
		data["detail"] = detail
	}
	return Event{
		Type:      EventTypeSessionState,
		Source:    "session",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewHazardEvent creates an environment hazard notice
func NewHazardEvent(sessionID string, hazards []string) Event {
	return Event{
		Type:      EventTypeHazard,
		Source:    "validator",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"hazards": hazards,
		},
	}
}

// NewTaskStateEvent creates a task state transition event
func NewTaskStateEvent(sessionID, taskID, from, to, reason string) Event {
	return Event{
		Type:      EventTypeTaskState,
		Source:    "scheduler",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"task_id": taskID,
			"from":    from,
			"to":      to,
			"reason":  reason,
		},
	}
}

// NewTaskFiredEvent creates an event for a task whose action ran on a frame
func NewTaskFiredEvent(sessionID, taskID string, seq uint64) Event {
	return Event{
		Type:      EventTypeTaskFired,
		Source:    "scheduler",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"task_id": taskID,
			"seq":     seq,
		},
	}
}

// NewTaskCompletedEvent creates an event for a one-time task that finished
func NewTaskCompletedEvent(sessionID, taskID string, attempts int) Event {
	return Event{
		Type:      EventTypeTaskCompleted,
		Source:    "scheduler",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"task_id":  taskID,
			"attempts": attempts,
		},
	}
}

// NewTaskFailedEvent creates an event for a task error
func NewTaskFailedEvent(sessionID, taskID, code string, err error) Event {
	data := map[string]interface{}{
		"task_id": taskID,
		"code":    code,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeTaskFailed,
		Source:    "scheduler",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewTaskHealthEvent creates an aggregate task health event
func NewTaskHealthEvent(sessionID string, healthy bool, unhealthy, total int, errorRate float64) Event {
	return Event{
		Type:      EventTypeTaskHealth,
		Source:    "scheduler",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"healthy":    healthy,
			"unhealthy":  unhealthy,
			"total":      total,
			"error_rate": errorRate,
		},
	}
}

// NewFrameDroppedEvent creates an event summarising frames replaced before dispatch
func NewFrameDroppedEvent(sessionID string, dropped uint64, lastSeq uint64) Event {
	return Event{
		Type:      EventTypeFrameDropped,
		Source:    "scheduler",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"dropped":  dropped,
			"last_seq": lastSeq,
		},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source, sessionID, message string, err error) Event {
	data := map[string]interface{}{
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeError,
		Source:    source,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
