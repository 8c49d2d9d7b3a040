package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"jordanella.com/autopilot/internal/database"
	"jordanella.com/autopilot/internal/events"
	"jordanella.com/autopilot/internal/logging"
)

// Store is the subset of the database the recorder writes to
type Store interface {
	CreateSession(rec database.SessionRecord) error
	EndSession(id, state, reason string, at time.Time) error
	RecordTransition(rec database.TransitionRecord) (int64, error)
	RecordTaskEvent(rec database.TaskEventRecord) (int64, error)
}

// Task event names stored in task_events.event
const (
	TaskFired     = "fired"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskState     = "state"
)

// Recorder persists session and task events from the bus. Write failures
// are logged and counted; they never reach the publisher.
type Recorder struct {
	store  Store
	logger *logging.Logger

	mu       sync.Mutex
	bus      events.EventBus
	subs     []events.SubscriptionID
	written  int
	failures int
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewLogger("History")
	}
	return &Recorder{store: store, logger: logger}
}

// Attach subscribes the recorder to every event type it stores
func (r *Recorder) Attach(bus events.EventBus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus = bus
	for _, t := range []events.EventType{
		events.EventTypeSessionCreated,
		events.EventTypeSessionState,
		events.EventTypeTaskState,
		events.EventTypeTaskFired,
		events.EventTypeTaskCompleted,
		events.EventTypeTaskFailed,
	} {
		r.subs = append(r.subs, bus.Subscribe(t, r.Handle))
	}
}

// Detach removes the recorder's subscriptions
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus == nil {
		return
	}
	for _, id := range r.subs {
		r.bus.Unsubscribe(id)
	}
	r.subs = nil
	r.bus = nil
}

// Counts returns how many events were written and how many writes failed
func (r *Recorder) Counts() (written, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.failures
}

// Handle stores one event
func (r *Recorder) Handle(e events.Event) {
	var err error
	switch e.Type {
	case events.EventTypeSessionCreated:
		err = r.store.CreateSession(database.SessionRecord{
			ID:          e.SessionID,
			Target:      str(e.Data, "target"),
			CaptureKind: str(e.Data, "kind"),
			StartedAt:   e.Timestamp,
		})

	case events.EventTypeSessionState:
		err = r.transition(e)

	case events.EventTypeTaskFired:
		err = r.task(e, TaskFired, map[string]interface{}{"seq": e.Data["seq"]})

	case events.EventTypeTaskCompleted:
		err = r.task(e, TaskCompleted, map[string]interface{}{"attempts": e.Data["attempts"]})

	case events.EventTypeTaskFailed:
		err = r.task(e, TaskFailed, map[string]interface{}{
			"code":  e.Data["code"],
			"error": e.Data["error"],
		})

	case events.EventTypeTaskState:
		err = r.task(e, TaskState, map[string]interface{}{
			"from":   e.Data["from"],
			"to":     e.Data["to"],
			"reason": e.Data["reason"],
		})

	default:
		return
	}

	r.mu.Lock()
	if err != nil {
		r.failures++
	} else {
		r.written++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.ErrorWithContext("Failed to record event", err, map[string]interface{}{
			"type":       string(e.Type),
			"session_id": e.SessionID,
		})
	}
}

func (r *Recorder) transition(e events.Event) error {
	to := str(e.Data, "to")
	reason := str(e.Data, "reason")

	rec := database.TransitionRecord{
		SessionID:  e.SessionID,
		FromState:  str(e.Data, "from"),
		ToState:    to,
		Reason:     reason,
		OccurredAt: e.Timestamp,
	}
	if detail, ok := e.Data["detail"]; ok {
		encoded, err := encode(detail)
		if err != nil {
			return err
		}
		rec.Detail = encoded
	}
	if _, err := r.store.RecordTransition(rec); err != nil {
		return err
	}

	if to == "Stopped" || to == "Error" {
		return r.store.EndSession(e.SessionID, to, reason, e.Timestamp)
	}
	return nil
}

func (r *Recorder) task(e events.Event, name string, detail map[string]interface{}) error {
	for k, v := range detail {
		if v == nil {
			delete(detail, k)
		}
	}
	rec := database.TaskEventRecord{
		SessionID:  e.SessionID,
		TaskID:     str(e.Data, "task_id"),
		Event:      name,
		OccurredAt: e.Timestamp,
	}
	if len(detail) > 0 {
		encoded, err := encode(detail)
		if err != nil {
			return err
		}
		rec.Detail = encoded
	}
	_, err := r.store.RecordTaskEvent(rec)
	return err
}

func encode(v interface{}) (*string, error) {
	s, err := sonic.MarshalString(v)
	if err != nil {
		return nil, fmt.Errorf("encode detail: %w", err)
	}
	return &s, nil
}

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
