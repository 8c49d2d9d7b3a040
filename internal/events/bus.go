package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// subscription represents a single event subscription
type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// anyEvent keys subscriptions registered through SubscribeAll
const anyEvent EventType = "*"

// DefaultEventBus is the default implementation of EventBus.
// Events are delivered one at a time, in publish order, to every handler.
type DefaultEventBus struct {
	// Subscriber management
	subscribers map[EventType][]subscription
	mu          sync.RWMutex

	// Event queue
	eventQueue chan Event
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	nextSubID SubscriptionID
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *DefaultEventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	bus := &DefaultEventBus{
		subscribers: make(map[EventType][]subscription),
		eventQueue:  make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
		nextSubID:   1,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type
func (eb *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subID := eb.nextSubID
	eb.nextSubID++

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{
		id:      subID,
		handler: handler,
	})

	return subID
}

// SubscribeAll registers a handler that receives every event
func (eb *DefaultEventBus) SubscribeAll(handler EventHandler) SubscriptionID {
	return eb.Subscribe(anyEvent, handler)
}

// Unsubscribe removes a subscription by ID
func (eb *DefaultEventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, subs := range eb.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish queues an event for delivery, blocking while the queue is full
func (eb *DefaultEventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-eb.stopCh:
		log.Warn().Str("event_type", string(event.Type)).Msg("dropped event, bus stopped")
		return
	default:
	}

	select {
	case eb.eventQueue <- event:
	case <-eb.stopCh:
		log.Warn().Str("event_type", string(event.Type)).Msg("dropped event, bus stopped")
	}
}

// Stop stops the event bus and drains remaining events
func (eb *DefaultEventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopCh)
	})
	eb.wg.Wait()
}

// processEvents runs in a goroutine and dispatches events to handlers
func (eb *DefaultEventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.eventQueue:
			eb.dispatch(event)

		case <-eb.stopCh:
			for {
				select {
				case event := <-eb.eventQueue:
					eb.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

// dispatch calls every handler for the event in subscription order
func (eb *DefaultEventBus) dispatch(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.Type]
	wildcard := eb.subscribers[anyEvent]
	handlers := make([]EventHandler, 0, len(subs)+len(wildcard))
	for _, sub := range subs {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range wildcard {
		handlers = append(handlers, sub.handler)
	}
	eb.mu.RUnlock()

	for _, handler := range handlers {
		eb.safeHandlerCall(handler, event)
	}
}

// safeHandlerCall calls a handler with panic recovery
func (eb *DefaultEventBus) safeHandlerCall(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("event handler panic")
		}
	}()

	handler(event)
}

// GetSubscriberCount returns the number of subscribers for an event type
func (eb *DefaultEventBus) GetSubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.subscribers[eventType])
}

// GetQueueSize returns the current number of events in the queue
func (eb *DefaultEventBus) GetQueueSize() int {
	return len(eb.eventQueue)
}

// Recorder is an EventBus that keeps every published event in memory and
// delivers synchronously. Useful when a caller needs to inspect emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	subs   map[EventType][]subscription
	nextID SubscriptionID
}

// NewRecorder creates an empty recorder bus
func NewRecorder() *Recorder {
	return &Recorder{subs: make(map[EventType][]subscription), nextID: 1}
}

func (r *Recorder) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[eventType] = append(r.subs[eventType], subscription{id: id, handler: handler})
	return id
}

func (r *Recorder) SubscribeAll(handler EventHandler) SubscriptionID {
	return r.Subscribe(anyEvent, handler)
}

func (r *Recorder) Unsubscribe(id SubscriptionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for eventType, subs := range r.subs {
		for i, sub := range subs {
			if sub.id == id {
				r.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (r *Recorder) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	handlers := make([]EventHandler, 0)
	for _, sub := range r.subs[event.Type] {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range r.subs[anyEvent] {
		handlers = append(handlers, sub.handler)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (r *Recorder) Stop() {}

// Events returns a copy of every event published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type, in publish order
func (r *Recorder) OfType(eventType EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
