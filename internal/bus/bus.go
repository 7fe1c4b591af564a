// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for CortexAssist
const (
	// Session events
	EventTypeStatusChanged EventType = "session.status_changed"
	EventTypeBusy          EventType = "session.busy"
	EventTypeRoundTrip     EventType = "session.round_trip"

	// Conversation events
	EventTypeMessageAppended EventType = "conversation.message_appended"

	// Speech events
	EventTypeListeningStarted EventType = "speech.listening_started"
	EventTypeListeningStopped EventType = "speech.listening_stopped"
	EventTypeSpeakingStarted  EventType = "speech.speaking_started"
	EventTypeSpeakingStopped  EventType = "speech.speaking_stopped"
	EventTypeTranscript       EventType = "speech.transcript"

	// Reminder events
	EventTypeRemindersChanged EventType = "reminders.changed"
	EventTypePanelToggled     EventType = "reminders.panel_toggled"
	EventTypeEditChanged      EventType = "reminders.edit_changed"

	// Backend events
	EventTypeBackendConfig EventType = "backend.config"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// SubscribeAll adds a handler that receives every event
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	handlers = append(handlers, b.handlers[t]...)
	handlers = append(handlers, b.all...)
	return handlers
}

// Publish sends an event to all subscribed handlers without waiting for them
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	var wg sync.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	b.all = nil
}
