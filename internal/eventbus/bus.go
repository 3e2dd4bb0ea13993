// Package eventbus carries the session's named domain events to any number
// of observers. Each subscriber sees events in publish order; a slow
// subscriber queues without blocking the publisher or other subscribers.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType identifies the type of event
type EventType string

const (
	// State events
	EventStatusChanged         EventType = "status_changed"
	EventRepositoryListUpdated EventType = "repository_list_updated"
	EventRepositorySelected    EventType = "repository_selected"
	EventCommandsUpdated       EventType = "commands_updated"

	// Session lifecycle events
	EventAuthenticated         EventType = "authenticated"
	EventServerRestartDetected EventType = "server_restart_detected"

	// Conversation events
	EventChatAppended EventType = "chat_appended"
	EventServerError  EventType = "server_error"

	// Diagnostic log events
	EventLogAppended EventType = "log_appended"
)

// Event represents an event in the system
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithSource sets the source
func (e *Event) WithSource(source string) *Event {
	e.Source = source
	return e
}

// WithData adds data to the event
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns Data[key] as a string, or "".
func (e *Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// JSON returns the event as JSON
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Subscriber is a function that handles events
type Subscriber func(event *Event)

type subscription struct {
	id         string
	eventTypes []EventType // nil means all events
	handler    Subscriber

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Event
	closed bool
	done   chan struct{}
}

func (s *subscription) matches(t EventType) bool {
	if s.eventTypes == nil {
		return true
	}
	for _, et := range s.eventTypes {
		if et == t {
			return true
		}
	}
	return false
}

func (s *subscription) enqueue(e *Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, e)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// run delivers queued events one at a time, in order.
func (s *subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(e)
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Bus is the central event bus
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[string]*subscription
	nextID       int
	eventHistory []*Event
	historyLimit int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers:  make(map[string]*subscription),
		historyLimit: 1000,
	}
}

// Subscribe registers a subscriber for specific event types.
// Pass nil for eventTypes to subscribe to all events.
func (b *Bus) Subscribe(eventTypes []EventType, handler Subscriber) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := fmt.Sprintf("sub-%d", b.nextID)

	sub := &subscription{
		id:         id,
		eventTypes: eventTypes,
		handler:    handler,
		done:       make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	b.subscribers[id] = sub
	go sub.run()

	return id
}

// Channel subscribes and returns a channel of events plus a cancel func.
// The channel is never closed; stop reading after cancel.
func (b *Bus) Channel(eventTypes []EventType, size int) (<-chan *Event, func()) {
	ch := make(chan *Event, size)
	stop := make(chan struct{})
	id := b.Subscribe(eventTypes, func(e *Event) {
		select {
		case ch <- e:
		case <-stop:
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			close(stop)
			b.Unsubscribe(id)
		})
	}
}

// Unsubscribe removes a subscriber. Queued events are discarded.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if ok {
		sub.stop()
	}
}

// Publish records event in history and queues it for every matching subscriber.
func (b *Bus) Publish(event *Event) {
	b.mu.Lock()
	b.eventHistory = append(b.eventHistory, event)
	if len(b.eventHistory) > b.historyLimit {
		b.eventHistory = b.eventHistory[1:]
	}
	subscribers := make([]*subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	for _, sub := range subscribers {
		if sub.matches(event.Type) {
			sub.enqueue(event)
		}
	}
}

// GetHistory returns recent events
func (b *Bus) GetHistory(limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.eventHistory) {
		limit = len(b.eventHistory)
	}

	start := len(b.eventHistory) - limit
	result := make([]*Event, limit)
	copy(result, b.eventHistory[start:])
	return result
}

// GetHistoryByType returns recent events of specific types
func (b *Bus) GetHistoryByType(eventTypes []EventType, limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	typeSet := make(map[EventType]bool)
	for _, et := range eventTypes {
		typeSet[et] = true
	}

	var result []*Event
	for i := len(b.eventHistory) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		if typeSet[b.eventHistory[i].Type] {
			result = append(result, b.eventHistory[i])
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}
