package engine

import (
	"log"
	"runtime/debug"
	"sync"

	"stationedge/clock"
)

// SubscriberID uniquely identifies an EventBus subscriber.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(Event)

type subscriber struct {
	id     SubscriberID
	fn     SubscriberFunc
	filter map[EventType]struct{}
}

func (s subscriber) wants(t EventType) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// EventBus dispatches engine events synchronously, in registration order,
// on the emitting goroutine. Emitters include the connection's read loop, so
// a panicking subscriber is recovered and logged instead of killing it.
type EventBus struct {
	clock clock.Clock

	mu          sync.RWMutex
	subscribers []subscriber
	nextID      SubscriberID
}

// NewEventBus creates an EventBus stamping events with clk. A nil clk uses
// the wall clock.
func NewEventBus(clk clock.Clock) *EventBus {
	if clk == nil {
		clk = clock.Real()
	}
	return &EventBus{clock: clk}
}

// Subscribe registers a callback for every event.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.add(fn, nil)
}

// SubscribeTypes registers a callback for the listed event types only.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	filter := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return eb.add(fn, filter)
}

func (eb *EventBus) add(fn SubscriberFunc, filter map[EventType]struct{}) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subscribers = append(eb.subscribers, subscriber{id: eb.nextID, fn: fn, filter: filter})
	return eb.nextID
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subscribers {
		if s.id == id {
			eb.subscribers = append(eb.subscribers[:i:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish emits p, typed by its EventType method.
func (eb *EventBus) Publish(p Payload) {
	eb.Emit(Event{Type: p.EventType(), Payload: p})
}

// Emit dispatches evt to matching subscribers. A zero Type is taken from the
// payload and a zero Timestamp from the bus clock.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = eb.clock.Now()
	}
	if evt.Type == 0 && evt.Payload != nil {
		evt.Type = evt.Payload.EventType()
	}

	eb.mu.RLock()
	subs := append([]subscriber(nil), eb.subscribers...)
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.wants(evt.Type) {
			eb.deliver(s, evt)
		}
	}
}

func (eb *EventBus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: subscriber %d panicked on %s: %v\n%s", s.id, evt.Type, r, debug.Stack())
		}
	}()
	s.fn(evt)
}
