package engine

import (
	"testing"

	"stationedge/clock"
	"stationedge/lifecycle"
)

func TestEventBusFilterAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	var all, filtered []EventType
	allID := bus.Subscribe(func(evt Event) { all = append(all, evt.Type) })
	bus.SubscribeTypes(func(evt Event) { filtered = append(filtered, evt.Type) }, EventQueueChanged)

	bus.Publish(QueueChangedEvent{Destination: "TUNIS"})
	bus.Publish(AuthenticatedEvent{})
	bus.Unsubscribe(allID)
	bus.Publish(QueueChangedEvent{Destination: "SOUSSE"})

	if len(all) != 2 {
		t.Errorf("all = %v, want 2 events", all)
	}
	if len(filtered) != 2 || filtered[0] != EventQueueChanged {
		t.Errorf("filtered = %v", filtered)
	}
}

func TestEventBusTypeFromPayload(t *testing.T) {
	bus := NewEventBus(nil)
	var got Event
	bus.Subscribe(func(evt Event) { got = evt })

	bus.Emit(Event{Payload: ExitPassEvent{Type: EventExitConfirmed, Pass: &lifecycle.ExitPass{LicensePlate: "AB-1"}}})
	if got.Type != EventExitConfirmed {
		t.Errorf("type = %s, want %s", got.Type, EventExitConfirmed)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestEventTypeNames(t *testing.T) {
	seen := make(map[string]EventType)
	for typ := EventConnectionStateChanged; typ <= EventServerError; typ++ {
		name := typ.String()
		if name == "unknown" {
			t.Errorf("event type %d has no name", typ)
		}
		if prev, ok := seen[name]; ok {
			t.Errorf("name %q used by %d and %d", name, prev, typ)
		}
		seen[name] = typ
	}
	if EventType(0).String() != "unknown" {
		t.Error("zero type should be unknown")
	}
}

func TestEventBusRecoversPanickingSubscriber(t *testing.T) {
	clk := clock.Fake(noon)
	bus := NewEventBus(clk)
	bus.Subscribe(func(Event) { panic("boom") })
	var got []Event
	bus.Subscribe(func(evt Event) { got = append(got, evt) })

	bus.Publish(PushSuppressedEvent{})

	if len(got) != 1 {
		t.Fatalf("later subscriber got %d events, want 1", len(got))
	}
	if !got[0].Timestamp.Equal(noon) {
		t.Errorf("timestamp = %v, want bus clock time", got[0].Timestamp)
	}
}
