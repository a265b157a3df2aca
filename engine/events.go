package engine

import (
	"time"

	"stationedge/lifecycle"
	"stationedge/protocol"
	"stationedge/queuesync"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Connection events
	EventConnectionStateChanged EventType = iota + 1
	EventAuthenticated
	EventAuthFailed
	EventDisconnected

	// Queue events
	EventQueuesRefreshed
	EventQueueChanged
	EventSeatsExhausted
	EventPushSuppressed
	EventRefreshFailed

	// Booking events
	EventSelectionChanged
	EventBookingCompleted
	EventConflictResolved

	// Lifecycle events
	EventVehicleStateChanged
	EventExitPassIssued
	EventExitConfirmed
	EventExitPassClosed

	// Server events
	EventServerError
)

var eventNames = map[EventType]string{
	EventConnectionStateChanged: "connection-state",
	EventAuthenticated:          "authenticated",
	EventAuthFailed:             "auth-failed",
	EventDisconnected:           "disconnected",
	EventQueuesRefreshed:        "queues-refreshed",
	EventQueueChanged:           "queue-changed",
	EventSeatsExhausted:         "seats-exhausted",
	EventPushSuppressed:         "push-suppressed",
	EventRefreshFailed:          "refresh-failed",
	EventSelectionChanged:       "selection-changed",
	EventBookingCompleted:       "booking-completed",
	EventConflictResolved:       "conflict-resolved",
	EventVehicleStateChanged:    "vehicle-state",
	EventExitPassIssued:         "exit-pass-issued",
	EventExitConfirmed:          "exit-confirmed",
	EventExitPassClosed:         "exit-pass-closed",
	EventServerError:            "server-error",
}

// String returns the wire name used for SSE event names.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Payload is implemented only by the event structs in this file, so a
// subscriber's type switch over them is exhaustive.
type Payload interface {
	EventType() EventType
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   Payload
}

// ConnectionStateEvent is emitted on every push channel state change.
type ConnectionStateEvent struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// AuthenticatedEvent is emitted when the server accepts the credentials.
type AuthenticatedEvent struct{}

// AuthFailedEvent is emitted when credentials are rejected or unusable.
type AuthFailedEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// DisconnectedEvent is emitted when the channel closes.
type DisconnectedEvent struct {
	Error  string `json:"error,omitempty"`
	Manual bool   `json:"manual"`
}

// QueuesRefreshedEvent is emitted after a full refresh or dashboard push.
type QueuesRefreshedEvent struct {
	Snapshot *queuesync.Snapshot `json:"-"`

	Version      uint64    `json:"version"`
	Destinations int       `json:"destinations"`
	RefreshedAt  time.Time `json:"refreshedAt"`
}

// QueueChangedEvent is emitted when one destination changes.
type QueueChangedEvent struct {
	Destination string                `json:"destination"`
	Items       []protocol.QueueItem  `json:"items"`
	Summary     protocol.QueueSummary `json:"summary"`
}

// SeatsExhaustedEvent is emitted when a vehicle's last seat is booked.
type SeatsExhaustedEvent struct {
	Destination string             `json:"destination"`
	Item        protocol.QueueItem `json:"item"`
}

// PushSuppressedEvent is emitted when a bulk push is discarded. An empty
// scope means the whole payload.
type PushSuppressedEvent struct {
	Scope string `json:"scope,omitempty"`
}

// RefreshFailedEvent is emitted when a pull fails. The previous view is kept.
type RefreshFailedEvent struct {
	Scope string `json:"scope,omitempty"`
	Error string `json:"error"`
}

// SelectionChangedEvent is emitted when the operator's booking selection
// changes or is cleared.
type SelectionChangedEvent struct {
	Destination  string `json:"destination,omitempty"`
	LicensePlate string `json:"licensePlate,omitempty"`
	Seats        int    `json:"seats,omitempty"`
	Cleared      bool   `json:"cleared"`
}

// BookingCompletedEvent is emitted after a local booking succeeds.
type BookingCompletedEvent struct {
	Destination string                  `json:"destination"`
	Result      *protocol.BookingResult `json:"result"`
}

// ConflictResolvedEvent is emitted after a conflict was resolved locally.
type ConflictResolvedEvent struct {
	Code             string `json:"code"`
	Message          string `json:"message,omitempty"`
	Destination      string `json:"destination,omitempty"`
	SelectionCleared bool   `json:"selectionCleared"`
	Refresh          string `json:"refresh"`
}

// VehicleStateChangedEvent is emitted on lifecycle transitions.
type VehicleStateChangedEvent struct {
	LicensePlate string `json:"licensePlate"`
	Destination  string `json:"destination"`
	OldState     string `json:"oldState"`
	NewState     string `json:"newState"`
}

// ExitPassEvent carries an exit pass for issue, confirm and close events.
type ExitPassEvent struct {
	Type EventType           `json:"-"`
	Pass *lifecycle.ExitPass `json:"pass"`
}

// ServerErrorEvent is emitted for error pushes.
type ServerErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (ConnectionStateEvent) EventType() EventType     { return EventConnectionStateChanged }
func (AuthenticatedEvent) EventType() EventType       { return EventAuthenticated }
func (AuthFailedEvent) EventType() EventType          { return EventAuthFailed }
func (DisconnectedEvent) EventType() EventType        { return EventDisconnected }
func (QueuesRefreshedEvent) EventType() EventType     { return EventQueuesRefreshed }
func (QueueChangedEvent) EventType() EventType        { return EventQueueChanged }
func (SeatsExhaustedEvent) EventType() EventType      { return EventSeatsExhausted }
func (PushSuppressedEvent) EventType() EventType      { return EventPushSuppressed }
func (RefreshFailedEvent) EventType() EventType       { return EventRefreshFailed }
func (SelectionChangedEvent) EventType() EventType    { return EventSelectionChanged }
func (BookingCompletedEvent) EventType() EventType    { return EventBookingCompleted }
func (ConflictResolvedEvent) EventType() EventType    { return EventConflictResolved }
func (VehicleStateChangedEvent) EventType() EventType { return EventVehicleStateChanged }
func (e ExitPassEvent) EventType() EventType          { return e.Type }
func (ServerErrorEvent) EventType() EventType         { return EventServerError }
