package engine

import (
	"stationedge/conn"
	"stationedge/lifecycle"
	"stationedge/protocol"
	"stationedge/queuesync"
)

// connEmitter adapts the engine's EventBus to the conn.EventEmitter interface.
type connEmitter struct {
	bus *EventBus
}

func (e *connEmitter) EmitStateChanged(old, new conn.State) {
	e.bus.Publish(ConnectionStateEvent{Old: string(old), New: string(new)})
}

func (e *connEmitter) EmitAuthenticated() {
	e.bus.Publish(AuthenticatedEvent{})
}

func (e *connEmitter) EmitAuthError(err *conn.AuthError) {
	e.bus.Publish(AuthFailedEvent{Code: err.Code, Message: err.Message})
}

func (e *connEmitter) EmitDisconnected(err error, manual bool) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	e.bus.Publish(DisconnectedEvent{Error: errStr, Manual: manual})
}

// Inbound messages reach the engine through the push handler instead.
func (e *connEmitter) EmitMessage(*protocol.Envelope) {}

// queueEmitter adapts the engine's EventBus to the queuesync.EventEmitter interface.
type queueEmitter struct {
	bus *EventBus
}

func (e *queueEmitter) EmitQueuesRefreshed(snap *queuesync.Snapshot) {
	e.bus.Publish(QueuesRefreshedEvent{
		Snapshot: snap, Version: snap.Version, Destinations: len(snap.Destinations()), RefreshedAt: snap.RefreshedAt,
	})
}

func (e *queueEmitter) EmitQueueChanged(destination string, items []protocol.QueueItem, summary protocol.QueueSummary) {
	e.bus.Publish(QueueChangedEvent{Destination: destination, Items: items, Summary: summary})
}

func (e *queueEmitter) EmitSeatsExhausted(destination string, item protocol.QueueItem) {
	e.bus.Publish(SeatsExhaustedEvent{Destination: destination, Item: item})
}

func (e *queueEmitter) EmitPushSuppressed(scope string) {
	e.bus.Publish(PushSuppressedEvent{Scope: scope})
}

func (e *queueEmitter) EmitRefreshFailed(scope string, err error) {
	e.bus.Publish(RefreshFailedEvent{Scope: scope, Error: err.Error()})
}

// lifecycleEmitter adapts the engine's EventBus to the lifecycle.EventEmitter interface.
type lifecycleEmitter struct {
	bus *EventBus
}

func (e *lifecycleEmitter) EmitStateChanged(key lifecycle.VehicleKey, oldState, newState string) {
	e.bus.Publish(VehicleStateChangedEvent{
		LicensePlate: key.LicensePlate, Destination: key.Destination, OldState: oldState, NewState: newState,
	})
}

func (e *lifecycleEmitter) EmitExitPassIssued(pass *lifecycle.ExitPass) {
	e.bus.Publish(ExitPassEvent{Type: EventExitPassIssued, Pass: pass})
}

func (e *lifecycleEmitter) EmitExitConfirmed(pass *lifecycle.ExitPass) {
	e.bus.Publish(ExitPassEvent{Type: EventExitConfirmed, Pass: pass})
}

func (e *lifecycleEmitter) EmitExitPassClosed(pass *lifecycle.ExitPass) {
	e.bus.Publish(ExitPassEvent{Type: EventExitPassClosed, Pass: pass})
}
