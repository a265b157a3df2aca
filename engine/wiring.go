package engine

import (
	"context"
	"errors"

	"stationedge/conn"
	"stationedge/lifecycle"
)

// wireEventHandlers sets up the event chain:
// Authenticated → stop polling, request dashboard
// Disconnected / Failed → resume polling
// SeatsExhausted → exit workflow
// QueueChanged / QueuesRefreshed → lifecycle occupancy, redis mirror
func (e *Engine) wireEventHandlers() {
	// Live channel up: the push stream replaces the poll loop
	e.Events.SubscribeTypes(func(evt Event) {
		e.handleAuthenticated()
	}, EventAuthenticated)

	// Channel lost: fall back to polling until the next authentication
	e.Events.SubscribeTypes(func(evt Event) {
		switch p := evt.Payload.(type) {
		case DisconnectedEvent:
			if !p.Manual {
				e.queues.StartPolling()
			}
		case ConnectionStateEvent:
			if p.New == string(conn.StateFailed) {
				e.queues.StartPolling()
			}
		}
	}, EventDisconnected, EventConnectionStateChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		exhausted := evt.Payload.(SeatsExhaustedEvent)
		e.handleSeatsExhausted(exhausted)
	}, EventSeatsExhausted)

	e.Events.SubscribeTypes(func(evt Event) {
		changed := evt.Payload.(QueueChangedEvent)
		e.lifecycle.Sync(changed.Destination, changed.Items)
		if e.mirrorW != nil {
			e.mirrorW.QueueChanged(changed.Destination, changed.Items, changed.Summary)
		}
	}, EventQueueChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		refreshed := evt.Payload.(QueuesRefreshedEvent)
		snap := refreshed.Snapshot
		if snap == nil {
			return
		}
		for _, dest := range snap.Destinations() {
			e.lifecycle.Sync(dest, snap.Queue(dest))
		}
		if e.mirrorW != nil {
			e.mirrorW.SnapshotChanged(snap)
		}
	}, EventQueuesRefreshed)
}

func (e *Engine) handleAuthenticated() {
	e.debugFn("authenticated: stopping poll loop")
	e.queues.StopPolling()
	e.async("dashboard request", e.RequestDashboard)
}

// handleSeatsExhausted starts the exit workflow off the emitting goroutine;
// the status mutation is a network call.
func (e *Engine) handleSeatsExhausted(ev SeatsExhaustedEvent) {
	item := ev.Item
	if item.DestinationName == "" {
		item.DestinationName = ev.Destination
	}
	key := lifecycle.KeyFor(item.Vehicle.LicensePlate, item.DestinationName)
	if e.lifecycle.IsPending(key) {
		e.debugFn("seats exhausted: %s already pending", key)
		return
	}
	e.async("exit workflow "+key.String(), func(ctx context.Context) error {
		pass, err := e.lifecycle.Trigger(ctx, item)
		if errors.Is(err, lifecycle.ErrAlreadyPending) {
			e.debugFn("seats exhausted: %s already pending", key)
			return nil
		}
		if err != nil {
			return err
		}
		e.logFn("exit pass issued: %s seats=%d/%d", key, pass.BookedSeats, pass.TotalSeats)
		return nil
	})
}
