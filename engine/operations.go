package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"stationedge/conflict"
	"stationedge/conn"
	"stationedge/lifecycle"
	"stationedge/protocol"
)

// ErrVehicleNotFound means the plate is in no known queue.
var ErrVehicleNotFound = errors.New("vehicle not found in any queue")

// --- Selection ---

// Selection returns the operator's current booking selection.
func (e *Engine) Selection() conflict.Selection {
	e.selMu.Lock()
	defer e.selMu.Unlock()
	return e.selection
}

// Select replaces the booking selection.
func (e *Engine) Select(sel conflict.Selection) {
	sel.DestinationName = protocol.CanonicalName(sel.DestinationName)
	sel.LicensePlate = strings.TrimSpace(sel.LicensePlate)
	e.selMu.Lock()
	e.selection = sel
	e.selMu.Unlock()
	e.Events.Publish(SelectionChangedEvent{
		Destination: sel.DestinationName, LicensePlate: sel.LicensePlate, Seats: sel.Seats, Cleared: sel.IsZero(),
	})
}

// ClearSelection drops the booking selection.
func (e *Engine) ClearSelection() {
	e.Select(conflict.Selection{})
}

// --- Conflicts ---

// resolveConflict applies the correction for a conflict, whether it came
// back from a mutation or was pushed by the server.
func (e *Engine) resolveConflict(ce *conflict.Error) conflict.Resolution {
	res := conflict.Resolve(conflict.FromError(ce), e.Selection())
	if res.ClearSelection {
		e.ClearSelection()
	}
	e.logFn("conflict %s: dest=%q plate=%q refresh=%s", ce.Code, ce.DestinationName, ce.LicensePlate, res.Refresh)
	e.Events.Publish(ConflictResolvedEvent{
		Code:             string(ce.Code),
		Message:          ce.Message,
		Destination:      res.DestinationName,
		SelectionCleared: res.ClearSelection,
		Refresh:          res.Refresh.String(),
	})

	switch res.Refresh {
	case conflict.RefreshSeats:
		dest := res.DestinationName
		e.async("conflict refresh "+dest, func(ctx context.Context) error {
			return e.queues.RefreshDestination(ctx, dest)
		})
	case conflict.RefreshAll:
		e.async("conflict refresh", e.queues.Refresh)
	}
	return res
}

// checkConflict resolves err when it is a conflict, filling in scope the
// server left out. err is returned unchanged.
func (e *Engine) checkConflict(err error, destination, licensePlate string) error {
	ce, ok := conflict.As(err)
	if !ok {
		return err
	}
	if ce.DestinationName == "" {
		ce.DestinationName = destination
	}
	if ce.LicensePlate == "" {
		ce.LicensePlate = licensePlate
	}
	e.resolveConflict(ce)
	return err
}

// --- Booking and queue mutations ---

// Book books seats on a destination. Vehicles filled by the booking start
// the exit workflow through SeatsExhausted events.
func (e *Engine) Book(ctx context.Context, destination string, seats int) (*protocol.BookingResult, error) {
	dest := protocol.CanonicalName(destination)
	res, exhausted, err := e.queues.Book(ctx, dest, seats)
	if err != nil {
		return nil, e.checkConflict(err, dest, "")
	}
	e.debugFn("booked %d seats on %s, %d vehicles filled", seats, dest, len(exhausted))
	e.Events.Publish(BookingCompletedEvent{Destination: dest, Result: res})
	e.ClearSelection()
	return res, nil
}

// BookSelection books the current selection.
func (e *Engine) BookSelection(ctx context.Context) (*protocol.BookingResult, error) {
	sel := e.Selection()
	if sel.DestinationName == "" || sel.Seats <= 0 {
		return nil, fmt.Errorf("book: no destination and seat count selected")
	}
	return e.Book(ctx, sel.DestinationName, sel.Seats)
}

// EnterQueue adds a vehicle to its destination queue.
func (e *Engine) EnterQueue(ctx context.Context, licensePlate string) error {
	if err := e.queues.EnterQueue(ctx, licensePlate); err != nil {
		return e.checkConflict(err, "", licensePlate)
	}
	return nil
}

// ExitQueue removes a vehicle from its queue without an exit pass.
func (e *Engine) ExitQueue(ctx context.Context, licensePlate string) error {
	dest, _, _ := e.queues.Snapshot().FindVehicle(licensePlate)
	if err := e.queues.ExitQueue(ctx, licensePlate); err != nil {
		return e.checkConflict(err, dest, licensePlate)
	}
	return nil
}

// UpdateVehicleStatus sets a vehicle's status on the server.
func (e *Engine) UpdateVehicleStatus(ctx context.Context, licensePlate string, status protocol.VehicleStatus) error {
	dest, _, _ := e.queues.Snapshot().FindVehicle(licensePlate)
	if err := e.queues.UpdateVehicleStatus(ctx, licensePlate, status); err != nil {
		return e.checkConflict(err, dest, licensePlate)
	}
	return nil
}

// Refresh pulls every destination.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.queues.Refresh(ctx)
}

// RefreshDestination pulls one destination.
func (e *Engine) RefreshDestination(ctx context.Context, destination string) error {
	return e.queues.RefreshDestination(ctx, destination)
}

// RequestDashboard fetches the full dashboard over the push channel and
// merges it like a dashboard push, suppression window included.
func (e *Engine) RequestDashboard(ctx context.Context) error {
	data, err := e.conn.RequestDashboard(ctx)
	if err != nil {
		return err
	}
	if !e.queues.ApplyDashboard(data) {
		e.debugFn("dashboard reply not applied")
	}
	return nil
}

// --- Exit passes ---

// ActivePasses lists exit passes awaiting confirmation.
func (e *Engine) ActivePasses() []*lifecycle.ExitPass {
	return e.lifecycle.ActivePasses()
}

// ConfirmExit removes the vehicle from its queue. When the server reports
// the vehicle already gone, the pass is closed and the view corrected.
func (e *Engine) ConfirmExit(ctx context.Context, licensePlate, destination string) error {
	key := lifecycle.KeyFor(licensePlate, destination)
	err := e.lifecycle.Confirm(ctx, key)
	if err == nil {
		return nil
	}
	if ce, ok := conflict.As(err); ok && ce.Code == conflict.CodeVehicleNotQueued {
		if cerr := e.lifecycle.Close(key); cerr != nil {
			log.Printf("close pass %s: %v", key, cerr)
		}
	}
	return e.checkConflict(err, key.Destination, key.LicensePlate)
}

// ReprintExit prints the open pass again.
func (e *Engine) ReprintExit(licensePlate, destination string) error {
	return e.lifecycle.RequestReprint(lifecycle.KeyFor(licensePlate, destination))
}

// CloseExit dismisses the pass. The vehicle stays READY on the server.
func (e *Engine) CloseExit(licensePlate, destination string) error {
	return e.lifecycle.Close(lifecycle.KeyFor(licensePlate, destination))
}

// ReopenExit presents a new pass for a full vehicle still in its queue.
func (e *Engine) ReopenExit(licensePlate, destination string) (*lifecycle.ExitPass, error) {
	key := lifecycle.KeyFor(licensePlate, destination)
	for _, it := range e.queues.Queue(key.Destination) {
		if strings.EqualFold(strings.TrimSpace(it.Vehicle.LicensePlate), key.LicensePlate) {
			if it.DestinationName == "" {
				it.DestinationName = key.Destination
			}
			return e.lifecycle.Reopen(it)
		}
	}
	return nil, fmt.Errorf("reopen %s: %w", key, ErrVehicleNotFound)
}

// --- Connection and session ---

// ConnectionState returns the push channel state.
func (e *Engine) ConnectionState() conn.State {
	return e.conn.State()
}

// Reconnect drops the channel and dials again with fresh credentials.
func (e *Engine) Reconnect() {
	e.conn.Disconnect()
	e.async("reconnect", e.conn.Connect)
}

// Login stores a staff session and reconnects with it.
func (e *Engine) Login(token, staffID, staffName string) error {
	if err := e.session.Save(strings.TrimSpace(token), staffID, staffName); err != nil {
		return err
	}
	e.logFn("staff signed in: %s", staffID)
	e.Reconnect()
	e.async("refresh after login", e.queues.Refresh)
	return nil
}

// Logout clears the session and closes the channel. Polling takes over
// until the next login.
func (e *Engine) Logout() error {
	if err := e.session.Clear(); err != nil {
		return err
	}
	e.conn.Disconnect()
	e.ClearSelection()
	e.queues.StartPolling()
	e.logFn("staff signed out")
	return nil
}
