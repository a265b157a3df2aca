// Package lifecycle drives a queued vehicle from loading to confirmed exit.
// Filling the last seat issues an exit pass; the vehicle leaves the queue
// only when an operator confirms it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"stationedge/clock"
	"stationedge/protocol"
	"stationedge/store"
)

var (
	// ErrNoActivePass is returned by Confirm, RequestReprint and Close for a
	// vehicle without an open exit pass.
	ErrNoActivePass = errors.New("lifecycle: no active exit pass")

	// ErrAlreadyPending is returned when a vehicle is already in the exit
	// workflow.
	ErrAlreadyPending = errors.New("lifecycle: exit already pending")

	// ErrNotFullyBooked is returned by Reopen for a vehicle with free seats.
	ErrNotFullyBooked = errors.New("lifecycle: vehicle has free seats")
)

// Mutator issues the server mutations the workflow needs.
type Mutator interface {
	UpdateVehicleStatus(ctx context.Context, licensePlate string, status protocol.VehicleStatus) error
	ExitQueue(ctx context.Context, licensePlate string) error
}

// DetailRefresher reloads one destination after an exit.
type DetailRefresher interface {
	RefreshDestination(ctx context.Context, destination string) error
}

// Printer produces the physical exit pass.
type Printer interface {
	PrintExitPass(pass *ExitPass) error
}

// Options configures a Machine.
type Options struct {
	Clock clock.Clock

	// StaffID names the operator recorded in the exit ledger. May be nil.
	StaffID func() string
}

// Machine tracks lifecycle state for every vehicle the terminal has seen.
type Machine struct {
	mu        sync.Mutex
	queue     Mutator
	refresher DetailRefresher
	db        *store.DB
	printer   Printer
	emitter   EventEmitter
	clock     clock.Clock
	staffID   func() string

	states  map[VehicleKey]string
	pending map[VehicleKey]bool
	passes  map[VehicleKey]*ExitPass
	exited  map[VehicleKey]string // queue item id at exit
}

// NewMachine creates a lifecycle machine. refresher, db, printer and emitter
// may be nil.
func NewMachine(queue Mutator, refresher DetailRefresher, db *store.DB, printer Printer, emitter EventEmitter, opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Machine{
		queue:     queue,
		refresher: refresher,
		db:        db,
		printer:   printer,
		emitter:   emitter,
		clock:     opts.Clock,
		staffID:   opts.StaffID,
		states:    make(map[VehicleKey]string),
		pending:   make(map[VehicleKey]bool),
		passes:    make(map[VehicleKey]*ExitPass),
		exited:    make(map[VehicleKey]string),
	}
}

// State returns a vehicle's lifecycle state, or "" if unknown.
func (m *Machine) State(key VehicleKey) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key]
}

// IsPending reports whether a vehicle is in the exit workflow.
func (m *Machine) IsPending(key VehicleKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[key]
}

// Pass returns the open exit pass of a vehicle.
func (m *Machine) Pass(key VehicleKey) (*ExitPass, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.passes[key]
	return p, ok
}

// ActivePasses returns all open exit passes, oldest first.
func (m *Machine) ActivePasses() []*ExitPass {
	m.mu.Lock()
	out := make([]*ExitPass, 0, len(m.passes))
	for _, p := range m.passes {
		out = append(out, p)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// Sync updates occupancy states (waiting, loading, ready) from a
// destination's queue. Vehicles in the exit workflow are left alone.
func (m *Machine) Sync(destination string, items []protocol.QueueItem) {
	type change struct {
		key      VehicleKey
		old, new string
	}
	var changes []change

	m.mu.Lock()
	for _, it := range items {
		key := KeyFor(it.Vehicle.LicensePlate, destination)
		if key.LicensePlate == "" || m.pending[key] {
			continue
		}
		if id, ok := m.exited[key]; ok {
			if id == it.ID {
				continue
			}
			// Same vehicle queued again under a new entry.
			delete(m.exited, key)
		}
		next := StateForItem(it)
		old := m.states[key]
		if old == next {
			continue
		}
		m.states[key] = next
		changes = append(changes, change{key, old, next})
	}
	m.mu.Unlock()

	for _, c := range changes {
		if c.old == "" {
			continue
		}
		m.logTransition(c.key, c.old, c.new, "")
		m.emitter.EmitStateChanged(c.key, c.old, c.new)
	}
}

// Trigger starts the exit workflow for a vehicle whose last seat was just
// booked: mark pending, set the server status to READY, build the exit pass
// and present it. A failed status mutation clears the pending mark so the
// trigger can be retried. A vehicle already pending returns
// ErrAlreadyPending.
func (m *Machine) Trigger(ctx context.Context, item protocol.QueueItem) (*ExitPass, error) {
	key := KeyFor(item.Vehicle.LicensePlate, item.DestinationName)

	m.mu.Lock()
	if m.pending[key] {
		m.mu.Unlock()
		return nil, ErrAlreadyPending
	}
	m.pending[key] = true
	old := m.states[key]
	m.mu.Unlock()

	if err := m.queue.UpdateVehicleStatus(ctx, item.Vehicle.LicensePlate, protocol.StatusReady); err != nil {
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
		log.Printf("lifecycle: mark %s ready: %v", key, err)
		return nil, fmt.Errorf("mark %s ready: %w", item.Vehicle.LicensePlate, err)
	}

	pass := m.buildPass(key, item)
	m.present(key, old, pass, "fully booked")
	return pass, nil
}

// Reopen presents a new exit pass for a vehicle that is already READY on the
// server, typically after Close. No server mutation is issued.
func (m *Machine) Reopen(item protocol.QueueItem) (*ExitPass, error) {
	if item.AvailableSeats > 0 {
		return nil, ErrNotFullyBooked
	}
	key := KeyFor(item.Vehicle.LicensePlate, item.DestinationName)

	m.mu.Lock()
	if m.pending[key] {
		m.mu.Unlock()
		return nil, ErrAlreadyPending
	}
	m.pending[key] = true
	old := m.states[key]
	m.mu.Unlock()

	pass := m.buildPass(key, item)
	m.present(key, old, pass, "reopened")
	return pass, nil
}

func (m *Machine) present(key VehicleKey, old string, pass *ExitPass, detail string) {
	m.mu.Lock()
	m.passes[key] = pass
	m.states[key] = StatePendingExitConfirmation
	m.mu.Unlock()

	if old != StateReady && old != "" {
		m.logTransition(key, old, StateReady, "")
	}
	m.logTransition(key, StateReady, StatePendingExitConfirmation, detail)
	m.emitter.EmitStateChanged(key, StateReady, StatePendingExitConfirmation)
	m.emitter.EmitExitPassIssued(pass)
	m.print(pass)
}

// Confirm removes the vehicle from its queue. On failure the pass stays open
// for a retry and the error is returned.
func (m *Machine) Confirm(ctx context.Context, key VehicleKey) error {
	m.mu.Lock()
	pass, ok := m.passes[key]
	m.mu.Unlock()
	if !ok {
		return ErrNoActivePass
	}

	if err := m.queue.ExitQueue(ctx, pass.LicensePlate); err != nil {
		log.Printf("lifecycle: exit %s: %v", key, err)
		return fmt.Errorf("exit %s: %w", pass.LicensePlate, err)
	}

	now := m.clock.Now()
	m.mu.Lock()
	delete(m.passes, key)
	delete(m.pending, key)
	m.states[key] = StateExited
	m.exited[key] = pass.QueueItemID
	m.mu.Unlock()

	m.recordExit(pass, now)
	m.logTransition(key, StatePendingExitConfirmation, StateExited, "")
	m.emitter.EmitStateChanged(key, StatePendingExitConfirmation, StateExited)
	m.emitter.EmitExitConfirmed(pass)

	if m.refresher != nil {
		if err := m.refresher.RefreshDestination(ctx, key.Destination); err != nil {
			log.Printf("lifecycle: refresh %s after exit: %v", key.Destination, err)
		}
	}
	return nil
}

// RequestReprint prints the open pass again. It never changes state.
func (m *Machine) RequestReprint(key VehicleKey) error {
	m.mu.Lock()
	pass, ok := m.passes[key]
	m.mu.Unlock()
	if !ok {
		return ErrNoActivePass
	}
	if m.printer == nil {
		return nil
	}
	return m.printer.PrintExitPass(pass)
}

// Close dismisses the pass without touching the server: the vehicle stays
// READY there and can be reopened later.
func (m *Machine) Close(key VehicleKey) error {
	m.mu.Lock()
	pass, ok := m.passes[key]
	if !ok {
		m.mu.Unlock()
		return ErrNoActivePass
	}
	delete(m.passes, key)
	delete(m.pending, key)
	m.states[key] = StateReady
	m.mu.Unlock()

	m.logTransition(key, StatePendingExitConfirmation, StateReady, "exit pass closed")
	m.emitter.EmitStateChanged(key, StatePendingExitConfirmation, StateReady)
	m.emitter.EmitExitPassClosed(pass)
	return nil
}

func (m *Machine) buildPass(key VehicleKey, item protocol.QueueItem) *ExitPass {
	now := m.clock.Now()
	pass := &ExitPass{
		LicensePlate:    strings.TrimSpace(item.Vehicle.LicensePlate),
		DestinationName: key.Destination,
		QueueItemID:     item.ID,
		TotalSeats:      item.TotalSeats,
		BookedSeats:     item.BookedSeats(),
		BasePrice:       item.BasePrice,
		IssuedAt:        now,
	}
	if m.db == nil {
		return pass
	}
	last, err := m.db.LastExit(key.Destination)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("lifecycle: previous exit for %s: %v", key.Destination, err)
		}
		return pass
	}
	if !strings.EqualFold(last.LicensePlate, pass.LicensePlate) && sameDay(last.ExitedAt, now) {
		pass.PreviousVehicle = &PreviousExit{LicensePlate: last.LicensePlate, ExitTime: last.ExitedAt}
	}
	return pass
}

func (m *Machine) recordExit(pass *ExitPass, at time.Time) {
	if m.db == nil {
		return
	}
	rec := &store.ExitRecord{
		LicensePlate:    pass.LicensePlate,
		DestinationName: pass.DestinationName,
		QueueItemID:     pass.QueueItemID,
		TotalSeats:      pass.TotalSeats,
		BookedSeats:     pass.BookedSeats,
		ExitedAt:        at,
	}
	if m.staffID != nil {
		rec.StaffID = m.staffID()
	}
	if err := m.db.RecordExit(rec); err != nil {
		log.Printf("lifecycle: record exit %s: %v", pass.Key(), err)
	}
}

func (m *Machine) print(pass *ExitPass) {
	if m.printer == nil {
		return
	}
	if err := m.printer.PrintExitPass(pass); err != nil {
		log.Printf("lifecycle: print exit pass %s: %v", pass.Key(), err)
	}
}

func (m *Machine) logTransition(key VehicleKey, oldState, newState, detail string) {
	if !IsValidTransition(oldState, newState) {
		log.Printf("lifecycle: unexpected transition %s: %s -> %s", key, oldState, newState)
	}
	if m.db == nil {
		return
	}
	if _, err := m.db.InsertLifecycleLog(key.LicensePlate, key.Destination, oldState, newState, detail); err != nil {
		log.Printf("insert lifecycle log: %v", err)
	}
}

// sameDay compares calendar days in now's location.
func sameDay(t, now time.Time) bool {
	y1, m1, d1 := t.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
