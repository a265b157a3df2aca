package queuesync

import (
	"fmt"
	"log"
	"strings"

	"stationedge/protocol"
)

// ApplyPush merges a pushed envelope. Full dashboards, incremental queue
// updates and status changes are handled; other types are rejected.
func (s *Store) ApplyPush(env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeInitialData, protocol.TypeDashboardData:
		var p protocol.DashboardData
		if err := env.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		s.ApplyDashboard(&p)
	case protocol.TypeQueueUpdate:
		var p protocol.QueueUpdate
		if err := env.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		s.ApplyQueueUpdate(&p)
	case protocol.TypeVehicleStatusChanged:
		var p protocol.VehicleStatusChanged
		if err := env.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		s.ApplyStatusChange(&p)
	default:
		return fmt.Errorf("queuesync: unsupported push type %q", env.Type)
	}
	return nil
}

// ApplyDashboard merges a full dashboard payload. The whole payload is
// discarded inside the global suppression window; destinations inside their
// own window are skipped. Detail is only replaced by non-empty detail. It
// reports whether anything was applied.
func (s *Store) ApplyDashboard(p *protocol.DashboardData) bool {
	now := s.clock.Now()

	s.mu.Lock()
	if s.suppressedLocked(s.anchor, now) {
		s.mu.Unlock()
		log.Printf("queuesync: dashboard push inside suppression window, discarded")
		s.emitter.EmitPushSuppressed("")
		return false
	}

	entries := make([]protocol.DestinationQueue, 0, len(p.Queues)+len(p.Summaries))
	entries = append(entries, p.Queues...)
	listed := make(map[string]bool, len(p.Queues))
	for _, q := range p.Queues {
		listed[protocol.CanonicalName(q.DestinationName)] = true
	}
	for _, sum := range p.Summaries {
		if !listed[protocol.CanonicalName(sum.DestinationName)] {
			entries = append(entries, protocol.DestinationQueue{QueueSummary: sum})
		}
	}

	next := s.Snapshot().clone()
	var skipped []string
	applied := 0
	for _, q := range entries {
		name := protocol.CanonicalName(q.DestinationName)
		if name == "" {
			continue
		}
		if s.suppressedLocked(s.destAnchors[name], now) {
			skipped = append(skipped, name)
			continue
		}
		if len(q.Vehicles) > 0 {
			next.Queues[name] = normalizeItems(name, q.Vehicles)
		} else if _, ok := next.Queues[name]; !ok {
			next.Queues[name] = []protocol.QueueItem{}
		}
		base := q.QueueSummary
		if prev, ok := next.Summaries[name]; ok && base.DestinationID == "" {
			base.DestinationID = prev.DestinationID
		}
		next.Summaries[name] = summarize(base, name, next.Queues[name], false)
		applied++
	}
	if applied == 0 {
		s.mu.Unlock()
		for _, name := range skipped {
			s.emitter.EmitPushSuppressed(name)
		}
		return false
	}
	s.snap.Store(next)
	s.mu.Unlock()

	for _, name := range skipped {
		s.emitter.EmitPushSuppressed(name)
	}
	s.emitter.EmitQueuesRefreshed(next)
	return true
}

// ApplyQueueUpdate merges one vehicle's update in arrival order. It is not
// subject to the suppression window. A vehicle going from free seats to none
// emits SeatsExhausted.
func (s *Store) ApplyQueueUpdate(p *protocol.QueueUpdate) {
	item := p.Vehicle
	name := protocol.CanonicalName(p.DestinationName)
	if name == "" {
		name = protocol.CanonicalName(item.DestinationName)
	}
	if name == "" {
		log.Printf("queuesync: queue_update without destination, dropped")
		return
	}
	item.DestinationName = name

	s.mu.Lock()
	next := s.Snapshot().clone()
	var items []protocol.QueueItem
	var prev *protocol.QueueItem
	if p.Removed {
		var removed bool
		items, removed = removeItem(next.Queues[name], item)
		if !removed {
			s.mu.Unlock()
			return
		}
	} else {
		items, prev = upsertItem(next.Queues[name], item)
	}
	next.Queues[name] = items
	sum := summarize(next.Summaries[name], name, items, true)
	next.Summaries[name] = sum
	s.snap.Store(next)
	s.mu.Unlock()

	s.emitter.EmitQueueChanged(name, items, sum)
	if prev != nil && prev.AvailableSeats > 0 && item.AvailableSeats <= 0 {
		s.emitter.EmitSeatsExhausted(name, item)
	}
}

// ApplyStatusChange sets one vehicle's status in place.
func (s *Store) ApplyStatusChange(p *protocol.VehicleStatusChanged) {
	s.mu.Lock()
	cur := s.Snapshot()
	name := protocol.CanonicalName(p.DestinationName)
	var found bool
	var item protocol.QueueItem
	if name != "" {
		for _, it := range cur.Queues[name] {
			if strings.EqualFold(it.Vehicle.LicensePlate, p.LicensePlate) {
				item, found = it, true
				break
			}
		}
	} else {
		name, item, found = cur.FindVehicle(p.LicensePlate)
	}
	if !found {
		s.mu.Unlock()
		return
	}
	item.Status = p.Status

	next := cur.clone()
	items, _ := upsertItem(next.Queues[name], item)
	next.Queues[name] = items
	sum := summarize(next.Summaries[name], name, items, true)
	next.Summaries[name] = sum
	s.snap.Store(next)
	s.mu.Unlock()

	s.emitter.EmitQueueChanged(name, items, sum)
}

// ApplyBookingResult writes the remaining seats reported by a booking and
// returns the vehicles it exhausted. SeatsExhausted is emitted for each.
func (s *Store) ApplyBookingResult(destination string, res *protocol.BookingResult) []protocol.QueueItem {
	name := protocol.CanonicalName(destination)
	if name == "" {
		name = protocol.CanonicalName(res.DestinationName)
	}

	s.mu.Lock()
	next := s.Snapshot().clone()
	items := append([]protocol.QueueItem(nil), next.Queues[name]...)
	var exhausted []protocol.QueueItem
	changed := false
	for _, bv := range res.Vehicles {
		for i := range items {
			if !matchesBooked(items[i], bv) {
				continue
			}
			before := items[i].AvailableSeats
			items[i].AvailableSeats = bv.RemainingSeats
			changed = true
			if before > 0 && bv.RemainingSeats <= 0 {
				exhausted = append(exhausted, items[i])
			}
			break
		}
	}
	if !changed {
		s.mu.Unlock()
		return nil
	}
	next.Queues[name] = items
	sum := summarize(next.Summaries[name], name, items, true)
	next.Summaries[name] = sum
	s.snap.Store(next)
	s.mu.Unlock()

	s.emitter.EmitQueueChanged(name, items, sum)
	for _, it := range exhausted {
		s.emitter.EmitSeatsExhausted(name, it)
	}
	return exhausted
}

func matchesBooked(it protocol.QueueItem, bv protocol.BookedVehicle) bool {
	if bv.QueueItemID != "" && it.ID == bv.QueueItemID {
		return true
	}
	return bv.LicensePlate != "" && strings.EqualFold(it.Vehicle.LicensePlate, bv.LicensePlate)
}
