package queuesync

import (
	"context"
	"fmt"
	"log"

	"stationedge/protocol"
)

// EnterQueue adds a vehicle to its destination queue.
func (s *Store) EnterQueue(ctx context.Context, licensePlate string) error {
	if err := s.source.EnterQueue(ctx, licensePlate); err != nil {
		return fmt.Errorf("enter queue %s: %w", licensePlate, err)
	}
	s.afterMutation(ctx)
	return nil
}

// ExitQueue removes a vehicle from its queue.
func (s *Store) ExitQueue(ctx context.Context, licensePlate string) error {
	if err := s.source.ExitQueue(ctx, licensePlate); err != nil {
		return fmt.Errorf("exit queue %s: %w", licensePlate, err)
	}
	s.afterMutation(ctx)
	return nil
}

// UpdateVehicleStatus sets a vehicle's status on the server.
func (s *Store) UpdateVehicleStatus(ctx context.Context, licensePlate string, status protocol.VehicleStatus) error {
	if err := s.source.UpdateVehicleStatus(ctx, licensePlate, status); err != nil {
		return fmt.Errorf("update status %s: %w", licensePlate, err)
	}
	s.afterMutation(ctx)
	return nil
}

// Book books seats on a destination, applies the remaining seats locally
// and returns the vehicles the booking filled.
func (s *Store) Book(ctx context.Context, destination string, seats int) (*protocol.BookingResult, []protocol.QueueItem, error) {
	if seats <= 0 {
		return nil, nil, fmt.Errorf("book %s: seats must be positive, got %d", destination, seats)
	}
	name := protocol.CanonicalName(destination)
	id := s.Snapshot().DestinationID(name)
	if id == "" {
		return nil, nil, fmt.Errorf("book %s: %w", destination, ErrUnknownDestination)
	}
	res, err := s.source.CreateBooking(ctx, id, seats)
	if err != nil {
		return nil, nil, fmt.Errorf("book %s: %w", name, err)
	}
	exhausted := s.ApplyBookingResult(name, res)
	s.afterMutation(ctx)
	return res, exhausted, nil
}

// afterMutation refreshes when no push will arrive to correct local state.
// While authenticated the server's push is relied on instead.
func (s *Store) afterMutation(ctx context.Context) {
	if s.authenticated() {
		return
	}
	if err := s.Refresh(ctx); err != nil {
		log.Printf("queuesync: refresh after mutation: %v", err)
	}
}
