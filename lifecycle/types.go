package lifecycle

import (
	"strings"
	"time"

	"stationedge/protocol"
)

// Vehicle lifecycle states
const (
	StateWaiting                 = "waiting"
	StateLoading                 = "loading"
	StateReady                   = "ready"
	StatePendingExitConfirmation = "pending_exit_confirmation"
	StateExited                  = "exited"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[string][]string{
	StateWaiting:                 {StateLoading, StateReady},
	StateLoading:                 {StateWaiting, StateReady},
	StateReady:                   {StateWaiting, StateLoading, StatePendingExitConfirmation},
	StatePendingExitConfirmation: {StateExited, StateReady},
	StateExited:                  {StateWaiting, StateLoading, StateReady},
}

// IsValidTransition checks if transitioning from one state to another is allowed.
func IsValidTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateForItem maps a queue entry's occupancy to a lifecycle state.
func StateForItem(item protocol.QueueItem) string {
	switch item.EffectiveStatus() {
	case protocol.StatusReady:
		return StateReady
	case protocol.StatusLoading:
		return StateLoading
	default:
		return StateWaiting
	}
}

// VehicleKey identifies one vehicle's occupancy of one destination queue,
// independent of its position.
type VehicleKey struct {
	LicensePlate string `json:"licensePlate"`
	Destination  string `json:"destination"`
}

// KeyFor builds a normalized key.
func KeyFor(licensePlate, destination string) VehicleKey {
	return VehicleKey{
		LicensePlate: strings.ToUpper(strings.TrimSpace(licensePlate)),
		Destination:  protocol.CanonicalName(destination),
	}
}

func (k VehicleKey) String() string {
	return k.LicensePlate + "@" + k.Destination
}

// PreviousExit is the vehicle that left the same destination earlier the
// same day.
type PreviousExit struct {
	LicensePlate string    `json:"licensePlate"`
	ExitTime     time.Time `json:"exitTime"`
}

// ExitPass is the confirmation record presented before a fully booked
// vehicle is removed from its queue.
type ExitPass struct {
	LicensePlate    string        `json:"licensePlate"`
	DestinationName string        `json:"destinationName"`
	QueueItemID     string        `json:"queueItemId,omitempty"`
	TotalSeats      int           `json:"totalSeats"`
	BookedSeats     int           `json:"bookedSeats"`
	BasePrice       float64       `json:"basePrice,omitempty"`
	PreviousVehicle *PreviousExit `json:"previousVehicle,omitempty"`
	IssuedAt        time.Time     `json:"issuedAt"`
}

// Key returns the vehicle the pass belongs to.
func (p *ExitPass) Key() VehicleKey {
	return KeyFor(p.LicensePlate, p.DestinationName)
}
