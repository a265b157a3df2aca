package protocol

import (
	"strings"
	"time"
)

// VehicleStatus is the server-side occupancy status of a queued vehicle.
type VehicleStatus string

const (
	StatusWaiting VehicleStatus = "WAITING"
	StatusLoading VehicleStatus = "LOADING"
	StatusReady   VehicleStatus = "READY"
)

// Driver identifies the driver of a queued vehicle.
type Driver struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Vehicle is the identity of a queued vehicle.
type Vehicle struct {
	LicensePlate string  `json:"licensePlate"`
	Driver       *Driver `json:"driver,omitempty"`
}

// QueueItem is one vehicle's slot in a destination queue.
type QueueItem struct {
	ID                 string        `json:"id"`
	DestinationID      string        `json:"destinationId,omitempty"`
	DestinationName    string        `json:"destinationName"`
	QueuePosition      int           `json:"queuePosition"`
	AvailableSeats     int           `json:"availableSeats"`
	TotalSeats         int           `json:"totalSeats"`
	BasePrice          float64       `json:"basePrice"`
	Status             VehicleStatus `json:"status,omitempty"`
	EstimatedDeparture *time.Time    `json:"estimatedDeparture,omitempty"`
	Vehicle            Vehicle       `json:"vehicle"`
}

// BookedSeats returns the number of seats already sold on the vehicle.
func (q QueueItem) BookedSeats() int {
	return q.TotalSeats - q.AvailableSeats
}

// EffectiveStatus returns the reported status, deriving it from occupancy
// when the server did not send one.
func (q QueueItem) EffectiveStatus() VehicleStatus {
	if q.Status != "" {
		return q.Status
	}
	switch {
	case q.AvailableSeats <= 0:
		return StatusReady
	case q.AvailableSeats < q.TotalSeats:
		return StatusLoading
	default:
		return StatusWaiting
	}
}

// QueueSummary is the per-destination counter view.
type QueueSummary struct {
	DestinationID          string     `json:"destinationId"`
	DestinationName        string     `json:"destinationName"`
	TotalVehicles          int        `json:"totalVehicles"`
	WaitingVehicles        int        `json:"waitingVehicles"`
	LoadingVehicles        int        `json:"loadingVehicles"`
	ReadyVehicles          int        `json:"readyVehicles"`
	EstimatedNextDeparture *time.Time `json:"estimatedNextDeparture,omitempty"`
}

// BookedVehicle reports the seats taken on one vehicle by a booking.
type BookedVehicle struct {
	LicensePlate   string `json:"licensePlate"`
	QueueItemID    string `json:"queueItemId,omitempty"`
	SeatsBooked    int    `json:"seatsBooked"`
	RemainingSeats int    `json:"remainingSeats"`
}

// BookingResult is returned by a successful booking mutation.
type BookingResult struct {
	DestinationID   string          `json:"destinationId"`
	DestinationName string          `json:"destinationName"`
	TotalSeats      int             `json:"totalSeats"`
	TotalAmount     float64         `json:"totalAmount"`
	Vehicles        []BookedVehicle `json:"vehicles"`
}

// CanonicalName normalizes a destination name into the key used for the
// queue map: trimmed, inner whitespace collapsed, upper case.
func CanonicalName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}
