package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// --- Terminal -> server payloads ---

// Authenticate carries the stored credentials of the staff member.
type Authenticate struct {
	Token      string `json:"token"`
	StaffID    string `json:"staffId"`
	StaffName  string `json:"staffName,omitempty"`
	StationID  string `json:"stationId,omitempty"`
	ClientType string `json:"clientType"`
}

// Subscribe requests pushes for the listed topics.
type Subscribe struct {
	Topics []string `json:"topics"`
}

// Heartbeat is sent periodically while authenticated.
type Heartbeat struct {
	Uptime int64 `json:"uptime_s"`
}

// DashboardDataRequest asks the server for a full dashboard push.
type DashboardDataRequest struct {
	StationID string `json:"stationId,omitempty"`
}

// --- Server -> terminal payloads ---

// Connected is the greeting sent by the server when the socket opens.
type Connected struct {
	ClientID string `json:"clientId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Authenticated confirms the credentials were accepted.
type Authenticated struct {
	StaffID   string `json:"staffId,omitempty"`
	StationID string `json:"stationId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// AuthError reports rejected credentials.
type AuthError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// HeartbeatAck acknowledges a heartbeat.
type HeartbeatAck struct {
	ServerTS int64 `json:"serverTs,omitempty"`
}

// DestinationQueue is one destination's entry in a dashboard payload.
// Vehicles may be empty when the server only sent counters.
type DestinationQueue struct {
	QueueSummary
	Vehicles []QueueItem `json:"vehicles,omitempty"`
}

// DashboardData is a full resync payload (initial_data / dashboard_data).
// The server sends queues either as an array of DestinationQueue or as a map
// keyed by destination name whose values are item arrays or DestinationQueue
// objects; both decode into Queues.
type DashboardData struct {
	Queues    []DestinationQueue `json:"queues"`
	Summaries []QueueSummary     `json:"summaries,omitempty"`
}

// UnmarshalJSON accepts the array, map and bare-array dashboard shapes.
func (d *DashboardData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		queues, err := decodeQueues(data)
		if err != nil {
			return err
		}
		d.Queues = queues
		return nil
	}

	var raw struct {
		Queues    json.RawMessage `json:"queues"`
		Summaries []QueueSummary  `json:"summaries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Summaries = raw.Summaries
	queues, err := decodeQueues(raw.Queues)
	if err != nil {
		return err
	}
	d.Queues = queues
	return nil
}

func decodeQueues(data json.RawMessage) ([]DestinationQueue, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	switch data[0] {
	case '[':
		var queues []DestinationQueue
		if err := json.Unmarshal(data, &queues); err != nil {
			return nil, fmt.Errorf("queues array: %w", err)
		}
		return queues, nil
	case '{':
		var byName map[string]json.RawMessage
		if err := json.Unmarshal(data, &byName); err != nil {
			return nil, fmt.Errorf("queues map: %w", err)
		}
		queues := make([]DestinationQueue, 0, len(byName))
		for name, v := range byName {
			v = bytes.TrimSpace(v)
			var dq DestinationQueue
			if len(v) > 0 && v[0] == '[' {
				if err := json.Unmarshal(v, &dq.Vehicles); err != nil {
					return nil, fmt.Errorf("queues[%s]: %w", name, err)
				}
			} else if err := json.Unmarshal(v, &dq); err != nil {
				return nil, fmt.Errorf("queues[%s]: %w", name, err)
			}
			if dq.DestinationName == "" {
				dq.DestinationName = name
			}
			queues = append(queues, dq)
		}
		return queues, nil
	default:
		return nil, fmt.Errorf("queues: unexpected JSON %q", data[:1])
	}
}

// QueueUpdate is an incremental single-vehicle push. Removed reports that the
// vehicle left the queue.
type QueueUpdate struct {
	DestinationName string    `json:"destinationName,omitempty"`
	Vehicle         QueueItem `json:"queueItem"`
	Removed         bool      `json:"removed,omitempty"`
}

// BookingConflict reports a booking rejected because of a concurrent change.
type BookingConflict struct {
	Code            string `json:"code"`
	DestinationID   string `json:"destinationId,omitempty"`
	DestinationName string `json:"destinationName,omitempty"`
	LicensePlate    string `json:"licensePlate,omitempty"`
	Message         string `json:"message,omitempty"`
}

// BookingSuccess is pushed after a booking was accepted by the server.
type BookingSuccess struct {
	BookingResult
	StaffID string `json:"staffId,omitempty"`
}

// VehicleStatusChanged reports a status change for one queued vehicle.
type VehicleStatusChanged struct {
	LicensePlate    string        `json:"licensePlate"`
	DestinationName string        `json:"destinationName,omitempty"`
	Status          VehicleStatus `json:"status"`
}

// ServerError is a generic error push.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
