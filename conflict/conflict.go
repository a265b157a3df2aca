// Package conflict decides how local state is corrected after the server
// rejects a mutation because another terminal changed the queue first.
package conflict

import (
	"errors"
	"fmt"
	"strings"

	"stationedge/protocol"
)

// Code is a structured conflict code from the server contract.
type Code string

const (
	CodeBookingConflict   Code = "booking_conflict"
	CodeInsufficientSeats Code = "insufficient_seats"
	CodeSeatTaken         Code = "seat_taken"
	CodeVehicleNotQueued  Code = "vehicle_not_queued"
)

var knownCodes = map[Code]bool{
	CodeBookingConflict:   true,
	CodeInsufficientSeats: true,
	CodeSeatTaken:         true,
	CodeVehicleNotQueued:  true,
}

// ParseCode normalizes a wire code. ok is false for codes outside the known
// set; the normalized code is still returned.
func ParseCode(s string) (code Code, ok bool) {
	c := Code(strings.ToLower(strings.TrimSpace(s)))
	return c, knownCodes[c]
}

// Error is a mutation rejected because of a concurrent change elsewhere.
type Error struct {
	Code            Code
	Message         string
	DestinationName string
	LicensePlate    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("conflict: %s", e.Code)
	}
	return fmt.Sprintf("conflict: %s: %s", e.Code, e.Message)
}

// As extracts a *Error from err's chain.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Conflict is the input to Resolve.
type Conflict struct {
	Code            Code
	DestinationName string
	LicensePlate    string
}

// FromError builds a Conflict from a *Error.
func FromError(e *Error) Conflict {
	return Conflict{Code: e.Code, DestinationName: e.DestinationName, LicensePlate: e.LicensePlate}
}

// Selection is what the operator currently has selected for booking.
type Selection struct {
	DestinationName string
	LicensePlate    string
	Seats           int
}

// IsZero reports whether nothing is selected.
func (s Selection) IsZero() bool {
	return s.DestinationName == "" && s.LicensePlate == "" && s.Seats == 0
}

// Refresh is the corrective pull a resolution asks for.
type Refresh int

const (
	RefreshNone Refresh = iota
	RefreshSeats
	RefreshAll
)

func (r Refresh) String() string {
	switch r {
	case RefreshSeats:
		return "seats"
	case RefreshAll:
		return "all"
	default:
		return "none"
	}
}

// Resolution is the correction to apply locally.
type Resolution struct {
	ClearSelection bool
	Refresh        Refresh

	// DestinationName scopes a RefreshSeats. Canonical form.
	DestinationName string
}

// Resolve maps a conflict and the current selection to a correction. It has
// no side effects. Every resolution carries a refresh; RefreshSeats degrades
// to RefreshAll when no destination is known.
func Resolve(c Conflict, sel Selection) Resolution {
	dest := protocol.CanonicalName(c.DestinationName)
	if dest == "" {
		dest = protocol.CanonicalName(sel.DestinationName)
	}
	affected := !sel.IsZero() && (c.DestinationName == "" ||
		protocol.CanonicalName(sel.DestinationName) == protocol.CanonicalName(c.DestinationName))

	var r Resolution
	switch c.Code {
	case CodeBookingConflict:
		r = Resolution{ClearSelection: affected, Refresh: RefreshAll}
	case CodeInsufficientSeats:
		// The vehicles are still there; only the counts are stale.
		r = Resolution{Refresh: RefreshSeats}
	case CodeSeatTaken:
		r = Resolution{ClearSelection: affected, Refresh: RefreshSeats}
	case CodeVehicleNotQueued:
		if c.LicensePlate != "" && sel.LicensePlate != "" {
			affected = affected && strings.EqualFold(sel.LicensePlate, c.LicensePlate)
		}
		r = Resolution{ClearSelection: affected, Refresh: RefreshAll}
	default:
		r = Resolution{Refresh: RefreshAll}
	}
	if r.Refresh == RefreshSeats && dest == "" {
		r.Refresh = RefreshAll
	}
	if r.Refresh != RefreshAll {
		r.DestinationName = dest
	}
	return r
}
