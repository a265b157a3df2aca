package engine

import (
	"context"
	"log"
	"strings"

	"stationedge/conflict"
	"stationedge/protocol"
)

// pushHandler routes decoded pushes from the connection manager. It runs on
// the connection's read goroutine, so network work is handed to e.async.
type pushHandler struct {
	protocol.NoOpHandler

	e *Engine
}

func (h *pushHandler) HandleConnected(_ *protocol.Envelope, p *protocol.Connected) {
	h.e.debugFn("push: connected client=%s", p.ClientID)
}

func (h *pushHandler) HandleDashboardData(env *protocol.Envelope, p *protocol.DashboardData) {
	if !h.e.queues.ApplyDashboard(p) {
		h.e.debugFn("push: %s not applied", env.Type)
	}
}

func (h *pushHandler) HandleQueueUpdate(_ *protocol.Envelope, p *protocol.QueueUpdate) {
	h.e.queues.ApplyQueueUpdate(p)
}

func (h *pushHandler) HandleVehicleStatusChanged(_ *protocol.Envelope, p *protocol.VehicleStatusChanged) {
	h.e.queues.ApplyStatusChange(p)
}

func (h *pushHandler) HandleBookingConflict(_ *protocol.Envelope, p *protocol.BookingConflict) {
	code, ok := conflict.ParseCode(p.Code)
	if p.Code == "" {
		code, ok = conflict.CodeBookingConflict, true
	}
	if !ok {
		log.Printf("engine: unknown conflict code %q", p.Code)
	}
	h.e.resolveConflict(&conflict.Error{
		Code:            code,
		Message:         p.Message,
		DestinationName: p.DestinationName,
		LicensePlate:    p.LicensePlate,
	})
}

// HandleBookingSuccess refreshes the seat counts of the booked destination.
// Bookings made on this terminal were already applied from the mutation
// result.
func (h *pushHandler) HandleBookingSuccess(_ *protocol.Envelope, p *protocol.BookingSuccess) {
	if p.StaffID != "" && strings.EqualFold(p.StaffID, h.e.staffID()) {
		return
	}
	dest := p.DestinationName
	if dest == "" {
		h.e.async("refresh after booking", h.e.queues.Refresh)
		return
	}
	h.e.async("refresh "+dest, func(ctx context.Context) error {
		return h.e.queues.RefreshDestination(ctx, dest)
	})
}

func (h *pushHandler) HandleError(_ *protocol.Envelope, p *protocol.ServerError) {
	log.Printf("engine: server error: %s %s", p.Code, p.Message)
	h.e.Events.Publish(ServerErrorEvent{Code: p.Code, Message: p.Message})
}
