package www

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"stationedge/conflict"
	"stationedge/engine"
	"stationedge/lifecycle"
	"stationedge/messaging"
	"stationedge/protocol"
	"stationedge/queuesync"

	"github.com/go-chi/chi/v5"
)

const requestTimeout = 20 * time.Second

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeEngineError maps an engine error to a status by its kind.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := engine.Classify(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queuesync.ErrUnknownDestination), errors.Is(err, engine.ErrVehicleNotFound),
		errors.Is(err, lifecycle.ErrNoActivePass):
		status = http.StatusNotFound
	case errors.Is(err, messaging.ErrPrintingDisabled):
		status = http.StatusServiceUnavailable
	case kind == engine.KindConflict, kind == engine.KindLifecycle:
		status = http.StatusConflict
	case kind == engine.KindAuth:
		status = http.StatusUnauthorized
	case kind == engine.KindTransport:
		status = http.StatusServiceUnavailable
	case kind == engine.KindCollaborator:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": err.Error(), "kind": kind.String()}
	if ce, ok := conflict.As(err); ok {
		body["code"] = string(ce.Code)
	}
	json.NewEncoder(w).Encode(body)
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

// --- Status and queues ---

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	c := h.engine.Connection()
	data := map[string]interface{}{
		"station_id":    h.engine.AppConfig().StationID,
		"connection":    c.State(),
		"authenticated": c.IsAuthenticated(),
		"attempt":       c.Attempt(),
		"polling":       h.engine.Queues().Polling(),
		"sse_clients":   h.eventHub.ClientCount(),
	}
	if id, err := h.engine.Session().Identity(); err == nil {
		data["staff"] = id
	}
	writeJSON(w, data)
}

func (h *Handlers) apiListQueues(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Queues().Snapshot()
	writeJSON(w, map[string]interface{}{
		"version":      snap.Version,
		"refreshed_at": snap.RefreshedAt,
		"summaries":    snap.SummaryList(),
	})
}

func (h *Handlers) apiGetQueue(w http.ResponseWriter, r *http.Request) {
	dest := protocol.CanonicalName(chi.URLParam(r, "destination"))
	snap := h.engine.Queues().Snapshot()
	sum, ok := snap.Summary(dest)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown destination")
		return
	}
	items := snap.Queue(dest)
	if items == nil {
		items = []protocol.QueueItem{}
	}
	writeJSON(w, map[string]interface{}{
		"destination": dest,
		"summary":     sum,
		"items":       items,
	})
}

func (h *Handlers) apiRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination string `json:"destination"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	var err error
	if req.Destination != "" {
		err = h.engine.RefreshDestination(ctx, req.Destination)
	} else {
		err = h.engine.Refresh(ctx)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Selection and booking ---

type selectionRequest struct {
	Destination  string `json:"destination"`
	LicensePlate string `json:"license_plate"`
	Seats        int    `json:"seats"`
}

func selectionResponse(sel conflict.Selection) selectionRequest {
	return selectionRequest{Destination: sel.DestinationName, LicensePlate: sel.LicensePlate, Seats: sel.Seats}
}

func (h *Handlers) apiGetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, selectionResponse(h.engine.Selection()))
}

func (h *Handlers) apiSetSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Seats < 0 {
		writeError(w, http.StatusBadRequest, "seats must not be negative")
		return
	}
	h.engine.Select(conflict.Selection{
		DestinationName: req.Destination, LicensePlate: req.LicensePlate, Seats: req.Seats,
	})
	writeJSON(w, selectionResponse(h.engine.Selection()))
}

func (h *Handlers) apiClearSelection(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearSelection()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination string `json:"destination"`
		Seats       int    `json:"seats"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	var res *protocol.BookingResult
	var err error
	if req.Destination == "" {
		res, err = h.engine.BookSelection(ctx)
	} else {
		if req.Seats <= 0 {
			writeError(w, http.StatusBadRequest, "seats must be positive")
			return
		}
		res, err = h.engine.Book(ctx, req.Destination, req.Seats)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, res)
}

// --- Vehicles ---

func (h *Handlers) apiEnterQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := h.engine.EnterQueue(ctx, chi.URLParam(r, "plate")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiExitQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := h.engine.ExitQueue(ctx, chi.URLParam(r, "plate")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := protocol.VehicleStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	switch status {
	case protocol.StatusWaiting, protocol.StatusLoading, protocol.StatusReady:
	default:
		writeError(w, http.StatusBadRequest, "status must be WAITING, LOADING or READY")
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := h.engine.UpdateVehicleStatus(ctx, chi.URLParam(r, "plate"), status); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Exit passes ---

func exitParams(r *http.Request) (plate, destination string) {
	return chi.URLParam(r, "plate"), chi.URLParam(r, "destination")
}

func (h *Handlers) apiListExitPasses(w http.ResponseWriter, r *http.Request) {
	passes := h.engine.ActivePasses()
	if passes == nil {
		passes = []*lifecycle.ExitPass{}
	}
	writeJSON(w, passes)
}

func (h *Handlers) apiConfirmExit(w http.ResponseWriter, r *http.Request) {
	plate, dest := exitParams(r)
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := h.engine.ConfirmExit(ctx, plate, dest); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiReprintExit(w http.ResponseWriter, r *http.Request) {
	plate, dest := exitParams(r)
	if err := h.engine.ReprintExit(plate, dest); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiCloseExit(w http.ResponseWriter, r *http.Request) {
	plate, dest := exitParams(r)
	if err := h.engine.CloseExit(plate, dest); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiReopenExit(w http.ResponseWriter, r *http.Request) {
	plate, dest := exitParams(r)
	pass, err := h.engine.ReopenExit(plate, dest)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, pass)
}

// --- Staff session ---

func (h *Handlers) apiStaffLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token     string `json:"token"`
		StaffID   string `json:"staff_id"`
		StaffName string `json:"staff_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Login(req.Token, req.StaffID, req.StaffName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiStaffLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
