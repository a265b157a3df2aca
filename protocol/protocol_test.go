package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeSubscribe, &Subscribe{Topics: []string{"queues", "bookings"}})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Type != TypeSubscribe {
		t.Errorf("type = %q, want %q", env.Type, TypeSubscribe)
	}
	if env.ID == "" {
		t.Error("ID should not be empty")
	}
	if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
		t.Errorf("timestamp %q did not parse: %v", env.Timestamp, err)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if decoded.ID != env.ID {
		t.Errorf("decoded id = %q, want %q", decoded.ID, env.ID)
	}

	var sub Subscribe
	if err := decoded.DecodePayload(&sub); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if len(sub.Topics) != 2 || sub.Topics[0] != "queues" {
		t.Errorf("topics = %v", sub.Topics)
	}
}

func TestNewReply(t *testing.T) {
	reply, err := NewReply(TypeDashboardData, "orig-msg-id", &DashboardData{})
	if err != nil {
		t.Fatalf("NewReply: %v", err)
	}
	if reply.CorID != "orig-msg-id" {
		t.Errorf("cor = %q, want %q", reply.CorID, "orig-msg-id")
	}
}

func TestWireFormatKeys(t *testing.T) {
	env, _ := NewEnvelope(TypeHeartbeat, &Heartbeat{Uptime: 60})
	data, _ := env.Encode()

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"type", "id", "timestamp", "payload"} {
		if _, ok := m[k]; !ok {
			t.Errorf("expected key %q in wire format", k)
		}
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type":`,
		"missing type": `{"payload":{}}`,
		"empty type":   `{"type":"","payload":{}}`,
	}
	for name, raw := range cases {
		_, err := ParseEnvelope([]byte(raw))
		var malformed *MalformedMessageError
		if !errors.As(err, &malformed) {
			t.Errorf("%s: err = %v, want *MalformedMessageError", name, err)
		}
	}
}

func TestDashboardDataArrayShape(t *testing.T) {
	raw := `{"queues":[{"destinationId":"d1","destinationName":"Sousse","totalVehicles":2,
		"vehicles":[{"id":"a","destinationName":"Sousse","queuePosition":2,"availableSeats":8,"totalSeats":8,"vehicle":{"licensePlate":"123TU4567"}},
		            {"id":"b","destinationName":"Sousse","queuePosition":1,"availableSeats":3,"totalSeats":8,"vehicle":{"licensePlate":"200TU1"}}]},
		{"destinationId":"d2","destinationName":"Monastir","totalVehicles":4}]}`

	var d DashboardData
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(d.Queues) != 2 {
		t.Fatalf("queues = %d, want 2", len(d.Queues))
	}
	if d.Queues[0].DestinationID != "d1" || len(d.Queues[0].Vehicles) != 2 {
		t.Errorf("queue[0] = %+v", d.Queues[0])
	}
	if d.Queues[1].TotalVehicles != 4 || len(d.Queues[1].Vehicles) != 0 {
		t.Errorf("queue[1] = %+v", d.Queues[1])
	}
}

func TestDashboardDataMapShape(t *testing.T) {
	raw := `{"queues":{"sousse":[{"id":"a","queuePosition":1,"availableSeats":8,"totalSeats":8,"vehicle":{"licensePlate":"1"}}],
		"monastir":{"destinationId":"d2","totalVehicles":3}}}`

	var d DashboardData
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	byName := map[string]DestinationQueue{}
	for _, q := range d.Queues {
		byName[q.DestinationName] = q
	}
	if len(byName["sousse"].Vehicles) != 1 {
		t.Errorf("sousse = %+v", byName["sousse"])
	}
	if byName["monastir"].DestinationID != "d2" || byName["monastir"].TotalVehicles != 3 {
		t.Errorf("monastir = %+v", byName["monastir"])
	}
}

func TestDashboardDataBareArray(t *testing.T) {
	var d DashboardData
	if err := json.Unmarshal([]byte(`[{"destinationName":"Tunis","totalVehicles":1}]`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(d.Queues) != 1 || d.Queues[0].DestinationName != "Tunis" {
		t.Errorf("queues = %+v", d.Queues)
	}
}

func TestCanonicalName(t *testing.T) {
	cases := map[string]string{
		"sousse":           "SOUSSE",
		"  Sidi   Bouzid ": "SIDI BOUZID",
		"TUNIS":            "TUNIS",
	}
	for in, want := range cases {
		if got := CanonicalName(in); got != want {
			t.Errorf("CanonicalName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEffectiveStatus(t *testing.T) {
	item := QueueItem{AvailableSeats: 8, TotalSeats: 8}
	if s := item.EffectiveStatus(); s != StatusWaiting {
		t.Errorf("full vehicle status = %s, want WAITING", s)
	}
	item.AvailableSeats = 3
	if s := item.EffectiveStatus(); s != StatusLoading {
		t.Errorf("partial vehicle status = %s, want LOADING", s)
	}
	item.AvailableSeats = 0
	if s := item.EffectiveStatus(); s != StatusReady {
		t.Errorf("empty vehicle status = %s, want READY", s)
	}
	item.Status = StatusLoading
	if s := item.EffectiveStatus(); s != StatusLoading {
		t.Errorf("explicit status = %s, want LOADING", s)
	}
}

func TestIngestorDispatch(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler)

	env, _ := NewEnvelope(TypeQueueUpdate, &QueueUpdate{
		DestinationName: "Sousse",
		Vehicle:         QueueItem{ID: "a", QueuePosition: 1, AvailableSeats: 2, TotalSeats: 8},
	})
	if !ingestor.Dispatch(env) {
		t.Fatal("queue_update not dispatched")
	}

	if !handler.updateCalled {
		t.Fatal("expected HandleQueueUpdate to be called")
	}
	if handler.update.Vehicle.ID != "a" {
		t.Errorf("vehicle id = %q, want a", handler.update.Vehicle.ID)
	}
}

func TestIngestorInitialDataRoutesToDashboard(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler)

	env := &Envelope{Type: TypeInitialData, Timestamp: time.Now().UTC().Format(time.RFC3339), Payload: json.RawMessage(`{"queues":[]}`)}
	if !ingestor.Dispatch(env) {
		t.Fatal("initial_data not dispatched")
	}
	if !handler.dashboardCalled {
		t.Error("expected HandleDashboardData for initial_data")
	}
}

func TestIngestorDropsBadPayload(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler)

	ok := ingestor.Dispatch(&Envelope{Type: TypeQueueUpdate, Payload: json.RawMessage(`"nope"`)})
	if ok || handler.updateCalled {
		t.Error("expected bad payload to be dropped")
	}
	if ingestor.Dispatch(&Envelope{Type: "mystery"}) {
		t.Error("unknown type reported as dispatched")
	}
}

// testHandler tracks which methods were called.
type testHandler struct {
	NoOpHandler
	updateCalled    bool
	update          QueueUpdate
	dashboardCalled bool
}

func (h *testHandler) HandleQueueUpdate(env *Envelope, p *QueueUpdate) {
	h.updateCalled = true
	h.update = *p
}

func (h *testHandler) HandleDashboardData(env *Envelope, p *DashboardData) {
	h.dashboardCalled = true
}
