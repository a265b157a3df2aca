package www

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stationedge/clock"
	"stationedge/config"
	"stationedge/conflict"
	"stationedge/conn"
	"stationedge/engine"
	"stationedge/lifecycle"
	"stationedge/messaging"
	"stationedge/protocol"
	"stationedge/store"
)

// fakeSource serves one destination.
type fakeSource struct {
	mu      sync.Mutex
	items   []protocol.QueueItem
	bookErr error
	calls   []string
}

func (f *fakeSource) GetAvailableQueues(ctx context.Context) ([]protocol.QueueSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []protocol.QueueSummary{{DestinationID: "d1", DestinationName: "SFAX", TotalVehicles: len(f.items)}}, nil
}

func (f *fakeSource) GetQueueByDestination(ctx context.Context, id string) ([]protocol.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.QueueItem(nil), f.items...), nil
}

func (f *fakeSource) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeSource) EnterQueue(ctx context.Context, plate string) error { return f.record("enter:" + plate) }
func (f *fakeSource) ExitQueue(ctx context.Context, plate string) error  { return f.record("exit:" + plate) }

func (f *fakeSource) UpdateVehicleStatus(ctx context.Context, plate string, status protocol.VehicleStatus) error {
	return f.record("status:" + plate + ":" + string(status))
}

func (f *fakeSource) CreateBooking(ctx context.Context, id string, seats int) (*protocol.BookingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return &protocol.BookingResult{DestinationID: id, DestinationName: "SFAX", TotalSeats: seats}, nil
}

type offlineDialer struct{}

func (offlineDialer) Dial(ctx context.Context) (conn.Channel, error) {
	return nil, errors.New("offline")
}

type nopPrinter struct{}

func (nopPrinter) PrintExitPass(*lifecycle.ExitPass) error { return nil }

func newTestRouter(t *testing.T, items ...protocol.QueueItem) (http.Handler, *engine.Engine, *fakeSource) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	src := &fakeSource{items: items}
	eng := engine.New(engine.Config{
		AppConfig:  config.Defaults(),
		ConfigPath: filepath.Join(dir, "stationedge.yaml"),
		DB:         db,
		LogFunc:    t.Logf,
		Source:     src,
		Dialer:     offlineDialer{},
		Printer:    nopPrinter{},
		Clock:      clock.Fake(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)),
	})
	eng.Start()
	t.Cleanup(eng.Stop)
	if err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	router, stop := NewRouter(eng)
	t.Cleanup(stop)
	return router, eng, src
}

func queueItem(id, plate string, avail int) protocol.QueueItem {
	return protocol.QueueItem{
		ID: id, DestinationID: "d1", DestinationName: "SFAX", QueuePosition: 1,
		AvailableSeats: avail, TotalSeats: 8, Status: protocol.StatusLoading,
		Vehicle: protocol.Vehicle{LicensePlate: plate},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
	}
}

func TestListAndGetQueue(t *testing.T) {
	router, _, _ := newTestRouter(t, queueItem("1", "AB-1", 3))

	rec := do(t, router, "GET", "/api/queues", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list struct {
		Summaries []protocol.QueueSummary `json:"summaries"`
	}
	decodeBody(t, rec, &list)
	if len(list.Summaries) != 1 || list.Summaries[0].DestinationName != "SFAX" {
		t.Errorf("summaries = %+v", list.Summaries)
	}

	rec = do(t, router, "GET", "/api/queues/sfax", "")
	var q struct {
		Items []protocol.QueueItem `json:"items"`
	}
	decodeBody(t, rec, &q)
	if len(q.Items) != 1 || q.Items[0].Vehicle.LicensePlate != "AB-1" {
		t.Errorf("items = %+v", q.Items)
	}

	if rec := do(t, router, "GET", "/api/queues/nowhere", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown destination status = %d", rec.Code)
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	rec := do(t, router, "PUT", "/api/selection", `{"destination":" sfax ","seats":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if sel := eng.Selection(); sel.DestinationName != "SFAX" || sel.Seats != 2 {
		t.Errorf("selection = %+v", sel)
	}
	do(t, router, "DELETE", "/api/selection", "")
	if !eng.Selection().IsZero() {
		t.Error("selection not cleared")
	}
}

func TestBookConflictReturns409(t *testing.T) {
	router, _, src := newTestRouter(t, queueItem("1", "AB-1", 1))
	src.bookErr = &conflict.Error{Code: conflict.CodeSeatTaken, Message: "taken"}

	rec := do(t, router, "POST", "/api/bookings", `{"destination":"SFAX","seats":1}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["kind"] != "conflict" || body["code"] != "seat_taken" {
		t.Errorf("body = %v", body)
	}
}

func TestBookValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)
	if rec := do(t, router, "POST", "/api/bookings", `{"destination":"SFAX","seats":0}`); rec.Code != http.StatusBadRequest {
		t.Errorf("zero seats status = %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/bookings", `{"destination":"NOWHERE","seats":1}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown destination status = %d", rec.Code)
	}
}

func TestUpdateStatusValidation(t *testing.T) {
	router, _, src := newTestRouter(t, queueItem("1", "AB-1", 1))
	if rec := do(t, router, "PUT", "/api/vehicles/AB-1/status", `{"status":"gone"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec := do(t, router, "PUT", "/api/vehicles/AB-1/status", `{"status":"ready"}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.calls) != 1 || src.calls[0] != "status:AB-1:READY" {
		t.Errorf("calls = %v", src.calls)
	}
}

func TestExitPassEndpoints(t *testing.T) {
	router, eng, _ := newTestRouter(t, queueItem("1", "AB-1", 0))

	if rec := do(t, router, "POST", "/api/exit-passes/SFAX/AB-1/confirm", ""); rec.Code != http.StatusNotFound {
		t.Errorf("confirm without pass = %d, want 404", rec.Code)
	}
	rec := do(t, router, "POST", "/api/exit-passes/sfax/ab-1/reopen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen = %d: %s", rec.Code, rec.Body.String())
	}
	if len(eng.ActivePasses()) != 1 {
		t.Fatal("expected an active pass")
	}
	if rec := do(t, router, "POST", "/api/exit-passes/SFAX/AB-1/reopen", ""); rec.Code != http.StatusConflict {
		t.Errorf("second reopen = %d, want 409", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/exit-passes/SFAX/AB-1/reprint", ""); rec.Code != http.StatusOK {
		t.Errorf("reprint = %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/exit-passes/SFAX/AB-1/confirm", ""); rec.Code != http.StatusOK {
		t.Errorf("confirm = %d: %s", rec.Code, rec.Body.String())
	}
	var passes []lifecycle.ExitPass
	decodeBody(t, do(t, router, "GET", "/api/exit-passes", ""), &passes)
	if len(passes) != 0 {
		t.Errorf("passes after confirm = %+v", passes)
	}
}

func TestAdminRequiresLogin(t *testing.T) {
	router, _, _ := newTestRouter(t)

	if rec := do(t, router, "GET", "/api/config", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	// First login creates the admin account.
	rec := do(t, router, "POST", "/login", `{"username":"admin","password":"s3cret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie")
	}
	if rec := do(t, router, "GET", "/api/config", "", cookies...); rec.Code != http.StatusOK {
		t.Errorf("config with session = %d", rec.Code)
	}

	if rec := do(t, router, "POST", "/login", `{"username":"admin","password":"wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", rec.Code)
	}
}

func TestChangePassword(t *testing.T) {
	router, eng, _ := newTestRouter(t)
	cookies := do(t, router, "POST", "/login", `{"username":"admin","password":"old"}`).Result().Cookies()

	rec := do(t, router, "POST", "/api/config/password", `{"old_password":"old","new_password":"new"}`, cookies...)
	if rec.Code != http.StatusOK {
		t.Fatalf("change = %d: %s", rec.Code, rec.Body.String())
	}
	user, err := eng.DB().GetAdminUser("admin")
	if err != nil {
		t.Fatal(err)
	}
	if !checkPassword("new", user.PasswordHash) {
		t.Error("password not updated")
	}
}

func TestEnsureAdminSeedsOnce(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	created, err := EnsureAdmin(eng.DB(), "ops", "seeded")
	if err != nil || !created {
		t.Fatalf("first seed = %v, %v", created, err)
	}
	if created, err := EnsureAdmin(eng.DB(), "other", "pw"); err != nil || created {
		t.Errorf("second seed = %v, %v; want false", created, err)
	}

	if rec := do(t, router, "POST", "/login", `{"username":"ops","password":"wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/login", `{"username":"ops","password":"seeded"}`); rec.Code != http.StatusOK {
		t.Errorf("seeded login = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateServerSavesConfig(t *testing.T) {
	router, eng, _ := newTestRouter(t)
	cookies := do(t, router, "POST", "/login", `{"username":"admin","password":"pw"}`).Result().Cookies()

	body := `{"base_url":"http://10.0.0.5:3000","websocket_url":"ws://10.0.0.5:3000/ws","request_timeout":"5s"}`
	rec := do(t, router, "PUT", "/api/config/server", body, cookies...)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", rec.Code, rec.Body.String())
	}
	cfg, err := config.Load(eng.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.BaseURL != "http://10.0.0.5:3000" || cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("saved server = %+v", cfg.Server)
	}

	if rec := do(t, router, "PUT", "/api/config/server", `{"base_url":"x","websocket_url":"y","request_timeout":"soon"}`, cookies...); rec.Code != http.StatusBadRequest {
		t.Errorf("bad timeout = %d", rec.Code)
	}
}

func TestStaffSession(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	if rec := do(t, router, "POST", "/api/session", `{"token":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty token = %d", rec.Code)
	}
	if rec := do(t, router, "POST", "/api/session", `{"token":"abc","staff_id":"7","staff_name":"Amel"}`); rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	if tok, _ := eng.Session().Token(); tok != "abc" {
		t.Errorf("token = %q", tok)
	}
	if rec := do(t, router, "DELETE", "/api/session", ""); rec.Code != http.StatusOK {
		t.Errorf("logout = %d", rec.Code)
	}
}

func TestSSEStreamsEngineEvents(t *testing.T) {
	router, eng, _ := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events?types=selection-changed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	nextEvent := func() string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("stream closed")
				}
				if strings.HasPrefix(line, "event: ") {
					return strings.TrimPrefix(line, "event: ")
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for an event")
			}
		}
	}

	if got := nextEvent(); got != "connected" {
		t.Fatalf("first event = %q", got)
	}
	eng.Events.Publish(engine.ServerErrorEvent{Message: "filtered out"})
	eng.Select(conflict.Selection{DestinationName: "SFAX", Seats: 1})
	if got := nextEvent(); got != "selection-changed" {
		t.Errorf("event = %q, want selection-changed", got)
	}
}

func TestWriteEngineErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("reprint: %w", messaging.ErrPrintingDisabled), http.StatusServiceUnavailable},
		{lifecycle.ErrNoActivePass, http.StatusNotFound},
		{&conflict.Error{Code: conflict.CodeSeatTaken}, http.StatusConflict},
		{conn.ErrNotConnected, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeEngineError(rec, tt.err)
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestParseTypes(t *testing.T) {
	r := httptest.NewRequest("GET", "/events?types=queue-changed,%20exit-pass-issued,", nil)
	got := parseTypes(r)
	if len(got) != 2 || !got["queue-changed"] || !got["exit-pass-issued"] {
		t.Errorf("types = %v", got)
	}
	if parseTypes(httptest.NewRequest("GET", "/events", nil)) != nil {
		t.Error("no filter should mean every type")
	}
}

type memKeys map[string]string

func (m memKeys) GetSetting(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m memKeys) SetSetting(key, value string) error {
	m[key] = value
	return nil
}

func TestSessionKeyPersisted(t *testing.T) {
	keys := memKeys{}
	first := sessionKey("", keys)
	if len(first) != 32 || keys[keySetting] == "" {
		t.Fatalf("key not generated and stored: %v", keys)
	}
	if second := sessionKey("", keys); string(second) != string(first) {
		t.Error("stored key not reused")
	}
	secret := strings.Repeat("k", 32)
	configured := sessionKey(base64.StdEncoding.EncodeToString([]byte(secret)), keys)
	if string(configured) != secret {
		t.Error("configured secret should win")
	}
}
