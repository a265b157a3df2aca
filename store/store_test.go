package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSettings(t *testing.T) {
	db := testDB(t)

	if _, err := db.GetSetting("auth_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: err = %v, want ErrNotFound", err)
	}
	if err := db.SetSetting("auth_token", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetSetting("auth_token", "b"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, err := db.GetSetting("auth_token"); err != nil || v != "b" {
		t.Errorf("get = %q, %v; want b", v, err)
	}
	if err := db.SetSettings(map[string]string{"staff_id": "s-1", "staff_name": "Amal"}); err != nil {
		t.Fatalf("set many: %v", err)
	}
	if v, _ := db.GetSetting("staff_name"); v != "Amal" {
		t.Errorf("staff_name = %q", v)
	}
	if err := db.DeleteSetting("auth_token"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetSetting("auth_token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: err = %v", err)
	}
}

func TestAdminUsers(t *testing.T) {
	db := testDB(t)

	exists, err := db.AdminUserExists()
	if err != nil || exists {
		t.Fatalf("exists = %v, %v; want false", exists, err)
	}
	if _, err := db.CreateAdminUser("admin", "hash1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.UpdateAdminPassword("admin", "hash2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	u, err := db.GetAdminUser("admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordHash != "hash2" {
		t.Errorf("hash = %q, want hash2", u.PasswordHash)
	}
	if err := db.UpdateAdminPassword("ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: err = %v", err)
	}
	if _, err := db.GetAdminUser("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: err = %v", err)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	id1, _ := db.EnqueueOutbox("station/print", []byte(`{"a":1}`), "exit_pass")
	id2, _ := db.EnqueueOutbox("station/print", []byte(`{"a":2}`), "exit_pass")

	msgs, err := db.ListPendingOutbox(10, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != id1 {
		t.Fatalf("pending = %+v", msgs)
	}

	db.AckOutbox(id1)
	for i := 0; i < 3; i++ {
		db.IncrementOutboxRetries(id2)
	}
	msgs, _ = db.ListPendingOutbox(10, 3)
	if len(msgs) != 0 {
		t.Errorf("pending after ack and retries = %d, want 0", len(msgs))
	}
	msgs, _ = db.ListPendingOutbox(10, 0)
	if len(msgs) != 1 || msgs[0].ID != id2 {
		t.Errorf("uncapped pending = %+v", msgs)
	}
	if n, _ := db.CountPendingOutbox(); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if n, err := db.PurgeSentOutbox(7); err != nil || n != 0 {
		t.Errorf("purge recent = %d, %v; want 0", n, err)
	}
}

func TestExitLedger(t *testing.T) {
	db := testDB(t)

	if _, err := db.LastExit("SOUSSE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty ledger: err = %v", err)
	}

	tz := time.FixedZone("CET", 3600)
	first := time.Date(2026, 3, 2, 9, 15, 0, 0, tz)
	for _, r := range []*ExitRecord{
		{LicensePlate: "100 TU 1", DestinationName: "SOUSSE", TotalSeats: 8, BookedSeats: 8, ExitedAt: first},
		{LicensePlate: "200 TU 2", DestinationName: "SFAX", TotalSeats: 8, BookedSeats: 8, ExitedAt: first.Add(time.Minute)},
		{LicensePlate: "300 TU 3", DestinationName: "SOUSSE", TotalSeats: 8, BookedSeats: 7, ExitedAt: first.Add(time.Hour)},
	} {
		if err := db.RecordExit(r); err != nil {
			t.Fatalf("record: %v", err)
		}
		if r.ID == 0 {
			t.Fatal("ID should be assigned")
		}
	}

	last, err := db.LastExit("SOUSSE")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last.LicensePlate != "300 TU 3" {
		t.Errorf("plate = %q, want 300 TU 3", last.LicensePlate)
	}
	if !last.ExitedAt.Equal(first.Add(time.Hour)) {
		t.Errorf("exited_at = %v", last.ExitedAt)
	}
	if _, off := last.ExitedAt.Zone(); off != 3600 {
		t.Errorf("zone offset = %d, want 3600", off)
	}

	all, _ := db.ListExits(10)
	if len(all) != 3 || all[0].LicensePlate != "300 TU 3" {
		t.Errorf("list = %+v", all)
	}
}

func TestLifecycleLog(t *testing.T) {
	db := testDB(t)

	db.InsertLifecycleLog("100 TU 1", "SOUSSE", "ready", "pending_exit_confirmation", "")
	db.InsertLifecycleLog("100 TU 1", "SOUSSE", "pending_exit_confirmation", "exited", "")
	db.InsertLifecycleLog("200 TU 2", "SOUSSE", "ready", "pending_exit_confirmation", "")

	logs, err := db.ListVehicleLifecycleLog("100 TU 1", "SOUSSE")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 || logs[1].ToState != "exited" {
		t.Errorf("vehicle log = %+v", logs)
	}
	recent, _ := db.ListLifecycleLog(1)
	if len(recent) != 1 || recent[0].LicensePlate != "200 TU 2" {
		t.Errorf("recent = %+v", recent)
	}
}
