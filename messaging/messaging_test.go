package messaging

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stationedge/config"
	"stationedge/lifecycle"
	"stationedge/protocol"
	"stationedge/store"
)

type published struct {
	topic   string
	payload []byte
}

type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	fail      map[string]error // by msg type
	sent      []published
}

func (m *mockPublisher) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env, err := protocol.ParseEnvelope(payload); err == nil {
		if err := m.fail[env.Type]; err != nil {
			return err
		}
	}
	m.sent = append(m.sent, published{topic, payload})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.sent...)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePass() *lifecycle.ExitPass {
	return &lifecycle.ExitPass{
		LicensePlate:    "123 TUN 4567",
		DestinationName: "SOUSSE",
		QueueItemID:     "q1",
		TotalSeats:      8,
		BookedSeats:     8,
		BasePrice:       12.5,
		IssuedAt:        time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestSpoolerEnqueuesPrintJob(t *testing.T) {
	db := testDB(t)
	kicks := 0
	sp := NewPassSpooler(db, "stationedge/print", "station-1", func() { kicks++ })

	if err := sp.PrintExitPass(samplePass()); err != nil {
		t.Fatalf("print: %v", err)
	}
	if err := sp.PrintExitPass(samplePass()); err != nil {
		t.Fatalf("reprint: %v", err)
	}
	if kicks != 2 {
		t.Errorf("kicks = %d, want 2", kicks)
	}

	msgs, err := db.ListPendingOutbox(10, 0)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("outbox = %d messages, want 2", len(msgs))
	}
	if msgs[0].Topic != "stationedge/print" || msgs[0].MsgType != TypePrintExitPass {
		t.Errorf("outbox msg = %+v", msgs[0])
	}

	env, err := protocol.ParseEnvelope(msgs[0].Payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var job PrintJob
	if err := env.DecodePayload(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.StationID != "station-1" || job.Pass.LicensePlate != "123 TUN 4567" || job.Pass.BookedSeats != 8 {
		t.Errorf("job = %+v pass = %+v", job, job.Pass)
	}
}

func TestSpoolerRefusesWithoutDrainer(t *testing.T) {
	db := testDB(t)
	sp := NewPassSpooler(db, "stationedge/print", "station-1", nil)

	if err := sp.PrintExitPass(samplePass()); !errors.Is(err, ErrPrintingDisabled) {
		t.Fatalf("print = %v, want ErrPrintingDisabled", err)
	}
	if n, _ := db.CountPendingOutbox(); n != 0 {
		t.Errorf("outbox = %d messages, want 0", n)
	}
}

func TestDrainPublishesAndAcks(t *testing.T) {
	db := testDB(t)
	pub := &mockPublisher{connected: true}
	sp := NewPassSpooler(db, "stationedge/print", "station-1", nil)
	for i := 0; i < 3; i++ {
		if err := sp.PrintExitPass(samplePass()); err != nil {
			t.Fatal(err)
		}
	}

	d := NewOutboxDrainer(db, pub, time.Hour, 5)
	if n := d.Drain(); n != 3 {
		t.Fatalf("sent = %d, want 3", n)
	}
	if got := len(pub.messages()); got != 3 {
		t.Errorf("published = %d", got)
	}
	for _, m := range pub.messages() {
		if m.topic != "stationedge/print" {
			t.Errorf("topic = %q", m.topic)
		}
	}
	if n, _ := db.CountPendingOutbox(); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
	if n := d.Drain(); n != 0 {
		t.Errorf("second drain sent %d", n)
	}
}

func TestDrainSkipsWhileDisconnected(t *testing.T) {
	db := testDB(t)
	pub := &mockPublisher{}
	if err := NewPassSpooler(db, "p", "s", nil).PrintExitPass(samplePass()); err != nil {
		t.Fatal(err)
	}
	d := NewOutboxDrainer(db, pub, time.Hour, 5)
	if n := d.Drain(); n != 0 {
		t.Errorf("sent = %d while disconnected", n)
	}
	if n, _ := db.CountPendingOutbox(); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestDrainRetriesUntilCeiling(t *testing.T) {
	db := testDB(t)
	pub := &mockPublisher{connected: true, fail: map[string]error{TypePrintExitPass: errors.New("broker down")}}
	if err := NewPassSpooler(db, "p", "s", nil).PrintExitPass(samplePass()); err != nil {
		t.Fatal(err)
	}
	d := NewOutboxDrainer(db, pub, time.Hour, 2)

	d.Drain()
	d.Drain()
	if msgs, _ := db.ListPendingOutbox(10, 2); len(msgs) != 0 {
		t.Errorf("message still eligible after %d retries: %+v", 2, msgs)
	}
	if msgs, _ := db.ListPendingOutbox(10, 0); len(msgs) != 1 || msgs[0].Retries != 2 {
		t.Errorf("message should remain with 2 retries: %+v", msgs)
	}

	pub.mu.Lock()
	pub.fail = nil
	pub.mu.Unlock()
	if n := d.Drain(); n != 0 {
		t.Errorf("exhausted message was retried")
	}
}

func TestDrainerStartStop(t *testing.T) {
	db := testDB(t)
	pub := &mockPublisher{connected: true}
	d := NewOutboxDrainer(db, pub, time.Hour, 5)
	d.Start()
	sp := NewPassSpooler(db, "p", "s", d.Kick)
	if err := sp.PrintExitPass(samplePass()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	d.Stop()
	d.Stop()
	if len(pub.messages()) != 1 {
		t.Errorf("kick did not drain: %d published", len(pub.messages()))
	}
}

func TestHeartbeaterReport(t *testing.T) {
	pub := &mockPublisher{connected: true}
	h := NewHeartbeater(pub, "station-1", "1.2.0", "stationedge/status", time.Hour, func(s *StationStatus) {
		s.Connection = "authenticated"
		s.ActivePasses = 2
	})
	h.Start()
	h.Stop()

	msgs := pub.messages()
	if len(msgs) != 1 || msgs[0].topic != "stationedge/status" {
		t.Fatalf("published = %+v", msgs)
	}
	env, err := protocol.ParseEnvelope(msgs[0].payload)
	if err != nil {
		t.Fatal(err)
	}
	var st StationStatus
	if err := env.DecodePayload(&st); err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeStationStatus || st.StationID != "station-1" || st.Connection != "authenticated" || st.ActivePasses != 2 {
		t.Errorf("status = %s %+v", env.Type, st)
	}
}

func TestClientUnknownBackend(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "carrier-pigeon"}, "station-1")
	if err := c.Connect(); err == nil {
		t.Error("expected error for unknown backend")
	}
	if c.IsConnected() {
		t.Error("client should not report connected")
	}
}

func TestClientPublishBeforeConnect(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "mqtt"}, "station-1")
	if err := c.Publish("t", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	c.Close()
}

func TestKafkaRequiresBrokers(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "kafka"}, "station-1")
	if err := c.Connect(); err == nil {
		t.Error("expected error without brokers")
	}
	k := NewClient(&config.MessagingConfig{Backend: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}, "station-1")
	if err := k.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !k.IsConnected() {
		t.Error("kafka writer should be ready")
	}
	k.Close()
}
