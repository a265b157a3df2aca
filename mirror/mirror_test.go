package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"stationedge/protocol"
	"stationedge/queuesync"

	"github.com/redis/go-redis/v9"
)

type mockWriter struct {
	mu        sync.Mutex
	queues    []string
	snapshots int
	block     chan struct{}
}

func (m *mockWriter) WriteQueue(ctx context.Context, dest string, items []protocol.QueueItem, sum protocol.QueueSummary) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = append(m.queues, dest)
	return nil
}

func (m *mockWriter) WriteSnapshot(ctx context.Context, snap *queuesync.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
	return nil
}

func TestKeys(t *testing.T) {
	r := NewRedisMirror(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", 0)
	defer r.Close()
	if got := r.queueKey(" sousse  centre "); got != "stationedge:queue:SOUSSE CENTRE" {
		t.Errorf("queueKey = %q", got)
	}
	if got := r.destinationsKey(); got != "stationedge:destinations" {
		t.Errorf("destinationsKey = %q", got)
	}
}

func TestEncodeRecord(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	data, err := encodeRecord("SOUSSE", nil, protocol.QueueSummary{DestinationName: "SOUSSE", TotalVehicles: 0}, at)
	if err != nil {
		t.Fatal(err)
	}
	var rec QueueRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Items == nil || len(rec.Items) != 0 {
		t.Errorf("items = %#v, want empty slice", rec.Items)
	}
	if !rec.UpdatedAt.Equal(at) || rec.UpdatedAt.Location() != time.UTC {
		t.Errorf("updatedAt = %v", rec.UpdatedAt)
	}
}

func TestWriteFailsWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	r := NewRedisMirror(client, "test", time.Minute)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err == nil {
		t.Fatal("expected ping error")
	}
	if err := r.WriteQueue(ctx, "Sousse", nil, protocol.QueueSummary{}); err == nil {
		t.Error("expected write error")
	}
}

func TestWorkerProcessesInOrder(t *testing.T) {
	w := &mockWriter{}
	k := NewWorker(w, 8)
	k.Start()
	k.QueueChanged("A", nil, protocol.QueueSummary{})
	k.SnapshotChanged(&queuesync.Snapshot{})
	k.QueueChanged("B", nil, protocol.QueueSummary{})
	k.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queues) != 2 || w.queues[0] != "A" || w.queues[1] != "B" || w.snapshots != 1 {
		t.Errorf("writes = %v snapshots = %d", w.queues, w.snapshots)
	}
}

func TestWorkerDropsOldestWhenFull(t *testing.T) {
	w := &mockWriter{block: make(chan struct{})}
	k := NewWorker(w, 2)
	k.Start()

	k.QueueChanged("first", nil, protocol.QueueSummary{})
	// Wait until the worker holds "first" inside WriteQueue.
	deadline := time.Now().Add(2 * time.Second)
	for len(k.jobs) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	k.QueueChanged("a", nil, protocol.QueueSummary{})
	k.QueueChanged("b", nil, protocol.QueueSummary{})
	k.QueueChanged("c", nil, protocol.QueueSummary{})
	close(w.block)
	k.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	want := []string{"first", "b", "c"}
	if len(w.queues) != len(want) {
		t.Fatalf("writes = %v, want %v", w.queues, want)
	}
	for i := range want {
		if w.queues[i] != want[i] {
			t.Errorf("writes = %v, want %v", w.queues, want)
			break
		}
	}
}
