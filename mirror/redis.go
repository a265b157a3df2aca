// Package mirror copies the canonical queue view into Redis so display
// boards and other local readers can follow the terminal without a push
// channel of their own.
package mirror

import (
	"context"
	"encoding/json"
	"time"

	"stationedge/protocol"
	"stationedge/queuesync"

	"github.com/redis/go-redis/v9"
)

// QueueRecord is the value stored per destination.
type QueueRecord struct {
	Destination string                `json:"destination"`
	Summary     protocol.QueueSummary `json:"summary"`
	Items       []protocol.QueueItem  `json:"items"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// RedisMirror writes queue records under <prefix>:queue:<destination> and
// keeps the <prefix>:destinations set.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror wraps a client. ttl <= 0 keeps records until overwritten.
func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "stationedge"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisMirror) queueKey(destination string) string {
	return r.prefix + ":queue:" + protocol.CanonicalName(destination)
}

func (r *RedisMirror) destinationsKey() string {
	return r.prefix + ":destinations"
}

// Ping checks the connection.
func (r *RedisMirror) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisMirror) Close() error {
	return r.client.Close()
}

// WriteQueue stores one destination.
func (r *RedisMirror) WriteQueue(ctx context.Context, destination string, items []protocol.QueueItem, summary protocol.QueueSummary) error {
	name := protocol.CanonicalName(destination)
	data, err := encodeRecord(name, items, summary, time.Now())
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.queueKey(name), data, r.ttl)
	pipe.SAdd(ctx, r.destinationsKey(), name)
	_, err = pipe.Exec(ctx)
	return err
}

// WriteSnapshot replaces every destination with the snapshot's contents.
func (r *RedisMirror) WriteSnapshot(ctx context.Context, snap *queuesync.Snapshot) error {
	names := snap.Destinations()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.destinationsKey())
	for _, name := range names {
		sum, _ := snap.Summary(name)
		data, err := encodeRecord(name, snap.Queue(name), sum, snap.RefreshedAt)
		if err != nil {
			return err
		}
		pipe.Set(ctx, r.queueKey(name), data, r.ttl)
		pipe.SAdd(ctx, r.destinationsKey(), name)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func encodeRecord(name string, items []protocol.QueueItem, summary protocol.QueueSummary, at time.Time) ([]byte, error) {
	if items == nil {
		items = []protocol.QueueItem{}
	}
	return json.Marshal(&QueueRecord{
		Destination: name,
		Summary:     summary,
		Items:       items,
		UpdatedAt:   at.UTC(),
	})
}
