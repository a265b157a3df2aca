package messaging

import (
	"log"
	"sync"
	"time"

	"stationedge/store"
)

const (
	drainBatch = 50

	// Delivered messages are kept this long for the admin outbox view.
	retentionDays = 7
	purgeInterval = 6 * time.Hour
)

// OutboxDrainer periodically publishes pending outbox messages.
type OutboxDrainer struct {
	db         *store.DB
	pub        Publisher
	interval   time.Duration
	maxRetries int
	stopChan   chan struct{}
	kick       chan struct{}
	wg         sync.WaitGroup
}

// NewOutboxDrainer creates a new outbox drainer. Messages that failed
// maxRetries times stay in the outbox but are no longer attempted.
func NewOutboxDrainer(db *store.DB, pub Publisher, interval time.Duration, maxRetries int) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{
		db:         db,
		pub:        pub,
		interval:   interval,
		maxRetries: maxRetries,
		stopChan:   make(chan struct{}),
		kick:       make(chan struct{}, 1),
	}
}

// Start begins the outbox drain loop.
func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

// Stop stops the outbox drain loop.
func (d *OutboxDrainer) Stop() {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	d.wg.Wait()
}

// Kick requests a drain before the next tick.
func (d *OutboxDrainer) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	purgeTicker := time.NewTicker(purgeInterval)
	defer purgeTicker.Stop()

	d.purge()
	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.Drain()
		case <-purgeTicker.C:
			d.purge()
		case <-d.kick:
			d.Drain()
		}
	}
}

// Drain publishes one batch and returns the number of messages sent.
func (d *OutboxDrainer) Drain() int {
	if !d.pub.IsConnected() {
		return 0
	}

	msgs, err := d.db.ListPendingOutbox(drainBatch, d.maxRetries)
	if err != nil {
		log.Printf("list pending outbox: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		if err := d.pub.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("publish outbox msg %d: %v", msg.ID, err)
			if err := d.db.IncrementOutboxRetries(msg.ID); err != nil {
				log.Printf("increment outbox retries %d: %v", msg.ID, err)
			}
			continue
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			log.Printf("ack outbox msg %d: %v", msg.ID, err)
			continue
		}
		sent++
	}
	return sent
}

func (d *OutboxDrainer) purge() {
	n, err := d.db.PurgeSentOutbox(retentionDays)
	if err != nil {
		log.Printf("purge sent outbox: %v", err)
		return
	}
	if n > 0 {
		log.Printf("purged %d delivered outbox messages", n)
	}
}
