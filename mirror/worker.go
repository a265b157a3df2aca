package mirror

import (
	"context"
	"log"
	"sync"
	"time"

	"stationedge/protocol"
	"stationedge/queuesync"
)

// Writer is the Redis side of the worker.
type Writer interface {
	WriteQueue(ctx context.Context, destination string, items []protocol.QueueItem, summary protocol.QueueSummary) error
	WriteSnapshot(ctx context.Context, snap *queuesync.Snapshot) error
}

type job struct {
	snap        *queuesync.Snapshot
	destination string
	items       []protocol.QueueItem
	summary     protocol.QueueSummary
}

const writeTimeout = 2 * time.Second

// Worker serializes mirror writes off the caller's goroutine. When the queue
// is full the oldest pending write is dropped; a later snapshot supersedes
// it anyway.
type Worker struct {
	w      Writer
	jobs   chan job
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewWorker creates a worker with the given queue depth.
func NewWorker(w Writer, depth int) *Worker {
	if depth <= 0 {
		depth = 64
	}
	return &Worker{w: w, jobs: make(chan job, depth), stopCh: make(chan struct{})}
}

// Start begins processing writes.
func (k *Worker) Start() {
	k.wg.Add(1)
	go k.run()
}

// Stop drains queued writes and stops the worker.
func (k *Worker) Stop() {
	k.once.Do(func() { close(k.stopCh) })
	k.wg.Wait()
}

// QueueChanged schedules a single-destination write.
func (k *Worker) QueueChanged(destination string, items []protocol.QueueItem, summary protocol.QueueSummary) {
	k.enqueue(job{destination: destination, items: items, summary: summary})
}

// SnapshotChanged schedules a full rewrite.
func (k *Worker) SnapshotChanged(snap *queuesync.Snapshot) {
	k.enqueue(job{snap: snap})
}

func (k *Worker) enqueue(j job) {
	for {
		select {
		case k.jobs <- j:
			return
		default:
		}
		select {
		case <-k.jobs:
		default:
		}
	}
}

func (k *Worker) run() {
	defer k.wg.Done()
	for {
		select {
		case j := <-k.jobs:
			k.write(j)
		case <-k.stopCh:
			for {
				select {
				case j := <-k.jobs:
					k.write(j)
				default:
					return
				}
			}
		}
	}
}

func (k *Worker) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	var err error
	if j.snap != nil {
		err = k.w.WriteSnapshot(ctx, j.snap)
	} else {
		err = k.w.WriteQueue(ctx, j.destination, j.items, j.summary)
	}
	if err != nil {
		log.Printf("mirror: write: %v", err)
	}
}
