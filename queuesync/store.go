// Package queuesync keeps the terminal's canonical view of every destination
// queue. It merges pulled snapshots with pushed updates, suppresses stale
// bulk pushes after a manual refresh and polls while the push channel is
// down.
package queuesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stationedge/clock"
	"stationedge/protocol"
)

// ErrUnknownDestination is returned when a destination has no server id in
// the current snapshot.
var ErrUnknownDestination = errors.New("queuesync: unknown destination")

// DataSource is the REST data-access collaborator.
type DataSource interface {
	GetAvailableQueues(ctx context.Context) ([]protocol.QueueSummary, error)
	GetQueueByDestination(ctx context.Context, destinationID string) ([]protocol.QueueItem, error)
	EnterQueue(ctx context.Context, licensePlate string) error
	ExitQueue(ctx context.Context, licensePlate string) error
	UpdateVehicleStatus(ctx context.Context, licensePlate string, status protocol.VehicleStatus) error
	CreateBooking(ctx context.Context, destinationID string, seats int) (*protocol.BookingResult, error)
}

// LinkState reports whether pushes are flowing.
type LinkState interface {
	IsAuthenticated() bool
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	// SuppressionWindow is how long after a manual refresh bulk pushes are
	// discarded.
	SuppressionWindow time.Duration

	// PollInterval is the fallback refresh period while the push channel is
	// not authenticated.
	PollInterval time.Duration

	Clock clock.Clock
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SuppressionWindow: 4 * time.Second,
		PollInterval:      30 * time.Second,
	}
}

// Store owns the canonical queue map. Reads are lock-free through an atomic
// snapshot pointer; writers are serialized by mu.
type Store struct {
	source  DataSource
	link    LinkState
	emitter EventEmitter
	clock   clock.Clock
	opts    Options

	snap atomic.Pointer[Snapshot]

	mu          sync.Mutex
	anchor      time.Time
	destAnchors map[string]time.Time

	pollMu    sync.Mutex
	polling   bool
	pollGen   uint64
	pollTimer *clock.Timer
}

// New creates an empty store. emitter may be nil.
func New(source DataSource, link LinkState, emitter EventEmitter, opts Options) *Store {
	def := DefaultOptions()
	if opts.SuppressionWindow <= 0 {
		opts.SuppressionWindow = def.SuppressionWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	s := &Store{
		source:      source,
		link:        link,
		emitter:     emitter,
		clock:       opts.Clock,
		opts:        opts,
		destAnchors: make(map[string]time.Time),
	}
	s.snap.Store(emptySnapshot())
	return s
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Queue returns a destination's vehicles in queue order.
func (s *Store) Queue(destination string) []protocol.QueueItem {
	return s.Snapshot().Queue(destination)
}

// Summaries returns every destination summary ordered by name.
func (s *Store) Summaries() []protocol.QueueSummary {
	return s.Snapshot().SummaryList()
}

func (s *Store) authenticated() bool {
	return s.link != nil && s.link.IsAuthenticated()
}

// Refresh pulls summaries and, for destinations with vehicles, their detail.
// The suppression anchor is set before the pull. On any failure the current
// snapshot is left untouched, the previous anchor restored and the error
// returned.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	prev := s.anchor
	anchor := s.clock.Now()
	s.anchor = anchor
	s.mu.Unlock()

	summaries, err := s.source.GetAvailableQueues(ctx)
	if err != nil {
		s.restoreAnchor(anchor, prev)
		err = fmt.Errorf("refresh summaries: %w", err)
		s.emitter.EmitRefreshFailed("", err)
		return err
	}

	details := make(map[string][]protocol.QueueItem, len(summaries))
	for _, sum := range summaries {
		name := protocol.CanonicalName(sum.DestinationName)
		if name == "" || sum.TotalVehicles <= 0 {
			continue
		}
		items, err := s.source.GetQueueByDestination(ctx, sum.DestinationID)
		if err != nil {
			s.restoreAnchor(anchor, prev)
			err = fmt.Errorf("refresh %s: %w", name, err)
			s.emitter.EmitRefreshFailed(name, err)
			return err
		}
		details[name] = normalizeItems(name, items)
	}

	s.mu.Lock()
	next := s.Snapshot().clone()
	seen := make(map[string]bool, len(summaries))
	for _, sum := range summaries {
		name := protocol.CanonicalName(sum.DestinationName)
		if name == "" {
			continue
		}
		seen[name] = true
		items, ok := details[name]
		if !ok {
			items = []protocol.QueueItem{}
		}
		next.Queues[name] = items
		next.Summaries[name] = summarize(sum, name, items, true)
	}
	// Destinations the server no longer lists are reset, not removed.
	for name := range next.Queues {
		if !seen[name] {
			next.Queues[name] = []protocol.QueueItem{}
			next.Summaries[name] = summarize(next.Summaries[name], name, nil, true)
		}
	}
	next.RefreshedAt = s.clock.Now()
	s.snap.Store(next)
	s.mu.Unlock()

	s.emitter.EmitQueuesRefreshed(next)
	return nil
}

// RefreshDestination pulls one destination's detail and opens a suppression
// window for that destination only. Unknown destinations fall back to a full
// Refresh.
func (s *Store) RefreshDestination(ctx context.Context, destination string) error {
	name := protocol.CanonicalName(destination)
	id := s.Snapshot().DestinationID(name)
	if id == "" {
		return s.Refresh(ctx)
	}

	s.mu.Lock()
	prev, hadPrev := s.destAnchors[name]
	anchor := s.clock.Now()
	s.destAnchors[name] = anchor
	s.mu.Unlock()

	items, err := s.source.GetQueueByDestination(ctx, id)
	if err != nil {
		s.mu.Lock()
		if s.destAnchors[name].Equal(anchor) {
			if hadPrev {
				s.destAnchors[name] = prev
			} else {
				delete(s.destAnchors, name)
			}
		}
		s.mu.Unlock()
		err = fmt.Errorf("refresh %s: %w", name, err)
		s.emitter.EmitRefreshFailed(name, err)
		return err
	}
	items = normalizeItems(name, items)

	s.mu.Lock()
	next := s.Snapshot().clone()
	next.Queues[name] = items
	sum := summarize(next.Summaries[name], name, items, true)
	sum.DestinationID = id
	next.Summaries[name] = sum
	s.snap.Store(next)
	s.mu.Unlock()

	s.emitter.EmitQueueChanged(name, items, sum)
	return nil
}

// restoreAnchor undoes a failed refresh's anchor unless a later refresh
// has replaced it since.
func (s *Store) restoreAnchor(anchor, prev time.Time) {
	s.mu.Lock()
	if s.anchor.Equal(anchor) {
		s.anchor = prev
	}
	s.mu.Unlock()
}

func (s *Store) suppressedLocked(anchor, now time.Time) bool {
	return !anchor.IsZero() && now.Sub(anchor) < s.opts.SuppressionWindow
}
