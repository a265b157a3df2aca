package queuesync

import (
	"sort"
	"strings"
	"time"

	"stationedge/protocol"
)

// Snapshot is an immutable view of every destination queue. Writers build a
// new Snapshot and swap it in; readers never see a partial update. Callers
// must not modify the maps or slices.
type Snapshot struct {
	Queues      map[string][]protocol.QueueItem  `json:"queues"`
	Summaries   map[string]protocol.QueueSummary `json:"summaries"`
	RefreshedAt time.Time                        `json:"refreshedAt"`
	Version     uint64                           `json:"version"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Queues:    make(map[string][]protocol.QueueItem),
		Summaries: make(map[string]protocol.QueueSummary),
	}
}

// clone copies the maps. Item slices are shared because they are never
// modified after publication.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Queues:      make(map[string][]protocol.QueueItem, len(s.Queues)),
		Summaries:   make(map[string]protocol.QueueSummary, len(s.Summaries)),
		RefreshedAt: s.RefreshedAt,
		Version:     s.Version + 1,
	}
	for k, v := range s.Queues {
		next.Queues[k] = v
	}
	for k, v := range s.Summaries {
		next.Summaries[k] = v
	}
	return next
}

// Queue returns a destination's vehicles in queue order.
func (s *Snapshot) Queue(destination string) []protocol.QueueItem {
	return s.Queues[protocol.CanonicalName(destination)]
}

// Summary returns a destination's counters.
func (s *Snapshot) Summary(destination string) (protocol.QueueSummary, bool) {
	sum, ok := s.Summaries[protocol.CanonicalName(destination)]
	return sum, ok
}

// Destinations returns every known destination, sorted.
func (s *Snapshot) Destinations() []string {
	seen := make(map[string]bool, len(s.Queues)+len(s.Summaries))
	for k := range s.Queues {
		seen[k] = true
	}
	for k := range s.Summaries {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SummaryList returns the summaries ordered by destination.
func (s *Snapshot) SummaryList() []protocol.QueueSummary {
	out := make([]protocol.QueueSummary, 0, len(s.Summaries))
	for _, d := range s.Destinations() {
		if sum, ok := s.Summaries[d]; ok {
			out = append(out, sum)
		}
	}
	return out
}

// FindVehicle locates a queued vehicle by plate across all destinations.
func (s *Snapshot) FindVehicle(licensePlate string) (string, protocol.QueueItem, bool) {
	for _, d := range s.Destinations() {
		for _, it := range s.Queues[d] {
			if strings.EqualFold(it.Vehicle.LicensePlate, licensePlate) {
				return d, it, true
			}
		}
	}
	return "", protocol.QueueItem{}, false
}

// DestinationID returns the server id of a destination, if known.
func (s *Snapshot) DestinationID(destination string) string {
	name := protocol.CanonicalName(destination)
	if sum, ok := s.Summaries[name]; ok && sum.DestinationID != "" {
		return sum.DestinationID
	}
	for _, it := range s.Queues[name] {
		if it.DestinationID != "" {
			return it.DestinationID
		}
	}
	return ""
}
