package queuesync

import (
	"sort"
	"strings"

	"stationedge/protocol"
)

// normalizeItems canonicalizes destination names, drops duplicate ids (the
// later entry wins) and orders by queue position. The input is not modified.
func normalizeItems(destination string, items []protocol.QueueItem) []protocol.QueueItem {
	out := make([]protocol.QueueItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		it.DestinationName = destination
		key := itemKey(it)
		if i, ok := index[key]; ok && key != "" {
			out[i] = it
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	sortByPosition(out)
	return out
}

func sortByPosition(items []protocol.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].QueuePosition < items[j].QueuePosition
	})
}

// itemKey identifies a queue entry: its id, or its plate when the server
// omitted the id.
func itemKey(it protocol.QueueItem) string {
	if it.ID != "" {
		return it.ID
	}
	if it.Vehicle.LicensePlate != "" {
		return "plate:" + strings.ToUpper(it.Vehicle.LicensePlate)
	}
	return ""
}

// upsertItem returns a new slice with item replacing the entry of the same
// key, or appended, then re-sorted. prev is the replaced entry.
func upsertItem(items []protocol.QueueItem, item protocol.QueueItem) (out []protocol.QueueItem, prev *protocol.QueueItem) {
	key := itemKey(item)
	out = make([]protocol.QueueItem, 0, len(items)+1)
	replaced := false
	for _, it := range items {
		if !replaced && key != "" && (itemKey(it) == key || samePlate(it, item)) {
			p := it
			prev = &p
			out = append(out, item)
			replaced = true
			continue
		}
		out = append(out, it)
	}
	if !replaced {
		out = append(out, item)
	}
	sortByPosition(out)
	return out, prev
}

// removeItem returns a new slice without the entry matching item.
func removeItem(items []protocol.QueueItem, item protocol.QueueItem) ([]protocol.QueueItem, bool) {
	key := itemKey(item)
	out := make([]protocol.QueueItem, 0, len(items))
	removed := false
	for _, it := range items {
		if !removed && key != "" && (itemKey(it) == key || samePlate(it, item)) {
			removed = true
			continue
		}
		out = append(out, it)
	}
	return out, removed
}

func samePlate(a, b protocol.QueueItem) bool {
	return a.Vehicle.LicensePlate != "" && strings.EqualFold(a.Vehicle.LicensePlate, b.Vehicle.LicensePlate)
}

// summarize derives a destination's counters. With detail the counters come
// from the items; without it the server's counters in base are kept.
// authoritative marks an empty items slice as a known-empty queue.
func summarize(base protocol.QueueSummary, destination string, items []protocol.QueueItem, authoritative bool) protocol.QueueSummary {
	sum := base
	sum.DestinationName = destination
	if len(items) == 0 && !authoritative {
		return sum
	}
	sum.TotalVehicles = len(items)
	sum.WaitingVehicles, sum.LoadingVehicles, sum.ReadyVehicles = 0, 0, 0
	for _, it := range items {
		switch it.EffectiveStatus() {
		case protocol.StatusReady:
			sum.ReadyVehicles++
		case protocol.StatusLoading:
			sum.LoadingVehicles++
		default:
			sum.WaitingVehicles++
		}
		if sum.DestinationID == "" && it.DestinationID != "" {
			sum.DestinationID = it.DestinationID
		}
	}
	if len(items) == 0 {
		sum.EstimatedNextDeparture = nil
		return sum
	}
	for _, it := range items {
		if it.EstimatedDeparture == nil {
			continue
		}
		if sum.EstimatedNextDeparture == nil || it.EstimatedDeparture.Before(*sum.EstimatedNextDeparture) {
			t := *it.EstimatedDeparture
			sum.EstimatedNextDeparture = &t
		}
	}
	return sum
}
