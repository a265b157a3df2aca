package queuesync

import "stationedge/protocol"

// EventEmitter is the interface the queuesync package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitQueuesRefreshed(snap *Snapshot)
	EmitQueueChanged(destination string, items []protocol.QueueItem, summary protocol.QueueSummary)
	EmitSeatsExhausted(destination string, item protocol.QueueItem)
	EmitPushSuppressed(scope string)
	EmitRefreshFailed(scope string, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitQueuesRefreshed(*Snapshot)                                        {}
func (nopEmitter) EmitQueueChanged(string, []protocol.QueueItem, protocol.QueueSummary) {}
func (nopEmitter) EmitSeatsExhausted(string, protocol.QueueItem)                        {}
func (nopEmitter) EmitPushSuppressed(string)                                            {}
func (nopEmitter) EmitRefreshFailed(string, error)                                      {}
