package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"stationedge/engine"
)

const (
	clientBuffer      = 64
	keepaliveInterval = 30 * time.Second
)

// SSEEvent is one message on the event stream. ID increases by one per
// broadcast so a client can detect gaps and resync with a full refresh.
type SSEEvent struct {
	ID   uint64
	Type string
	Data interface{}
}

type sseClient struct {
	events chan SSEEvent
	types  map[string]bool // nil means every type
}

func (c *sseClient) wants(typ string) bool {
	return c.types == nil || c.types[typ]
}

// EventHub fans engine events out to SSE clients. Broadcast never blocks:
// a client whose buffer is full misses the event and sees a gap in ids.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	nextID  uint64

	stopChan chan struct{}
	stopOnce sync.Once
	bus      *engine.EventBus
	subID    engine.SubscriberID
}

// NewEventHub creates a new EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:  make(map[*sseClient]struct{}),
		stopChan: make(chan struct{}),
	}
}

// Stop unsubscribes from the engine and ends every stream.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() {
		if h.bus != nil {
			h.bus.Unsubscribe(h.subID)
		}
		close(h.stopChan)
	})
}

// Broadcast stamps evt with the next id and queues it for every interested
// client.
func (h *EventHub) Broadcast(typ string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	evt := SSEEvent{ID: h.nextID, Type: typ, Data: data}
	for c := range h.clients {
		if !c.wants(typ) {
			continue
		}
		select {
		case c.events <- evt:
		default:
		}
	}
}

// ClientCount returns the number of connected streams.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// parseTypes reads the comma-separated ?types= filter.
func parseTypes(r *http.Request) map[string]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}

// HandleSSE streams events until the client goes away. The optional types
// query parameter restricts the stream to the named event types.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan SSEEvent, clientBuffer), types: parseTypes(r)}
	h.register(client)
	defer h.unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt := <-client.events:
			data, err := json.Marshal(evt.Data)
			if err != nil {
				log.Printf("sse: marshal %s: %v", evt.Type, err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// SetupEngineListeners forwards every engine event, named by its type.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	h.bus = eng.Events
	h.subID = eng.Events.Subscribe(func(evt engine.Event) {
		h.Broadcast(evt.Type.String(), evt.Payload)
	})
	log.Printf("SSE listeners wired to engine events")
}
