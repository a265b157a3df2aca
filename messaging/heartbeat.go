package messaging

import (
	"log"
	"os"
	"sync"
	"time"

	"stationedge/protocol"
)

// StationStatus is the payload of a station_status message.
type StationStatus struct {
	StationID     string `json:"stationId"`
	Hostname      string `json:"hostname"`
	Version       string `json:"version"`
	Uptime        int64  `json:"uptime_s"`
	Connection    string `json:"connection"`
	Destinations  int    `json:"destinations"`
	ActivePasses  int    `json:"activePasses"`
	PendingOutbox int    `json:"pendingOutbox"`
}

// StatusFunc fills the live fields of a status report.
type StatusFunc func(s *StationStatus)

// Heartbeater publishes station status on startup and periodically. Status
// is ephemeral and bypasses the outbox.
type Heartbeater struct {
	pub       Publisher
	stationID string
	version   string
	topic     string
	interval  time.Duration
	status    StatusFunc
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHeartbeater creates a heartbeater for the given station.
func NewHeartbeater(pub Publisher, stationID, version, topic string, interval time.Duration, status StatusFunc) *Heartbeater {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Heartbeater{
		pub:       pub,
		stationID: stationID,
		version:   version,
		topic:     topic,
		interval:  interval,
		status:    status,
		stopCh:    make(chan struct{}),
	}
}

// Start sends an initial report and begins the heartbeat loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.send()
	go h.loop()
}

// Stop halts the heartbeat loop.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeater) report() *StationStatus {
	hostname, _ := os.Hostname()
	st := &StationStatus{
		StationID: h.stationID,
		Hostname:  hostname,
		Version:   h.version,
		Uptime:    int64(time.Since(h.startTime).Seconds()),
	}
	if h.status != nil {
		h.status(st)
	}
	return st
}

func (h *Heartbeater) send() {
	if !h.pub.IsConnected() {
		return
	}
	env, err := protocol.NewEnvelope(TypeStationStatus, h.report())
	if err != nil {
		log.Printf("heartbeater: build status: %v", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		log.Printf("heartbeater: encode status: %v", err)
		return
	}
	if err := h.pub.Publish(h.topic, data); err != nil {
		log.Printf("heartbeater: send status: %v", err)
	}
}

func (h *Heartbeater) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send()
		}
	}
}
