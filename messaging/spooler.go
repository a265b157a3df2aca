package messaging

import (
	"errors"
	"fmt"

	"stationedge/lifecycle"
	"stationedge/protocol"
	"stationedge/store"
)

// Message types published on the broker.
const (
	TypePrintExitPass = "print_exit_pass"
	TypeStationStatus = "station_status"
)

// ErrPrintingDisabled is returned for print jobs while no broker is
// configured to deliver them.
var ErrPrintingDisabled = errors.New("printing disabled: messaging is not enabled")

// PrintJob is the payload of a print_exit_pass message.
type PrintJob struct {
	StationID string              `json:"stationId"`
	Pass      *lifecycle.ExitPass `json:"pass"`
}

// PassSpooler prints exit passes by queueing a print job in the outbox. It
// implements lifecycle.Printer.
type PassSpooler struct {
	db        *store.DB
	topic     string
	stationID string
	onSpool   func()
}

// NewPassSpooler creates a spooler publishing on topic. onSpool is called
// after every enqueue (typically OutboxDrainer.Kick). A nil onSpool means
// nothing drains the outbox, so jobs are refused with ErrPrintingDisabled
// rather than left to pile up.
func NewPassSpooler(db *store.DB, topic, stationID string, onSpool func()) *PassSpooler {
	return &PassSpooler{db: db, topic: topic, stationID: stationID, onSpool: onSpool}
}

// PrintExitPass spools one print job. Reprints spool a new job each time.
func (s *PassSpooler) PrintExitPass(pass *lifecycle.ExitPass) error {
	if s.onSpool == nil {
		return ErrPrintingDisabled
	}
	env, err := protocol.NewEnvelope(TypePrintExitPass, &PrintJob{StationID: s.stationID, Pass: pass})
	if err != nil {
		return fmt.Errorf("build print job: %w", err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode print job: %w", err)
	}
	if _, err := s.db.EnqueueOutbox(s.topic, data, TypePrintExitPass); err != nil {
		return fmt.Errorf("spool print job %s: %w", pass.Key(), err)
	}
	s.onSpool()
	return nil
}
