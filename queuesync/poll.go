package queuesync

import (
	"context"
	"log"
	"time"
)

const pollTimeout = 20 * time.Second

// StartPolling refreshes every PollInterval until the push channel is
// authenticated or StopPolling is called. Calling it while polling is a
// no-op.
func (s *Store) StartPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.polling {
		return
	}
	s.polling = true
	s.pollGen++
	s.schedulePollLocked()
	log.Printf("queuesync: fallback polling every %v", s.opts.PollInterval)
}

// StopPolling cancels the pending poll.
func (s *Store) StopPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if !s.polling {
		return
	}
	s.polling = false
	s.pollGen++
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	log.Printf("queuesync: fallback polling stopped")
}

// Polling reports whether fallback polling is active.
func (s *Store) Polling() bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.polling
}

// schedulePollLocked arms the next tick for the current polling run. A tick
// from an earlier run (StopPolling and StartPolling while it was refreshing)
// sees a stale generation and does not reschedule.
func (s *Store) schedulePollLocked() {
	gen := s.pollGen
	s.pollTimer = s.clock.AfterFunc(s.opts.PollInterval, func() { s.pollTick(gen) })
}

func (s *Store) pollTick(gen uint64) {
	if s.authenticated() {
		s.StopPolling()
		return
	}
	s.pollMu.Lock()
	active := s.polling && gen == s.pollGen
	s.pollMu.Unlock()
	if !active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	if err := s.Refresh(ctx); err != nil {
		log.Printf("queuesync: poll: %v", err)
	}
	cancel()

	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.polling && gen == s.pollGen {
		s.schedulePollLocked()
	}
}
