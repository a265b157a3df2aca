package conn

import (
	"math/rand"
	"time"
)

// Backoff is a capped exponential reconnect policy with jitter:
// delay = min(Base * 2^(attempt-1), Max) * U(1-Jitter, 1+Jitter).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// Rand returns a value in [0,1). Nil uses math/rand.
	Rand func() float64
}

// DefaultBackoff starts at 3s, doubles up to 30s, with ±20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: 3 * time.Second, Max: 30 * time.Second, Jitter: 0.2}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 3 * time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			delay = b.Max
			break
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if b.Jitter <= 0 {
		return delay
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	factor := 1 - b.Jitter + 2*b.Jitter*r()
	return time.Duration(float64(delay) * factor)
}
