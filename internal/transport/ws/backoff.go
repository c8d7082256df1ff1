package ws

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff shapes the wait between reconnect attempts. Retry n waits
// Min*Factor^(n-1), capped at Max. Jitter spreads each wait by up to that
// fraction in either direction.
//
// The retry number is owned by Connection: it grows with every dial failure
// and every session that ends before it is established, and only an
// established session brings it back to zero.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff returns the delays used when Options.Backoff is unset.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.2,
	}
}

// Delay returns the wait before retry number attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	hi := b.Max
	if hi <= 0 {
		hi = 30 * time.Second
	}
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	lo = min(lo, hi)
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}

	wait := float64(lo) * math.Pow(factor, float64(max(attempt, 1)-1))
	wait = math.Min(wait, float64(hi))
	if j := math.Min(b.Jitter, 1); j > 0 {
		wait += wait * j * (2*rand.Float64() - 1)
	}
	return min(time.Duration(wait), hi)
}
