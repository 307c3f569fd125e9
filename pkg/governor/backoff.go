package governor

import (
	"math"
	"time"
)

// Backoff computes retry delays as Base * 2^attempt, capped at Max, plus a
// random jitter fraction drawn from [JitterMin, JitterMax].
type Backoff struct {
	Base      time.Duration
	Max       time.Duration
	JitterMin float64
	JitterMax float64
}

// DefaultBackoff returns the backoff used for outbound model calls.
// Base: 2s, Max: 60s, Jitter: 10-30%.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:      2 * time.Second,
		Max:       60 * time.Second,
		JitterMin: 0.1,
		JitterMax: 0.3,
	}
}

// Delay returns the wait before retry number attempt (0-based).
// rnd must return a value in [0, 1).
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	lo, hi := b.JitterMin, b.JitterMax
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi > 0 {
		r := 0.0
		if rnd != nil {
			r = rnd()
		}
		delay += delay * (lo + r*(hi-lo))
	}
	return time.Duration(delay)
}
