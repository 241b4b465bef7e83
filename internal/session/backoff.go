package session

import (
	"math/rand/v2"
	"time"
)

// Reconnect backoff bounds: the exponent stops growing after five doublings
// and the delay never exceeds the ceiling, whatever the base.
const (
	maxBackoffShift = 5
	maxBackoffDelay = 32 * time.Second
	jitterFraction  = 0.2
)

// Backoff computes the delays between connection-level reconnect attempts.
// This is the intra-session retry, distinct from the batch-level host retry.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Jitter disables the random spread when false, for deterministic tests.
	Jitter bool
}

// Delay returns the pause before retry attempt, counted from 1:
// base * 2^(attempt-1), capped, with a uniform spread of up to ±20% to keep a
// fleet from hammering a shared target in lockstep.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := base * (1 << shift)
	if d > maxBackoffDelay {
		d = maxBackoffDelay
	}

	if b.Jitter {
		spread := 1 + jitterFraction*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * spread)
	}
	return d
}
