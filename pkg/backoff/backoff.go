// Package backoff implements truncated exponential backoff with jitter for
// reconnect loops.
package backoff

import (
	"math/rand"
	"time"
)

const multiplier = 2.0

// Backoff yields successive retry delays. It is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// New returns a Backoff starting at initial and capped at max.
func New(initial, max time.Duration) *Backoff {
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the current delay with ±25% jitter and advances the state.
func (b *Backoff) Next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * multiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset returns the delay to its initial value after a successful attempt.
func (b *Backoff) Reset() {
	b.current = b.initial
}
