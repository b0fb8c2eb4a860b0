package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airguard/airguard/pkg/types"
)

// State is the circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker fast-fails classification while the endpoint is known to be down.
// After threshold consecutive ErrUnavailable failures it opens for openFor;
// the first call after that is a probe (half-open) and the rest keep
// fast-failing until the probe returns. Validation errors do not count.
type Breaker struct {
	inner     Classifier
	threshold int
	openFor   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker wraps inner. A threshold of zero disables the breaker and
// returns inner unchanged.
func NewBreaker(inner Classifier, threshold int, openFor time.Duration) Classifier {
	if threshold <= 0 {
		return inner
	}
	return &Breaker{
		inner:     inner,
		threshold: threshold,
		openFor:   openFor,
		now:       time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Classify(ctx context.Context, req Request) (types.Classification, error) {
	if err := req.Validate(); err != nil {
		return types.Classification{}, err
	}
	if err := b.admit(); err != nil {
		return types.Classification{}, err
	}

	res, err := b.inner.Classify(ctx, req)
	b.record(err)
	return res, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return fmt.Errorf("%w: %w", ErrUnavailable, ErrBreakerOpen)
		}
		b.state = HalfOpen
		b.probing = true
		slog.Info("classifier: breaker half-open, probing")
	case HalfOpen:
		if b.probing {
			return fmt.Errorf("%w: %w", ErrUnavailable, ErrBreakerOpen)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && errors.Is(err, ErrUnavailable)
	if b.state == HalfOpen {
		b.probing = false
		if failed {
			b.state = Open
			b.openedAt = b.now()
			slog.Warn("classifier: probe failed, breaker re-opened", "err", err)
			return
		}
		b.state = Closed
		b.failures = 0
		slog.Info("classifier: breaker closed")
		return
	}

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold && b.state == Closed {
		b.state = Open
		b.openedAt = b.now()
		slog.Error("classifier: breaker opened",
			"consecutive_failures", b.failures, "open_for", b.openFor)
	}
}
