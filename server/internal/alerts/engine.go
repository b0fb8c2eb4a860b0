package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/store"
)

// ErrRollback wraps a failed reservation rollback. The pending record then
// blocks the cooldown window until its lease expires.
var ErrRollback = errors.New("alerts: reservation rollback failed")

// State is where a record ended up after Evaluate.
type State string

const (
	// StateSkipped: not eligible for alerting (category not Poor, or no
	// problematic attributes, or no channels configured). Persisted plainly.
	StateSkipped State = "skipped"

	// StateThrottled: an alert was sent within the cooldown window, or a
	// concurrent reservation holds it. Persisted plainly.
	StateThrottled State = "throttled"

	// StateCommitted: the canonical channel delivered; AlertSent is true.
	StateCommitted State = "committed"

	// StateRolledBack: the canonical channel did not deliver and the
	// reservation was deleted.
	StateRolledBack State = "rolled_back"

	// StateFailed: the store rejected the reservation, commit or plain
	// insert. Err says which.
	StateFailed State = "failed"
)

// Outcome describes one Evaluate call.
type Outcome struct {
	State    State    `json:"state"`
	RecordID string   `json:"record_id"`
	Results  []Result `json:"results,omitempty"`
	Err      error    `json:"-"`
}

// Engine enforces the alert cooldown and dispatches notifications.
//
// Every record passed to Evaluate is persisted exactly once: either as a
// reservation (later committed or deleted) or by a plain insert.
//
// Engine is safe for concurrent use; cooldown exclusivity comes from the
// store's atomic reservation, not from in-process locking.
type Engine struct {
	records     store.Records
	channels    []Notifier
	cooldown    time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

// New creates an Engine. channels[0] is the canonical channel: its outcome
// alone decides commit or rollback. The rest are best-effort.
func New(records store.Records, channels []Notifier, cooldown, sendTimeout time.Duration) *Engine {
	return &Engine{
		records:     records,
		channels:    channels,
		cooldown:    cooldown,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// Cooldown returns the configured window.
func (e *Engine) Cooldown() time.Duration { return e.cooldown }

// Evaluate persists rec and, when it qualifies, sends an alert for it.
// rec.Timestamp is stamped from the engine clock when zero. rec.AlertSent is
// updated to reflect a commit.
func (e *Engine) Evaluate(ctx context.Context, rec *types.Record) Outcome {
	if rec.ID == "" {
		rec.ID = store.NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.now().UTC()
	}
	rec.AlertSent = false

	if rec.Category != types.CategoryPoor || len(rec.ProblematicAttributes) == 0 || len(e.channels) == 0 {
		return e.persist(ctx, rec, StateSkipped)
	}

	since := rec.Timestamp.Add(-e.cooldown)
	last, err := e.records.LatestAlert(ctx, since)
	switch {
	case err == nil:
		slog.Info("alerts: throttled by recent alert",
			"record_id", rec.ID, "last_alert_id", last.ID, "last_alert_at", last.Timestamp)
		return e.persist(ctx, rec, StateThrottled)
	case !errors.Is(err, store.ErrNotFound):
		// Reserve below is the authoritative guard.
		slog.Warn("alerts: cooldown lookup failed", "record_id", rec.ID, "err", err)
	}

	if err := e.records.Reserve(ctx, rec, e.cooldown); err != nil {
		if errors.Is(err, store.ErrCooldownActive) {
			slog.Info("alerts: throttled by held reservation", "record_id", rec.ID)
			return e.persist(ctx, rec, StateThrottled)
		}
		slog.Error("alerts: reservation failed", "record_id", rec.ID, "err", err)
		out := e.persist(ctx, rec, StateFailed)
		if out.Err == nil {
			out.Err = fmt.Errorf("reserve: %w", err)
		}
		return out
	}
	slog.Debug("alerts: reservation claimed", "record_id", rec.ID, "window", e.cooldown)

	a := Alert{
		RecordID:              rec.ID,
		Category:              rec.Category,
		Confidence:            rec.Confidence,
		ProblematicAttributes: rec.ProblematicAttributes,
		Reading:               rec.Reading,
		FiredAt:               rec.Timestamp,
	}
	// The send outlives a cancelled ingest context so the reservation is
	// always resolved one way or the other.
	sendCtx := context.WithoutCancel(ctx)
	results := fanOut(sendCtx, e.channels, a, e.sendTimeout)
	out := Outcome{RecordID: rec.ID, Results: results}

	if results[0].Sent() {
		if err := e.records.Commit(sendCtx, rec.ID); err != nil {
			slog.Error("alerts: commit failed after delivery",
				"record_id", rec.ID, "channel", results[0].Channel, "err", err)
			out.State = StateFailed
			out.Err = fmt.Errorf("commit: %w", err)
			return out
		}
		rec.AlertSent = true
		out.State = StateCommitted
		slog.Warn("alert sent",
			"record_id", rec.ID,
			"category", rec.Category,
			"attributes", attributeNames(rec.ProblematicAttributes),
			"message_id", results[0].MessageID,
		)
		return out
	}

	out.State = StateRolledBack
	if err := e.records.Rollback(sendCtx, rec.ID); err != nil {
		out.Err = fmt.Errorf("%w: record %s: %v", ErrRollback, rec.ID, err)
		slog.Error("alerts: reservation rollback failed; cooldown blocked until lease expiry",
			"record_id", rec.ID, "err", err)
		return out
	}
	slog.Warn("alerts: canonical channel did not deliver, reservation rolled back",
		"record_id", rec.ID, "channel", results[0].Channel, "reason", results[0].Reason)
	return out
}

// persist writes rec on the non-alerting path.
func (e *Engine) persist(ctx context.Context, rec *types.Record, state State) Outcome {
	out := Outcome{State: state, RecordID: rec.ID}
	if err := e.records.InsertRecord(ctx, rec); err != nil {
		slog.Error("alerts: record insert failed", "record_id", rec.ID, "err", err)
		out.State = StateFailed
		out.Err = fmt.Errorf("insert record: %w", err)
	}
	return out
}

func attributeNames(attrs []types.Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}
