package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/actuator"
	"github.com/airguard/airguard/server/internal/alerts"
	"github.com/airguard/airguard/server/internal/broker"
	"github.com/airguard/airguard/server/internal/classifier"
	"github.com/airguard/airguard/server/internal/store"
)

// Event names published to the live stream.
const (
	EventReading        = "reading"
	EventClassification = "classification"
	EventAlert          = "alert"
)

// Feed delivers telemetry messages.
type Feed interface {
	Messages() <-chan broker.Message
}

// Actuator drives devices for a classification.
type Actuator interface {
	Apply(ctx context.Context, r types.Reading, c types.Classification) (actuator.Outcome, error)
}

// AlertEngine persists the classification record and alerts on it.
type AlertEngine interface {
	Evaluate(ctx context.Context, rec *types.Record) alerts.Outcome
}

// Events receives pipeline events for live subscribers.
type Events interface {
	Publish(event string, data any)
}

// Deps are the collaborators of a Coordinator. Events may be nil.
type Deps struct {
	Feed       Feed
	Readings   store.Readings
	Classifier classifier.Classifier
	Actuator   Actuator
	Alerts     AlertEngine
	Events     Events
}

// Coordinator consumes the telemetry feed and sequences the pipeline for
// each reading, one at a time in arrival order.
type Coordinator struct {
	topic   string
	deps    Deps
	tracker *Tracker
	now     func() time.Time
}

// New creates a Coordinator that accepts messages on topic only.
func New(topic string, deps Deps) *Coordinator {
	return &Coordinator{topic: topic, deps: deps, tracker: NewTracker(), now: time.Now}
}

// Tracker exposes pipeline progress for the status API and metrics.
func (c *Coordinator) Tracker() *Tracker { return c.tracker }

// Run processes messages until ctx is cancelled. A failure on one message
// never stops the loop.
func (c *Coordinator) Run(ctx context.Context) {
	msgs := c.deps.Feed.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			c.Handle(ctx, msg) //nolint:errcheck // logged inside
		}
	}
}

// Handle runs the pipeline for a single message. The returned error is for
// callers that want it; every failure is already logged.
func (c *Coordinator) Handle(ctx context.Context, msg broker.Message) error {
	c.tracker.update(func(st *Status) { st.Stats.Received++ })

	if msg.Topic != c.topic {
		c.tracker.update(func(st *Status) { st.Stats.Ignored++ })
		slog.Debug("ingest: ignoring message on unexpected topic", "topic", msg.Topic)
		return nil
	}

	now := c.now().UTC()
	r, err := types.DecodeReading(msg.Payload, now)
	if err != nil {
		c.tracker.update(func(st *Status) { st.Stats.DecodeErrors++ })
		attrs := []any{"topic", msg.Topic, "err", err}
		var de *types.DecodeError
		if errors.As(err, &de) {
			attrs = append(attrs, "field", de.Field)
		}
		slog.Warn("ingest: dropping undecodable message", attrs...)
		return err
	}

	if err := c.deps.Readings.InsertReading(ctx, &r); err != nil {
		c.tracker.update(func(st *Status) { st.Stats.StoreErrors++ })
		slog.Error("ingest: persisting reading failed", "err", err)
		return fmt.Errorf("insert reading: %w", err)
	}
	c.tracker.reading(r)
	c.publish(EventReading, r)

	cls, err := c.deps.Classifier.Classify(ctx, classifier.RequestFrom(r))
	if err != nil {
		c.tracker.update(func(st *Status) { st.Stats.ClassifyErrors++ })
		slog.Error("ingest: classification failed, reading not actuated",
			"reading_id", r.ID, "err", err)
		return fmt.Errorf("classify: %w", err)
	}
	c.tracker.classification(cls)
	c.publish(EventClassification, classificationEvent{ReadingID: r.ID, Classification: cls})
	slog.Debug("ingest: classified",
		"reading_id", r.ID, "category", cls.Category, "confidence", cls.Confidence,
		"problematic", len(cls.ProblematicAttributes))

	act, err := c.deps.Actuator.Apply(ctx, r, cls)
	if err != nil {
		slog.Error("ingest: actuation rejected classification", "reading_id", r.ID, "err", err)
		return fmt.Errorf("actuate: %w", err)
	}

	rec := &types.Record{
		ID:                    store.NewID(),
		Reading:               r,
		Category:              cls.Category,
		Confidence:            cls.Confidence,
		IndicatorColor:        act.Color,
		AlarmTriggered:        act.AlarmTriggered,
		AlarmConfig:           act.AlarmConfig,
		ProblematicAttributes: cls.ProblematicAttributes,
		Timestamp:             c.now().UTC(),
	}
	out := c.deps.Alerts.Evaluate(ctx, rec)
	c.tracker.alert(out, rec.Timestamp)
	if out.State != alerts.StateSkipped {
		c.publish(EventAlert, alertEvent{Outcome: out, AlertSent: rec.AlertSent, Timestamp: rec.Timestamp})
	}
	return out.Err
}

func (c *Coordinator) publish(event string, data any) {
	if c.deps.Events != nil {
		c.deps.Events.Publish(event, data)
	}
}

type classificationEvent struct {
	ReadingID string `json:"reading_id"`
	types.Classification
}

type alertEvent struct {
	alerts.Outcome
	AlertSent bool      `json:"alert_sent"`
	Timestamp time.Time `json:"timestamp"`
}
