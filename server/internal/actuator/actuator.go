package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/store"
)

// Publisher sends command payloads on the command channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Connected() bool
}

// Outcome records what the dispatcher did for one reading. It feeds the
// classification record.
type Outcome struct {
	Color          types.Color
	AlarmTriggered bool
	AlarmConfig    *types.AlarmConfig
}

// Dispatcher maps a classification to device commands and desired state.
type Dispatcher struct {
	pub    Publisher
	states store.DeviceStates
	topic  string
	now    func() time.Time
}

// New returns a Dispatcher publishing on topic.
func New(pub Publisher, states store.DeviceStates, topic string) *Dispatcher {
	return &Dispatcher{pub: pub, states: states, topic: topic, now: time.Now}
}

// Apply drives the indicator for every category and the alarm for Poor.
// Publish and store failures are logged; only an unknown category is
// returned as an error, since nothing can be actuated for it.
func (d *Dispatcher) Apply(ctx context.Context, r types.Reading, c types.Classification) (Outcome, error) {
	color, err := types.IndicatorColor(c.Category)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Color: color}
	now := d.now().UTC()

	cmd := types.IndicatorCommand{
		Device:     types.DeviceIndicator,
		Action:     types.ActionSetColor,
		Color:      color,
		Brightness: d.brightness(ctx),
		Category:   c.Category,
		Timestamp:  now,
	}
	if err := d.publish(ctx, cmd); err != nil {
		slog.Warn("actuator: indicator publish failed",
			"reading_id", r.ID, "color", color, "err", err)
	}
	if err := d.states.SetIndicatorColor(ctx, color, now); err != nil {
		slog.Error("actuator: indicator state update failed",
			"reading_id", r.ID, "color", color, "err", err)
	}

	if c.Category != types.CategoryPoor {
		return out, nil
	}
	cfg, triggered := d.triggerAlarm(ctx, r, c, now)
	out.AlarmTriggered = triggered
	out.AlarmConfig = cfg
	return out, nil
}

// brightness returns the stored indicator brightness, or the default when
// none is stored.
func (d *Dispatcher) brightness(ctx context.Context) int {
	st, err := d.states.DeviceState(ctx, types.DeviceIndicator)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.DefaultBrightness
	case err != nil:
		slog.Warn("actuator: reading indicator state failed, using default brightness", "err", err)
		return types.DefaultBrightness
	case st.Indicator == nil:
		return types.DefaultBrightness
	}
	return types.ClampBrightness(st.Indicator.Brightness)
}

// triggerAlarm sounds the alarm with the stored pattern. A missing alarm
// record is created with defaults and the trigger waits for the next
// reading. The returned config is the one that was used, if any.
func (d *Dispatcher) triggerAlarm(ctx context.Context, r types.Reading, c types.Classification, now time.Time) (*types.AlarmConfig, bool) {
	if !d.pub.Connected() {
		slog.Warn("actuator: command link down, alarm not triggered", "reading_id", r.ID)
		return nil, false
	}

	st, err := d.states.DeviceState(ctx, types.DeviceAlarm)
	if errors.Is(err, store.ErrNotFound) || (err == nil && st.Alarm == nil) {
		def := types.DefaultAlarmConfig()
		if err := d.states.EnsureAlarm(ctx, def, now); err != nil {
			slog.Error("actuator: creating default alarm state failed", "err", err)
		} else {
			slog.Info("actuator: alarm state missing, created defaults; trigger deferred",
				"reading_id", r.ID)
		}
		return nil, false
	}
	if err != nil {
		slog.Error("actuator: reading alarm state failed", "reading_id", r.ID, "err", err)
		return nil, false
	}

	cfg := st.Alarm.Config.Clamp()
	attrs := c.ProblematicAttributes
	if attrs == nil {
		attrs = []types.Attribute{}
	}
	cmd := types.AlarmCommand{
		Device:                types.DeviceAlarm,
		Action:                types.ActionAlert,
		Reason:                types.ReasonPoorAirQuality,
		Category:              c.Category,
		ProblematicAttributes: attrs,
		Config:                cfg,
		Timestamp:             now,
	}
	if err := d.publish(ctx, cmd); err != nil {
		slog.Warn("actuator: alarm publish failed", "reading_id", r.ID, "err", err)
		return nil, false
	}
	if err := d.states.MarkAlarmTriggered(ctx, now); err != nil {
		slog.Error("actuator: stamping alarm trigger failed", "reading_id", r.ID, "err", err)
	}
	return &cfg, true
}

func (d *Dispatcher) publish(ctx context.Context, cmd any) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return d.pub.Publish(ctx, d.topic, b)
}
