package types

import "time"

// DeviceKind keys the desired-state store. There is exactly one record per kind.
type DeviceKind string

const (
	DeviceIndicator DeviceKind = "indicator"
	DeviceAlarm     DeviceKind = "alarm"
)

// Valid reports whether k is a known device kind.
func (k DeviceKind) Valid() bool {
	return k == DeviceIndicator || k == DeviceAlarm
}

// Desired-state defaults and bounds.
const (
	DefaultBrightness = 75
	MinBrightness     = 0
	MaxBrightness     = 100

	DefaultBeepCount      = 5
	DefaultBeepDurationMs = 300
	DefaultIntervalMs     = 200

	MinBeepCount      = 1
	MaxBeepCount      = 10
	MinBeepDurationMs = 100
	MaxBeepDurationMs = 500
	MinIntervalMs     = 50
	MaxIntervalMs     = 500
)

// IndicatorState is the desired state of the indicator light.
// Brightness is owned by the configuration collaborator; the pipeline only
// writes Color.
type IndicatorState struct {
	Brightness int   `json:"brightness" bson:"brightness" dynamodbav:"brightness"`
	Color      Color `json:"color,omitempty" bson:"color,omitempty" dynamodbav:"color,omitempty"`
}

// AlarmConfig is the beep pattern used when the alarm is triggered.
type AlarmConfig struct {
	BeepCount      int `json:"beep_count" bson:"beep_count" dynamodbav:"beep_count"`
	BeepDurationMs int `json:"beep_duration_ms" bson:"beep_duration_ms" dynamodbav:"beep_duration_ms"`
	IntervalMs     int `json:"interval_ms" bson:"interval_ms" dynamodbav:"interval_ms"`
}

// DefaultAlarmConfig is written when no alarm state exists yet.
func DefaultAlarmConfig() AlarmConfig {
	return AlarmConfig{
		BeepCount:      DefaultBeepCount,
		BeepDurationMs: DefaultBeepDurationMs,
		IntervalMs:     DefaultIntervalMs,
	}
}

// Clamp returns c with every field forced into its allowed range.
func (c AlarmConfig) Clamp() AlarmConfig {
	return AlarmConfig{
		BeepCount:      clamp(c.BeepCount, MinBeepCount, MaxBeepCount),
		BeepDurationMs: clamp(c.BeepDurationMs, MinBeepDurationMs, MaxBeepDurationMs),
		IntervalMs:     clamp(c.IntervalMs, MinIntervalMs, MaxIntervalMs),
	}
}

// AlarmState is the desired state of the audible alarm.
type AlarmState struct {
	Config          AlarmConfig `json:"config" bson:"config" dynamodbav:"config"`
	LastTriggeredAt *time.Time  `json:"last_triggered_at,omitempty" bson:"last_triggered_at,omitempty" dynamodbav:"last_triggered_at,omitempty"`
}

// DeviceState is one record of the desired-state store. Exactly one of
// Indicator and Alarm is set, matching Kind.
type DeviceState struct {
	Kind      DeviceKind      `json:"kind" bson:"kind" dynamodbav:"kind"`
	Indicator *IndicatorState `json:"indicator,omitempty" bson:"indicator,omitempty" dynamodbav:"indicator,omitempty"`
	Alarm     *AlarmState     `json:"alarm,omitempty" bson:"alarm,omitempty" dynamodbav:"alarm,omitempty"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at" dynamodbav:"updated_at"`
}

// ClampBrightness forces b into [MinBrightness, MaxBrightness].
func ClampBrightness(b int) int {
	return clamp(b, MinBrightness, MaxBrightness)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
