package types

import "time"

// Command actions and reasons published on the command topic.
const (
	ActionSetColor = "set_color"
	ActionAlert    = "alert"

	ReasonPoorAirQuality = "poor_air_quality"
)

// IndicatorCommand sets the indicator light color.
type IndicatorCommand struct {
	Device     DeviceKind `json:"device"`
	Action     string     `json:"action"`
	Color      Color      `json:"color"`
	Brightness int        `json:"brightness"`
	Category   Category   `json:"category"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AlarmCommand sounds the alarm with the stored beep pattern.
type AlarmCommand struct {
	Device                DeviceKind  `json:"device"`
	Action                string      `json:"action"`
	Reason                string      `json:"reason"`
	Category              Category    `json:"category"`
	ProblematicAttributes []Attribute `json:"problematic_attributes"`
	Config                AlarmConfig `json:"config"`
	Timestamp             time.Time   `json:"timestamp"`
}
