package types

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// A device timestamp is trusted only inside this window around the
// server's clock. The age bound covers an agent draining its outage buffer.
const (
	MaxTimestampAge  = 24 * time.Hour
	MaxTimestampLead = time.Minute
)

// Attribute names as they appear on the telemetry topic and in the
// classifier request.
const (
	AttrTemperature = "temperature"
	AttrHumidity    = "humidity"
	AttrCO2         = "co2"
	AttrCO          = "co"
	AttrPM25        = "pm25"
)

// Reading is one timestamped telemetry sample. It is immutable once created.
type Reading struct {
	ID          string    `json:"id,omitempty" bson:"_id,omitempty" dynamodbav:"id"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp" dynamodbav:"timestamp"`
	Temperature float64   `json:"temperature" bson:"temperature" dynamodbav:"temperature"`
	Humidity    float64   `json:"humidity" bson:"humidity" dynamodbav:"humidity"`
	CO2         float64   `json:"co2" bson:"co2" dynamodbav:"co2"`
	CO          float64   `json:"co" bson:"co" dynamodbav:"co"`
	PM25        float64   `json:"pm25" bson:"pm25" dynamodbav:"pm25"`
}

// DecodeError reports a telemetry payload that cannot become a Reading.
// Field is empty when the payload is not a JSON object at all.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode reading: " + e.Reason
	}
	return fmt.Sprintf("decode reading: field %q: %s", e.Field, e.Reason)
}

// payload mirrors the telemetry message. Pointers distinguish a missing
// field from an explicit zero.
type payload struct {
	Temperature *json.Number `json:"temperature"`
	Humidity    *json.Number `json:"humidity"`
	CO2         *json.Number `json:"co2"`
	CO          *json.Number `json:"co"`
	PM25        *json.Number `json:"pm25"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

// DecodeReading parses a telemetry payload. All five attributes are required
// and must be finite numbers. The reading is stamped with now unless the
// payload carries an RFC 3339 timestamp within the trusted window; any other
// timestamp is ignored and never fails the decode.
func DecodeReading(data []byte, now time.Time) (Reading, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Reading{}, &DecodeError{Reason: err.Error()}
	}

	var r Reading
	fields := []struct {
		name string
		src  *json.Number
		dst  *float64
	}{
		{AttrTemperature, p.Temperature, &r.Temperature},
		{AttrHumidity, p.Humidity, &r.Humidity},
		{AttrCO2, p.CO2, &r.CO2},
		{AttrCO, p.CO, &r.CO},
		{AttrPM25, p.PM25, &r.PM25},
	}
	for _, f := range fields {
		if f.src == nil {
			return Reading{}, &DecodeError{Field: f.name, Reason: "missing"}
		}
		v, err := f.src.Float64()
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Reading{}, &DecodeError{Field: f.name, Reason: "not a finite number"}
		}
		*f.dst = v
	}

	r.Timestamp = deviceTime(p.Timestamp, now).UTC()
	return r, nil
}

func deviceTime(raw json.RawMessage, now time.Time) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return now
	}
	var ts time.Time
	if err := json.Unmarshal(raw, &ts); err != nil {
		slog.Warn("reading: ignoring unparseable device timestamp", "timestamp", string(raw), "err", err)
		return now
	}
	if ts.Before(now.Add(-MaxTimestampAge)) || ts.After(now.Add(MaxTimestampLead)) {
		slog.Warn("reading: ignoring device timestamp outside trusted window",
			"timestamp", ts, "now", now)
		return now
	}
	return ts
}

// Values returns the five attributes keyed by their wire names.
func (r Reading) Values() map[string]float64 {
	return map[string]float64{
		AttrTemperature: r.Temperature,
		AttrHumidity:    r.Humidity,
		AttrCO2:         r.CO2,
		AttrCO:          r.CO,
		AttrPM25:        r.PM25,
	}
}
