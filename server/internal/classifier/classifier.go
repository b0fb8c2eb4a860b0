package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/airguard/airguard/pkg/types"
)

var (
	// ErrMissingAttributes is returned when a request lacks one of the five
	// numeric attributes. No call is made.
	ErrMissingAttributes = errors.New("classifier: missing attributes")

	// ErrUnavailable covers every failure of the external call: transport
	// errors, timeouts, non-2xx responses and unusable bodies.
	ErrUnavailable = errors.New("classifier: unavailable")

	// ErrUnknownCategory is wrapped together with ErrUnavailable when the
	// response carries a label that maps to no category.
	ErrUnknownCategory = errors.New("classifier: unknown category")

	// ErrBreakerOpen is wrapped together with ErrUnavailable when the circuit
	// breaker short-circuits the call.
	ErrBreakerOpen = errors.New("classifier: circuit open")
)

// Classifier turns a reading's attributes into a Classification.
type Classifier interface {
	Classify(ctx context.Context, req Request) (types.Classification, error)
}

// Request is the scoring input. Pointers let a caller pass through a
// partially populated sample; Validate rejects it before any network call.
type Request struct {
	CO2         *float64 `json:"co2"`
	CO          *float64 `json:"co"`
	PM25        *float64 `json:"pm25"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// RequestFrom builds a complete Request from r.
func RequestFrom(r types.Reading) Request {
	return Request{
		CO2:         &r.CO2,
		CO:          &r.CO,
		PM25:        &r.PM25,
		Temperature: &r.Temperature,
		Humidity:    &r.Humidity,
	}
}

// Validate returns ErrMissingAttributes naming every absent or non-finite field.
func (r Request) Validate() error {
	var missing []string
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{types.AttrCO2, r.CO2},
		{types.AttrCO, r.CO},
		{types.AttrPM25, r.PM25},
		{types.AttrTemperature, r.Temperature},
		{types.AttrHumidity, r.Humidity},
	} {
		if f.v == nil || math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingAttributes, strings.Join(missing, ", "))
	}
	return nil
}

// Labels maps the classifier's quality labels to categories.
type Labels map[string]types.Category

// DefaultLabels accepts the canonical names and the labels emitted by the
// deployed Vietnamese-language model.
func DefaultLabels() Labels {
	return Labels{
		"good":       types.CategoryGood,
		"moderate":   types.CategoryModerate,
		"poor":       types.CategoryPoor,
		"Tốt":        types.CategoryGood,
		"Trung bình": types.CategoryModerate,
		"Kém":        types.CategoryPoor,
	}
}

// WithOverrides returns a copy of l extended by extra (label -> category name).
func (l Labels) WithOverrides(extra map[string]string) Labels {
	out := make(Labels, len(l)+len(extra))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = types.Category(v)
	}
	return out
}

// Resolve maps label to a category: exact match first, then case-insensitive.
func (l Labels) Resolve(label string) (types.Category, error) {
	label = strings.TrimSpace(label)
	if c, ok := l[label]; ok && c.Valid() {
		return c, nil
	}
	for k, c := range l {
		if strings.EqualFold(k, label) && c.Valid() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %w %q", ErrUnavailable, ErrUnknownCategory, label)
}

// response is the scoring endpoint's JSON body. Both the deployed field names
// (quality, problematic_sensors) and the canonical ones are accepted.
type response struct {
	Quality               string      `json:"quality"`
	Category              string      `json:"category"`
	Confidence            *float64    `json:"confidence"`
	ProblematicSensors    []attribute `json:"problematic_sensors"`
	ProblematicAttributes []attribute `json:"problematic_attributes"`
}

type attribute struct {
	Sensor    string          `json:"sensor"`
	Name      string          `json:"name"`
	Value     float64         `json:"value"`
	Unit      string          `json:"unit"`
	Threshold json.RawMessage `json:"threshold"`
	Severity  string          `json:"severity"`
}

// decodeResponse parses body into a Classification.
func decodeResponse(body []byte, labels Labels) (types.Classification, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Classification{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	label := resp.Quality
	if label == "" {
		label = resp.Category
	}
	cat, err := labels.Resolve(label)
	if err != nil {
		return types.Classification{}, err
	}

	out := types.Classification{Category: cat}
	if resp.Confidence != nil {
		c := *resp.Confidence
		if math.IsNaN(c) {
			return types.Classification{}, fmt.Errorf("%w: confidence is NaN", ErrUnavailable)
		}
		out.Confidence = math.Max(0, math.Min(1, c))
	}

	attrs := resp.ProblematicSensors
	if len(attrs) == 0 {
		attrs = resp.ProblematicAttributes
	}
	out.ProblematicAttributes = make([]types.Attribute, 0, len(attrs))
	for _, a := range attrs {
		name := a.Sensor
		if name == "" {
			name = a.Name
		}
		out.ProblematicAttributes = append(out.ProblematicAttributes, types.Attribute{
			Name:      name,
			Value:     a.Value,
			Unit:      a.Unit,
			Threshold: thresholdText(a.Threshold),
			Severity:  a.Severity,
		})
	}
	return out, nil
}

// thresholdText accepts a threshold given as a string or a number.
func thresholdText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
