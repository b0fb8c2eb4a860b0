package types

import "fmt"

// Category is the air-quality classification of a reading. It is a closed
// set: the zero value is not a valid category and nothing defaults to Good.
type Category string

const (
	CategoryGood     Category = "good"
	CategoryModerate Category = "moderate"
	CategoryPoor     Category = "poor"
)

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryGood, CategoryModerate, CategoryPoor:
		return true
	}
	return false
}

// Title returns the human-readable name used in alerts.
func (c Category) Title() string {
	switch c {
	case CategoryGood:
		return "Good"
	case CategoryModerate:
		return "Moderate"
	case CategoryPoor:
		return "Poor"
	}
	return "Unknown"
}

// Color is the indicator light color.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// IndicatorColor maps a category to its indicator color.
func IndicatorColor(c Category) (Color, error) {
	switch c {
	case CategoryGood:
		return ColorGreen, nil
	case CategoryModerate:
		return ColorYellow, nil
	case CategoryPoor:
		return ColorRed, nil
	}
	return "", fmt.Errorf("no indicator color for category %q", string(c))
}
