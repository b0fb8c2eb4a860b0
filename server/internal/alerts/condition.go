package alerts

import (
	"strconv"
	"strings"

	"github.com/airguard/airguard/pkg/types"
)

// guidance pairs an attribute condition with advice shown in alert emails.
type guidance struct {
	condition string
	advice    string
}

// adviceRules are the published indoor guidance limits.
var adviceRules = []guidance{
	{"co2 > 1000", "CO2 is above 1000 ppm: open windows to ventilate if the air outside is better."},
	{"co > 9", "CO is above 9 ppm: check gas and combustion appliances and leave the room if anyone feels unwell."},
	{"pm25 > 35", "PM2.5 is above 35 µg/m³: run an air purifier, limit outdoor activity and wear a mask if needed."},
}

// recommendations returns the advice lines whose condition holds for attrs.
func recommendations(attrs []types.Attribute) []string {
	var out []string
	for _, g := range adviceRules {
		if fires, _ := evalCondition(g.condition, attrs); fires {
			out = append(out, g.advice)
		}
	}
	return out
}

// evalCondition evaluates "field operator value" against the attribute with
// the matching name, e.g.
//
//	co2 > 1000
//	pm25 >= 35
//
// Returns (fires bool, attribute value float64).
// Returns (false, 0) if the expression cannot be parsed or no attribute
// matches.
func evalCondition(cond string, attrs []types.Attribute) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	for _, a := range attrs {
		if attrKey(a.Name) != field {
			continue
		}
		return compareFloat(a.Value, op, threshold), a.Value
	}
	return false, 0
}

// attrKey folds display names such as "PM2.5" or "CO₂" to the payload
// attribute keys ("pm25", "co2").
func attrKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(".", "", "_", "", " ", "", "₂", "2").Replace(name)
	switch name {
	case "temp":
		return types.AttrTemperature
	case "humid":
		return types.AttrHumidity
	}
	return name
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
