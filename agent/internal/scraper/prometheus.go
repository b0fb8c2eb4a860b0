package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/airguard/airguard/agent/internal/config"
	"github.com/airguard/airguard/pkg/types"
)

// DefaultMetricNames are the exporter metric names read for each attribute
// unless the source overrides them.
var DefaultMetricNames = map[string]string{
	types.AttrTemperature: "airguard_temperature_celsius",
	types.AttrHumidity:    "airguard_humidity_percent",
	types.AttrCO2:         "airguard_co2_ppm",
	types.AttrCO:          "airguard_co_ppm",
	types.AttrPM25:        "airguard_pm25_ugm3",
}

// attrOrder fixes the order in which missing attributes are reported.
var attrOrder = []string{types.AttrTemperature, types.AttrHumidity, types.AttrCO2, types.AttrCO, types.AttrPM25}

type promScraper struct {
	src     config.Source
	client  *http.Client
	metrics map[string]string
	now     func() time.Time
}

func newPromScraper(src config.Source, client *http.Client) *promScraper {
	names := make(map[string]string, len(DefaultMetricNames))
	for attr, name := range DefaultMetricNames {
		names[attr] = name
	}
	for attr, name := range src.Metrics {
		if name != "" {
			names[attr] = name
		}
	}
	return &promScraper{src: src, client: client, metrics: names, now: time.Now}
}

// Scrape fetches the exporter's metrics and maps the configured families to
// the five reading attributes. When several series match, their mean is used.
// A failed fetch or a missing attribute is reported through Result.Err.
func (s *promScraper) Scrape(ctx context.Context) (*Result, error) {
	res := newResult(s.src.ID, "prometheus", s.now())

	mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
	if err != nil {
		res.Err = fmt.Errorf("prometheus scrape %q: %w", s.src.ID, err)
		slog.Warn("scraper: prometheus fetch failed", "source", s.src.ID, "err", err)
		return res, nil
	}

	values := make(map[string]float64, len(attrOrder))
	var missing []string
	for _, attr := range attrOrder {
		v, ok := meanFamily(mfs[s.metrics[attr]], s.src.Labels)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			missing = append(missing, attr)
			continue
		}
		values[attr] = v
	}
	if len(missing) > 0 {
		res.Err = fmt.Errorf("%w: source %q lacks %s", ErrIncomplete, s.src.ID, strings.Join(missing, ", "))
		slog.Warn("scraper: incomplete reading, skipping cycle",
			"source", s.src.ID, "missing", missing)
		return res, nil
	}

	res.Reading = types.Reading{
		Timestamp:   res.ScrapedAt,
		Temperature: values[types.AttrTemperature],
		Humidity:    values[types.AttrHumidity],
		CO2:         values[types.AttrCO2],
		CO:          values[types.AttrCO],
		PM25:        values[types.AttrPM25],
	}
	return res, nil
}
