package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// trackerCollector reads the tracker's counters at scrape time, so the
// pipeline never touches Prometheus on the hot path.
type trackerCollector struct {
	t *Tracker

	received, ignored, decodeErrs, storeErrs, classifyErrs *prometheus.Desc
	classified, alerts                                     *prometheus.Desc
}

// Collector returns a prometheus.Collector over the tracker's stats.
func (t *Tracker) Collector() prometheus.Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, labels, nil)
	}
	return &trackerCollector{
		t:            t,
		received:     desc("airguard_messages_received_total", "Feed messages received, on any topic."),
		ignored:      desc("airguard_messages_ignored_total", "Feed messages on a topic other than the telemetry topic."),
		decodeErrs:   desc("airguard_decode_errors_total", "Telemetry messages dropped because they could not be decoded."),
		storeErrs:    desc("airguard_store_errors_total", "Readings that could not be persisted."),
		classifyErrs: desc("airguard_classify_errors_total", "Readings whose classification failed."),
		classified:   desc("airguard_classifications_total", "Classified readings by category.", "category"),
		alerts:       desc("airguard_alert_evaluations_total", "Classification records by alert outcome.", "state"),
	}
}

func (c *trackerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.received, c.ignored, c.decodeErrs, c.storeErrs, c.classifyErrs, c.classified, c.alerts,
	} {
		ch <- d
	}
}

func (c *trackerCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.t.Status().Stats
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.received, st.Received)
	counter(c.ignored, st.Ignored)
	counter(c.decodeErrs, st.DecodeErrors)
	counter(c.storeErrs, st.StoreErrors)
	counter(c.classifyErrs, st.ClassifyErrors)
	for cat, n := range st.Classified {
		counter(c.classified, n, string(cat))
	}
	for state, n := range st.Alerts {
		counter(c.alerts, n, string(state))
	}
}
