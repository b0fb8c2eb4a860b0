package ingest

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/alerts"
)

func TestTrackerCollector(t *testing.T) {
	tr := NewTracker()
	tr.update(func(st *Status) { st.Stats.Received += 4; st.Stats.DecodeErrors++ })
	tr.classification(types.Classification{Category: types.CategoryGood})
	tr.classification(types.Classification{Category: types.CategoryPoor})
	tr.classification(types.Classification{Category: types.CategoryPoor})
	tr.alert(alerts.Outcome{State: alerts.StateCommitted}, t0)

	c := tr.Collector()
	if got := testutil.CollectAndCount(c, "airguard_classifications_total"); got != 2 {
		t.Errorf("classification series: got %d, want 2", got)
	}

	want := `
# HELP airguard_classifications_total Classified readings by category.
# TYPE airguard_classifications_total counter
airguard_classifications_total{category="good"} 1
airguard_classifications_total{category="poor"} 2
# HELP airguard_messages_received_total Feed messages received, on any topic.
# TYPE airguard_messages_received_total counter
airguard_messages_received_total 4
# HELP airguard_alert_evaluations_total Classification records by alert outcome.
# TYPE airguard_alert_evaluations_total counter
airguard_alert_evaluations_total{state="committed"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"airguard_classifications_total", "airguard_messages_received_total", "airguard_alert_evaluations_total")
	if err != nil {
		t.Errorf("collected metrics differ:\n%v", err)
	}
}

func TestTrackerCollector_Lints(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewTracker().Collector())
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, p := range problems {
		t.Errorf("%s: %s", p.Metric, p.Text)
	}
}
