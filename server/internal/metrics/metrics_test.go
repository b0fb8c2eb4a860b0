package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
)

func TestHandler_ServesRegisteredFuncs(t *testing.T) {
	reg := NewRegistry()
	connected := true
	reg.MustRegister(
		Counter("airguard_feed_dropped_total", "Dropped.", func() float64 { return 7 }),
		Gauge("airguard_stream_clients", "Clients.", func() float64 { return 3 }),
		Up("airguard_feed_connected", "Feed link state.", func() bool { return connected }),
	)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	if got := fams["airguard_feed_dropped_total"].GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Errorf("dropped: got %v, want 7", got)
	}
	if got := fams["airguard_stream_clients"].GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("clients: got %v, want 3", got)
	}
	if _, ok := fams["go_goroutines"]; !ok {
		t.Error("go runtime collector missing from exposition")
	}
}

func TestUp(t *testing.T) {
	connected := false
	g := Up("airguard_command_connected", "Command link state.", func() bool { return connected })

	if got := testutil.ToFloat64(g); got != 0 {
		t.Errorf("disconnected: got %v, want 0", got)
	}
	connected = true
	if got := testutil.ToFloat64(g); got != 1 {
		t.Errorf("connected: got %v, want 1", got)
	}
}
