package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/alerts"
	"github.com/airguard/airguard/server/internal/ingest"
	"github.com/airguard/airguard/server/internal/store"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// --- test helpers -----------------------------------------------------------

type fixedStatus ingest.Status

func (f fixedStatus) Status() ingest.Status { return ingest.Status(f) }

type link bool

func (l link) Connected() bool { return bool(l) }

func emptyStatus() ingest.Status {
	return ingest.NewTracker().Status()
}

func newHandler(st ingest.Status, devices store.DeviceStates, feed bool) http.Handler {
	h := New(Deps{
		Status:   fixedStatus(st),
		Devices:  devices,
		Ping:     func(context.Context) error { return nil },
		Feed:     link(feed),
		Commands: link(feed),
		Backend:  "memory",
		Cooldown: 5 * time.Minute,
		Breaker:  func() string { return "closed" },
		Clients:  func() int { return 3 },
		Started:  now.Add(-time.Hour),
	}).(*Handler)
	h.now = func() time.Time { return now }
	return h
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_OK(t *testing.T) {
	rr := get(t, newHandler(emptyStatus(), store.NewMemory(0), true), "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp HealthResponse
	decode(t, rr, &resp)

	if resp.State != "ok" || !resp.FeedConnected || resp.StorageBackend != "memory" {
		t.Errorf("got %+v", resp)
	}
	if resp.UptimeSeconds != 3600 {
		t.Errorf("uptime: got %v, want 3600", resp.UptimeSeconds)
	}
	if resp.StreamClients != 3 {
		t.Errorf("stream clients: got %d, want 3", resp.StreamClients)
	}
}

func TestHealth_DegradedWhenFeedDownOrStorageFails(t *testing.T) {
	rr := get(t, newHandler(emptyStatus(), store.NewMemory(0), false), "/api/v1/health")
	var resp HealthResponse
	decode(t, rr, &resp)
	if resp.State != "degraded" || resp.FeedConnected {
		t.Errorf("feed down: got %+v", resp)
	}

	h := New(Deps{
		Status: fixedStatus(emptyStatus()),
		Feed:   link(true),
		Ping:   func(context.Context) error { return errors.New("no reachable servers") },
	})
	rr = get(t, h, "/api/v1/health")
	decode(t, rr, &resp)
	if resp.State != "degraded" || resp.StorageReachable || resp.StorageError == "" {
		t.Errorf("storage down: got %+v", resp)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := newHandler(emptyStatus(), store.NewMemory(0), true)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/status ---------------------------------------------------------

func TestStatus_ReportsLastState(t *testing.T) {
	st := emptyStatus()
	st.LastReading = &types.Reading{ID: "r1", Timestamp: now.Add(-10 * time.Second), CO2: 1500}
	st.LastClassification = &types.Classification{
		Category:              types.CategoryPoor,
		ProblematicAttributes: []types.Attribute{{Name: "CO2", Value: 1500, Unit: "ppm"}},
	}
	st.LastAlert = &ingest.AlertStatus{State: alerts.StateCommitted, RecordID: "rec-1", At: now}
	st.Stats.Received = 4
	st.Stats.Alerts[alerts.StateCommitted] = 1

	rr := get(t, newHandler(st, store.NewMemory(0), true), "/api/v1/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp StatusResponse
	decode(t, rr, &resp)

	if resp.LastReading == nil || resp.LastReading.ID != "r1" {
		t.Errorf("last reading: got %+v", resp.LastReading)
	}
	if resp.LastAlert == nil || resp.LastAlert.State != alerts.StateCommitted {
		t.Errorf("last alert: got %+v", resp.LastAlert)
	}
	if resp.Stats.Received != 4 || resp.Stats.Alerts[alerts.StateCommitted] != 1 {
		t.Errorf("stats: got %+v", resp.Stats)
	}
	if resp.CooldownSeconds != 300 {
		t.Errorf("cooldown: got %v, want 300", resp.CooldownSeconds)
	}
	if len(resp.Diagnostics) == 0 || resp.Diagnostics[0].Key != "poor_air" {
		t.Errorf("diagnostics: got %+v, want poor_air first", resp.Diagnostics)
	}
}

// --- /api/v1/devices/{kind} -------------------------------------------------

func TestDevice(t *testing.T) {
	m := store.NewMemory(0)
	m.SetIndicatorColor(context.Background(), types.ColorYellow, now) //nolint:errcheck
	h := newHandler(emptyStatus(), m, true)

	rr := get(t, h, "/api/v1/devices/indicator")
	if rr.Code != http.StatusOK {
		t.Fatalf("indicator: got %d, want 200", rr.Code)
	}
	var ds types.DeviceState
	decode(t, rr, &ds)
	if ds.Indicator == nil || ds.Indicator.Color != types.ColorYellow || ds.Indicator.Brightness != types.DefaultBrightness {
		t.Errorf("indicator: got %+v", ds.Indicator)
	}

	if rr := get(t, h, "/api/v1/devices/alarm"); rr.Code != http.StatusNotFound {
		t.Errorf("unset alarm: got %d, want 404", rr.Code)
	}
	if rr := get(t, h, "/api/v1/devices/toaster"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown kind: got %d, want 404", rr.Code)
	}
}

// --- diagnostics ------------------------------------------------------------

func TestComputeDiagnostics(t *testing.T) {
	healthy := HealthResponse{FeedConnected: true, StorageReachable: true, ClassifierBreaker: "closed"}
	fresh := &types.Reading{Timestamp: now.Add(-time.Second)}

	tests := []struct {
		name      string
		status    func(st *ingest.Status)
		health    HealthResponse
		wantFirst string
	}{
		{"all clear", func(st *ingest.Status) { st.LastReading = fresh }, healthy, "all_clear"},
		{"warming up", func(st *ingest.Status) {}, healthy, "warming_up"},
		{"stale", func(st *ingest.Status) {
			st.LastReading = &types.Reading{Timestamp: now.Add(-20 * time.Minute)}
		}, healthy, "stale_readings"},
		{"feed down beats everything", func(st *ingest.Status) {
			st.LastReading = fresh
			st.Stats.DecodeErrors = 2
		}, HealthResponse{StorageReachable: true}, "feed_down"},
		{"breaker open", func(st *ingest.Status) { st.LastReading = fresh }, HealthResponse{
			FeedConnected: true, StorageReachable: true, ClassifierBreaker: "open",
		}, "classifier_open"},
		{"rolled back", func(st *ingest.Status) {
			st.LastReading = fresh
			st.LastAlert = &ingest.AlertStatus{State: alerts.StateRolledBack}
		}, healthy, "alert_rolled_back"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := emptyStatus()
			tc.status(&st)
			hints := computeDiagnostics(st, tc.health, now)
			if len(hints) == 0 || hints[0].Key != tc.wantFirst {
				t.Errorf("got %+v, want %s first", hints, tc.wantFirst)
			}
		})
	}
}
