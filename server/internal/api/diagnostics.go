package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/alerts"
	"github.com/airguard/airguard/server/internal/ingest"
)

// staleAfter is how long without a reading before the feed is reported
// quiet. Sensors publish every few seconds.
const staleAfter = 5 * time.Minute

// DiagnosticHint is one human-readable insight about the pipeline's state.
// The dashboard displays these as chips; Detail explains the problem in
// plain English.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from the pipeline status and health.
// Diagnostics are ordered: critical first, then warnings, then info.
func computeDiagnostics(st ingest.Status, health HealthResponse, now time.Time) []DiagnosticHint {
	var hints []DiagnosticHint

	// ── Links ────────────────────────────────────────────────────────────────
	if !health.FeedConnected {
		hints = append(hints, DiagnosticHint{
			Key:   "feed_down",
			Level: "critical",
			Title: "Feed disconnected",
			Detail: "The server is not connected to the telemetry feed, so no new readings " +
				"are arriving. It reconnects automatically; check the broker address and " +
				"credentials if this persists.",
		})
	}
	if !health.StorageReachable {
		hints = append(hints, DiagnosticHint{
			Key:   "storage_down",
			Level: "critical",
			Title: "Storage unreachable",
			Detail: fmt.Sprintf("The %s backend did not answer a ping (%s). Readings and "+
				"classification records cannot be written until it recovers.",
				health.StorageBackend, health.StorageError),
		})
	}
	if health.ClassifierBreaker == "open" {
		hints = append(hints, DiagnosticHint{
			Key:   "classifier_open",
			Level: "critical",
			Title: "Classifier unavailable",
			Detail: "The classifier failed repeatedly and calls are being short-circuited. " +
				"Readings are still stored but no devices are driven and no alerts are sent " +
				"until a probe call succeeds.",
		})
	}

	// ── Telemetry ────────────────────────────────────────────────────────────
	switch {
	case st.LastReading == nil:
		hints = append(hints, DiagnosticHint{
			Key:    "warming_up",
			Level:  "info",
			Title:  "Waiting for telemetry",
			Detail: "No reading has been received since the server started. No action needed if the sensor was just powered on.",
		})
	case now.Sub(st.LastReading.Timestamp) > staleAfter:
		age := now.Sub(st.LastReading.Timestamp).Minutes()
		hints = append(hints, DiagnosticHint{
			Key:   "stale_readings",
			Level: "warning",
			Title: "No recent readings",
			Detail: fmt.Sprintf("The last reading is %.0f minutes old. Check that the sensor "+
				"is powered and still publishing to the telemetry topic.", age),
			Value: &age,
		})
	}

	if c := st.LastClassification; c != nil && c.Category == types.CategoryPoor {
		names := make([]string, 0, len(c.ProblematicAttributes))
		for _, a := range c.ProblematicAttributes {
			names = append(names, fmt.Sprintf("%s %.1f %s", a.Name, a.Value, a.Unit))
		}
		detail := "The latest reading was classified as poor."
		if len(names) > 0 {
			detail += " Out of range: " + strings.Join(names, ", ") + "."
		}
		hints = append(hints, DiagnosticHint{
			Key:    "poor_air",
			Level:  "warning",
			Title:  "Air quality is poor",
			Detail: detail,
		})
	}

	// ── Alerting ─────────────────────────────────────────────────────────────
	if a := st.LastAlert; a != nil {
		switch a.State {
		case alerts.StateRolledBack:
			hints = append(hints, DiagnosticHint{
				Key:   "alert_rolled_back",
				Level: "warning",
				Title: "Alert not delivered",
				Detail: "The last alert could not be delivered by email, so it was rolled back. " +
					"The next poor reading will try again. Check SMTP settings and credentials.",
			})
		case alerts.StateFailed:
			hints = append(hints, DiagnosticHint{
				Key:   "alert_failed",
				Level: "critical",
				Title: "Alert bookkeeping failed",
				Detail: "Storage rejected an alert reservation or commit. Alerts may be " +
					"duplicated or blocked until the cooldown lease expires.",
			})
		}
	}

	if n := st.Stats.DecodeErrors; n > 0 {
		v := float64(n)
		hints = append(hints, DiagnosticHint{
			Key:   "decode_errors",
			Level: "info",
			Title: fmt.Sprintf("%d malformed messages", n),
			Detail: "Some telemetry messages were missing fields or had non-numeric values " +
				"and were dropped. Occasional drops are harmless; a steady stream points at " +
				"sensor firmware.",
			Value: &v,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "all_clear",
			Level:  "ok",
			Title:  "All systems normal",
			Detail: "Telemetry is flowing, the classifier is answering and storage is reachable.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank(hints[i].Level) < levelRank(hints[j].Level)
	})
	return hints
}

func levelRank(level string) int {
	switch level {
	case "critical":
		return 0
	case "warning":
		return 1
	case "info":
		return 2
	default:
		return 3
	}
}
