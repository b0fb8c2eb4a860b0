package api

import (
	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/ingest"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State             string  `json:"state"` // "ok" | "degraded"
	FeedConnected     bool    `json:"feed_connected"`
	CommandConnected  bool    `json:"command_connected"`
	StorageBackend    string  `json:"storage_backend"`
	StorageReachable  bool    `json:"storage_reachable"`
	StorageError      string  `json:"storage_error,omitempty"`
	ClassifierBreaker string  `json:"classifier_breaker,omitempty"`
	StreamClients     int     `json:"stream_clients"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	StartedAt         string  `json:"started_at"` // RFC3339
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	LastReading        *types.Reading        `json:"last_reading"`
	LastClassification *types.Classification `json:"last_classification"`
	LastAlert          *ingest.AlertStatus   `json:"last_alert"`
	Stats              ingest.Stats          `json:"stats"`
	CooldownSeconds    float64               `json:"cooldown_seconds"`
	Diagnostics        []DiagnosticHint      `json:"diagnostics"`
	GeneratedAt        string                `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
