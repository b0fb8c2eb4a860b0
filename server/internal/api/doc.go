// Package api implements the read-only HTTP status API for airguard-server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET /api/v1/health          - feed and storage state, classifier breaker, uptime
//	GET /api/v1/status          - last reading, classification, alert outcome, counters, diagnostics
//	GET /api/v1/devices/{kind}  - desired state of "indicator" or "alarm"; 404 if unset
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
