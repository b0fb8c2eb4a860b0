// Package config loads and watches the server configuration file.
//
// Sections:
//   - server     - http_port, log_level, auth (apikey|none)
//   - feed       - telemetry source (mqtt|kafka), command sink, topics
//   - mqtt/kafka - broker connection settings
//   - storage    - backend (memory|mongo|dynamodb) and per-backend options
//   - classifier - http or sagemaker scoring, timeout, labels, breaker
//   - alerts     - cooldown window, email, push and webhook channels
//
// Secrets are never read from the file. Keys ending in _env name the
// environment variable that holds the value.
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads on write and keeps the previous config
// when a reload fails.
package config
