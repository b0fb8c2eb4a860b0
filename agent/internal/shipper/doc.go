// Package shipper publishes Readings to the telemetry topic over MQTT.
//
// Shipper.Ship() is non-blocking: readings go into an in-memory channel
// (agent.buffer_size). When the buffer is full the oldest reading is
// evicted so the latest air data is always preserved.
//
// Shipper.Run() drains the buffer, reconnecting with truncated exponential
// backoff (1s→60s, ±25% jitter) when the broker is unreachable or a publish
// fails. A failed reading is put back in the buffer; one that cannot be
// encoded is discarded.
//
// The payload is the JSON Reading without an id, which the server's
// ingest decoder accepts as is.
package shipper
