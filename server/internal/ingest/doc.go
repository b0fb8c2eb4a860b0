// Package ingest is the telemetry consumer. For each message on the
// telemetry topic it decodes and persists the reading, classifies it,
// actuates the devices and hands the classification record to the alert
// engine, which persists it exactly once.
//
// A reading whose classification fails stays persisted but produces no
// device commands and no record.
package ingest
