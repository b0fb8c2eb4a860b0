// Package types defines the domain types shared by the agent and the server:
// telemetry readings, air-quality categories, classification records, desired
// device state, and the command messages published to actuators.
//
// These are the canonical in-memory representations. JSON tags describe the
// wire format on the telemetry and command topics; bson tags describe the
// document layout used by the MongoDB store.
package types
