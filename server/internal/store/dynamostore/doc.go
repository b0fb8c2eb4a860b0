// Package dynamostore implements store.Store on DynamoDB.
//
// Tables (all prefixed with the configured table_prefix):
//   - readings       - hash key id
//   - device_states  - hash key kind, flat attributes
//   - records        - hash key id; sparse GSI alerts-by-time on
//     (alert_state, ts) serves the cooldown query
//   - leases         - hash key lease_key; the cooldown lease is claimed with
//     a conditional PutItem
//
// Table creation is left to infrastructure tooling.
package dynamostore
