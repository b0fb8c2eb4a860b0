// Package mongostore implements store.Store on MongoDB.
//
// Collections: readings, device_states (unique index on kind),
// classification_records (indexed by timestamp and by alert_sent+timestamp
// for the cooldown query) and alert_leases, which holds the single cooldown
// lease document claimed atomically by Reserve.
package mongostore
