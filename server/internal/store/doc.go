// Package store defines the persistence interfaces used by the pipeline
// (readings, desired device state, and the classification ledger with its
// cooldown reservation) and provides the in-memory backend.
//
// The MongoDB and DynamoDB backends live in the mongostore and dynamostore
// subpackages and implement the same Store interface.
package store
