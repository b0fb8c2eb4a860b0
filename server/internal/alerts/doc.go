// Package alerts implements the alert throttle and the notification
// channels.
//
// The Engine persists every classification record exactly once. A Poor
// record with problematic attributes first checks for a sent alert within
// the cooldown window, then atomically reserves the window in the store
// before any channel is called. All channels run concurrently and are
// awaited. The first channel (email, when configured) is canonical: its
// delivery commits the reservation and its failure deletes it. Push and
// webhook outcomes are reported but never change the record.
package alerts
