// Package actuator turns a classification into indicator and alarm
// commands.
//
// Every category sets the indicator color (Good green, Moderate yellow,
// Poor red) using the stored brightness, then upserts only the color field
// of the indicator's desired state. Poor additionally sounds the alarm
// with the stored beep pattern, clamped to its allowed ranges. When no
// alarm state exists, defaults are written and the trigger is deferred to
// the next Poor reading.
//
// Actuation is best-effort. Publish failures are logged and never block
// alerting.
package actuator
