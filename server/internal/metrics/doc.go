// Package metrics builds the Prometheus registry served on /metrics.
//
// Components expose their own values as collectors or func-backed gauges;
// this package only owns the registry and its HTTP handler.
package metrics
