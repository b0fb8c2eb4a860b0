// Package scraper polls air-sensor sources and turns each poll into a
// types.Reading.
//
// Two source types exist. A prometheus source reads an exporter's text
// exposition (expfmt) and maps one metric family per attribute; the family
// names default to DefaultMetricNames and can be overridden per source, and
// an optional label set narrows the series. A simulated source produces a
// mean-reverting random walk with configurable pollution spikes, for demos
// and for exercising the alert path without hardware.
//
// A poll that fails or lacks an attribute is reported through Result.Err
// and the cycle is skipped. Authentication (mTLS, API key, bearer, basic)
// is handled by the shared authTransport in base.go.
package scraper
