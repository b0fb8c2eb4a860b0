package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves everything gathered from reg. Collection errors are logged
// and the families that did gather are still served.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      errorLog{},
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      reg,
	})
}

// Gauge wraps fn as an unlabelled gauge.
func Gauge(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// Counter wraps fn as an unlabelled counter. fn must never decrease.
func Counter(name, help string, fn func() float64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn)
}

// Up wraps a connectivity check as a 0/1 gauge.
func Up(name, help string, connected func() bool) prometheus.GaugeFunc {
	return Gauge(name, help, func() float64 {
		if connected() {
			return 1
		}
		return 0
	})
}

type errorLog struct{}

func (errorLog) Println(v ...interface{}) {
	slog.Error("metrics: gather failed", "err", fmt.Sprint(v...))
}
