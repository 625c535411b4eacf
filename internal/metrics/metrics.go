package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runstats",
			Name:      "reports_total",
			Help:      "Number of run reports ingested, by clean/dirty run state and retention action.",
		}, []string{"state", "action"},
	)
	duplicateNodes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "runstats",
			Name:      "duplicate_nodes_total",
			Help:      "Reports skipped because the client has duplicate nodes in the statistics file.",
		},
	)
	writesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "runstats",
			Name:      "writes_total",
			Help:      "Number of physical writes of the statistics file.",
		},
	)
	writeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "runstats",
			Name:      "write_errors_total",
			Help:      "Number of failed writes of the statistics file.",
		},
	)
	writeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "runstats",
			Name:      "write_duration_seconds",
			Help:      "Time spent serializing and writing the statistics file.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	clients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "runstats",
			Name:      "clients",
			Help:      "Number of client nodes currently held in the statistics store.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{reportsTotal, duplicateNodes, writesTotal, writeErrors, writeDuration, clients}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Registered reports whether Register has succeeded.
func Registered() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// IncReport counts one ingested report. The state label is "clean" or
// "dirty"; any state a client sends other than clean counts as dirty.
func IncReport(clean bool, action string) {
	if !regOK.Load() {
		return
	}
	state := "dirty"
	if clean {
		state = "clean"
	}
	reportsTotal.WithLabelValues(state, action).Inc()
}

func IncDuplicate() {
	if regOK.Load() {
		duplicateNodes.Inc()
	}
}

// ObserveWrite records one flush attempt. Failed attempts only bump the error counter.
func ObserveWrite(seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	if err != nil {
		writeErrors.Inc()
		return
	}
	writesTotal.Inc()
	writeDuration.Observe(seconds)
}

func SetClients(n int) {
	if regOK.Load() {
		clients.Set(float64(n))
	}
}
