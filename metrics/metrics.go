// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package metrics exposes the federator's Prometheus instrumentation,
// per spec.md §9's C11. Metric names and the promauto package-level
// var convention are grounded on the metrics packages throughout the
// doublezero pack (e.g. lake/api/metrics), since the teacher itself
// does not instrument with Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubRequestsTotal counts sub-requests by their terminal state,
	// per spec.md §4.6's state machine.
	SubRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federator_subrequests_total",
			Help: "Total dispatched sub-requests by terminal state.",
		},
		[]string{"service", "state"},
	)

	// JobsTotal counts federated jobs by failure policy and outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federator_jobs_total",
			Help: "Total federated jobs by failure policy and outcome.",
		},
		[]string{"service", "failure_policy", "outcome"},
	)

	// JobDuration records wall-clock duration of a federated job from
	// resolve through dispatch; merging the response is not included.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "federator_job_duration_seconds",
			Help:    "Duration of a federated job end to end.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// HarvestRunsTotal counts harvest runs by data center and
	// outcome.
	HarvestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federator_harvest_runs_total",
			Help: "Total harvest runs by data center and outcome.",
		},
		[]string{"data_center", "outcome"},
	)

	// HarvestRows records how many catalog rows a harvest run
	// committed.
	HarvestRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "federator_harvest_rows",
			Help:    "Rows committed per harvest run.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"data_center"},
	)

	// ArenaSpoolBytes reports the arena's current tracked spool
	// usage.
	ArenaSpoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "federator_arena_spool_bytes",
			Help: "Current total bytes spooled in the response arena.",
		},
	)
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
