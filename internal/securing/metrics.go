package securing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Securing run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkheion_securing_runs_total",
			Help: "Total number of securing runs by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	EntriesSecuredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkheion_securing_entries_total",
			Help: "Total number of journal records sealed",
		},
		[]string{"type"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arkheion_securing_run_duration_seconds",
			Help:    "Duration of securing runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	CapacityReachedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkheion_securing_capacity_reached_total",
			Help: "Total number of runs truncated by the capacity cap",
		},
		[]string{"type"},
	)

	// Orchestration metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkheion_securing_passes_total",
			Help: "Total number of multi-tenant securing passes",
		},
		[]string{"type"},
	)

	PollCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arkheion_securing_poll_cycles_total",
			Help: "Total number of terminal-status poll cycles",
		},
	)
)
