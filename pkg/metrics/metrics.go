// Package metrics exposes CRAB's Prometheus metrics: allocation outcomes,
// process lifecycle events, schedule-executor run counts, and convergence
// state. Structured the way pkg/metrics was before adaptation (package-level
// vars registered in init, a Timer helper for histogram observations).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Allocation metrics
	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crab_allocations_total",
			Help: "Total number of node allocations performed, by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	AllocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crab_allocation_duration_seconds",
			Help:    "Time taken to compute a node allocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Process lifecycle metrics
	ProcessesSpawned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crab_processes_spawned_total",
			Help: "Total number of application processes spawned, by app path",
		},
		[]string{"path"},
	)

	ProcessesKilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crab_processes_killed_total",
			Help: "Total number of application processes killed, by reason",
		},
		[]string{"reason"},
	)

	ProcessExitCodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crab_process_exit_code_total",
			Help: "Total number of process exits, by path and exit code class",
		},
		[]string{"path", "class"},
	)

	SpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crab_spawn_duration_seconds",
			Help:    "Time taken to render a launch command and spawn the process",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Schedule executor metrics
	RunsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crab_runs_completed_total",
			Help: "Total number of schedule runs completed, by experiment id",
		},
		[]string{"experiment"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crab_run_duration_seconds",
			Help:    "Wall-clock duration of one schedule run",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crab_run_timeouts_total",
			Help: "Total number of runs that exceeded the global timeout during await",
		},
	)

	// Convergence metrics
	ConvergenceCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crab_convergence_check_duration_seconds",
			Help:    "Time taken to evaluate convergence across all data containers",
			Buckets: prometheus.DefBuckets,
		},
	)

	MetricsConvergedTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crab_metrics_converged",
			Help: "Whether a given (app, metric) data container has converged (1) or not (0)",
		},
		[]string{"app_id", "metric"},
	)

	ConvergenceRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crab_convergence_run",
			Help: "The run index at which a (app, metric) data container converged",
		},
		[]string{"app_id", "metric"},
	)

	// Experiment / engine metrics
	ExperimentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crab_experiments_total",
			Help: "Total number of experiments executed, by outcome",
		},
		[]string{"outcome"},
	)

	ExperimentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crab_experiment_duration_seconds",
			Help:    "Wall-clock duration of one experiment's execute() loop",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	SamplesCollectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crab_samples_collected_total",
			Help: "Total number of metric samples appended to data containers",
		},
		[]string{"app_id", "metric"},
	)
)

func init() {
	prometheus.MustRegister(
		AllocationsTotal,
		AllocationDuration,
		ProcessesSpawned,
		ProcessesKilled,
		ProcessExitCodeTotal,
		SpawnDuration,
		RunsCompletedTotal,
		RunDuration,
		RunTimeoutsTotal,
		ConvergenceCheckDuration,
		MetricsConvergedTotal,
		ConvergenceRun,
		ExperimentsTotal,
		ExperimentDuration,
		SamplesCollectedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
