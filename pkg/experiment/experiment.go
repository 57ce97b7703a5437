// Package experiment composes the node allocator, schedule executor, and
// convergence checker into one experiment's setup/execute/teardown
// lifecycle, owning its applications, wrappers, and data containers.
// Grounded on spec.md §4.7 and supplemented from
// original_source/src/crab/core/engine.py's msgsize-scraping behavior that
// the distilled spec dropped.
package experiment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/SharkGamerZ/CRAB/pkg/allocator"
	"github.com/SharkGamerZ/CRAB/pkg/log"
	"github.com/SharkGamerZ/CRAB/pkg/metrics"
	"github.com/SharkGamerZ/CRAB/pkg/schedule"
	"github.com/SharkGamerZ/CRAB/pkg/stats"
	"github.com/SharkGamerZ/CRAB/pkg/supervisor"
	"github.com/SharkGamerZ/CRAB/pkg/types"
	"github.com/SharkGamerZ/CRAB/pkg/wlmanager"
	"github.com/SharkGamerZ/CRAB/pkg/wrapper"
)

// Options mirrors Config JSON's global_options, scoped to one experiment.
type Options struct {
	NumNodes        int
	PPN             int
	AllocationMode  allocator.Mode
	AllocationSplit string
	PartitionSplit  string
	PartitionLayout string
	MinRuns         int
	MaxRuns         int
	Timeout         time.Duration
	Alpha           float64
	Beta            float64
	ConvergeAll     bool
	Seed            uint64
}

// Runner owns one experiment's applications, wrapper-derived data
// containers, and allocator/schedule collaborators.
type Runner struct {
	ID       string
	NodeList []string
	AppSpecs map[int]types.AppSpec
	Options  Options
	Adapter  wlmanager.Adapter

	apps       map[int]*types.AppInstance
	orderedIDs []int
	containers map[int][]*types.DataContainer

	staticSchedule    []types.ScheduleEntry
	dependencies      types.DependencyMap
	relativeDurations types.RelativeDurations
	waitAwait         []int
	waitForced        []int

	sup      *supervisor.Supervisor
	exec     *schedule.Executor
	rng      *rand.Rand
	logger   zerolog.Logger
	runCount int
}

var msgSizeRe = regexp.MustCompile(`-msgsize[ =](\d+)`)

// extractMsgSize scrapes the -msgsize token from an app's argument string,
// returning 0 when absent. Restored from the original engine's per-app
// metadata tagging, dropped by the distilled spec.
func extractMsgSize(args string) int {
	m := msgSizeRe.FindStringSubmatch(args)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// NewRunner constructs a Runner for one experiment; it does not perform
// setup.
func NewRunner(id string, nodeList []string, specs map[int]types.AppSpec, opts Options, adapter wlmanager.Adapter) *Runner {
	return &Runner{
		ID:       id,
		NodeList: nodeList,
		AppSpecs: specs,
		Options:  opts,
		Adapter:  adapter,
		logger:   log.WithExperiment(id),
	}
}

// Setup loads wrappers, instantiates apps, runs the allocator, and
// initializes data containers, exactly as spec.md §4.7.
func (r *Runner) Setup() error {
	r.apps = make(map[int]*types.AppInstance, len(r.AppSpecs))
	r.containers = make(map[int][]*types.DataContainer)
	r.dependencies = make(types.DependencyMap)
	r.relativeDurations = make(types.RelativeDurations)

	for id := range r.AppSpecs {
		r.orderedIDs = append(r.orderedIDs, id)
	}
	sort.Ints(r.orderedIDs)

	ordered := make([]*types.AppInstance, 0, len(r.orderedIDs))
	for _, id := range r.orderedIDs {
		spec := r.AppSpecs[id]
		parsed, err := types.ParseAppSpec(id, spec)
		if err != nil {
			return fmt.Errorf("experiment %s: app %d: %w", r.ID, id, err)
		}

		w, err := wrapper.New(spec.Path, spec.Args)
		if err != nil {
			return fmt.Errorf("experiment %s: app %d: %w", r.ID, id, err)
		}

		app := &types.AppInstance{Parsed: parsed, Metrics: w.Metadata(), MsgSize: extractMsgSize(spec.Args)}
		r.apps[id] = app
		ordered = append(ordered, app)

		for _, m := range w.Metadata() {
			r.containers[id] = append(r.containers[id], &types.DataContainer{
				AppID:   id,
				Metric:  m,
				MsgSize: app.MsgSize,
			})
		}

		r.classify(app)
	}

	if err := r.allocate(ordered); err != nil {
		return fmt.Errorf("experiment %s: %w", r.ID, err)
	}

	r.sup = supervisor.New()
	r.exec = schedule.New(r.sup, r.Adapter, r.Options.PPN)
	if r.Options.Seed != 0 {
		r.rng = rand.New(rand.NewPCG(r.Options.Seed, r.Options.Seed))
	}

	r.staticSchedule = r.buildStaticSchedule()
	return nil
}

// classify routes a parsed app into the dependency map, relative-duration
// map, and the wait-await/wait-forced tail lists per spec.md §3/§4.6.
func (r *Runner) classify(app *types.AppInstance) {
	if app.Parsed.Start.Kind == types.StartAfter {
		r.dependencies[app.ID()] = app.Parsed.Start.TargetID
		if app.Parsed.End.Kind == types.EndDuration {
			r.relativeDurations[app.ID()] = app.Parsed.End.Seconds
		}
	}

	switch app.Parsed.End.Kind {
	case types.EndAwait:
		r.waitAwait = append(r.waitAwait, app.ID())
	case types.EndForced:
		r.waitForced = append(r.waitForced, app.ID())
	}
}

// buildStaticSchedule derives the pre-sorted start/kill entries for
// absolute-started apps; dependency-triggered entries are resolved at run
// time by the schedule executor.
func (r *Runner) buildStaticSchedule() []types.ScheduleEntry {
	var entries []types.ScheduleEntry
	for _, id := range r.orderedIDs {
		app := r.apps[id]
		if app.Parsed.Start.Kind != types.StartAbsolute {
			continue
		}
		entries = append(entries, types.ScheduleEntry{
			AppID:     id,
			Action:    types.ActionStart,
			Timestamp: app.Parsed.Start.Seconds,
		})
		if app.Parsed.End.Kind == types.EndDeadline {
			entries = append(entries, types.ScheduleEntry{
				AppID:     id,
				Action:    types.ActionKill,
				Timestamp: app.Parsed.End.Seconds,
			})
		}
	}
	return entries
}

func (r *Runner) maxScheduleTimestamp() float64 {
	var max float64
	for _, e := range r.staticSchedule {
		if e.Timestamp > max {
			max = e.Timestamp
		}
	}
	return max
}

func (r *Runner) allocate(ordered []*types.AppInstance) error {
	opts := allocator.Options{
		Mode:            r.Options.AllocationMode,
		AllocationSplit: r.Options.AllocationSplit,
		PartitionSplit:  r.Options.PartitionSplit,
		PartitionLayout: r.Options.PartitionLayout,
		Rand:            r.rng,
	}
	timer := metrics.NewTimer()
	err := allocator.Allocate(r.NodeList, ordered, opts)
	timer.ObserveDurationVec(metrics.AllocationDuration, string(r.Options.AllocationMode))
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.AllocationsTotal.WithLabelValues(string(r.Options.AllocationMode), outcome).Inc()
	return err
}

// Execute runs the outer convergence loop of spec.md §4.7 until an exit
// condition is met.
func (r *Runner) Execute(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ExperimentDuration)

	start := time.Now()
	outcome := "converged"
	defer func() { metrics.ExperimentsTotal.WithLabelValues(outcome).Inc() }()

	ordered := make([]*types.AppInstance, 0, len(r.orderedIDs))
	for _, id := range r.orderedIDs {
		ordered = append(ordered, r.apps[id])
	}

	for {
		elapsed := time.Since(start)
		remaining := r.Options.Timeout - elapsed

		if r.runCount >= r.Options.MaxRuns {
			outcome = "max_runs"
			break
		}
		if elapsed >= r.Options.Timeout {
			outcome = "timeout_elapsed"
			break
		}
		if remaining.Seconds() < r.maxScheduleTimestamp() {
			outcome = "insufficient_time"
			break
		}

		if r.Options.AllocationMode == allocator.ModeReshuffle {
			if err := r.allocate(ordered); err != nil {
				return fmt.Errorf("experiment %s: reshuffle: %w", r.ID, err)
			}
		}

		result, err := r.exec.Run(ctx, schedule.Input{
			Apps:              r.apps,
			Schedule:          append([]types.ScheduleEntry(nil), r.staticSchedule...),
			Dependencies:      r.dependencies,
			RelativeDurations: r.relativeDurations,
			WaitAwait:         r.waitAwait,
			WaitForced:        r.waitForced,
			Deadline:          remaining,
		})
		if err != nil {
			return fmt.Errorf("experiment %s: run %d: %w", r.ID, r.runCount, err)
		}

		if result.TimeoutOccurred {
			r.logger.Warn().Int("run", r.runCount).Msg("global timeout during await, discarding run data")
			metrics.RunsCompletedTotal.WithLabelValues(r.ID).Inc()
			r.runCount++
			outcome = "timeout"
			break
		}

		if err := r.collect(result.Finished); err != nil {
			return fmt.Errorf("experiment %s: run %d: %w", r.ID, r.runCount, err)
		}

		r.runCount++
		metrics.RunsCompletedTotal.WithLabelValues(r.ID).Inc()

		converged := false
		if r.runCount >= r.Options.MinRuns {
			converged = r.checkConvergence()
		}
		if r.runCount >= r.Options.MinRuns && converged {
			outcome = "converged"
			break
		}
	}

	return nil
}

// collect appends each finished, collect-eligible app's parsed output to
// its data containers. A non-zero exit code from any app is a fatal
// experiment error per spec.md §4.6.
func (r *Runner) collect(finished []int) error {
	for _, id := range finished {
		app := r.apps[id]
		code := r.sup.ExitCode(app)
		if code != 0 {
			return fmt.Errorf("app %d exited %d: %s", id, code, app.Stderr)
		}
		if !app.Parsed.Spec.Collect {
			continue
		}

		w, err := wrapper.New(app.Parsed.Spec.Path, app.Parsed.Spec.Args)
		if err != nil {
			return fmt.Errorf("app %d: %w", id, err)
		}
		series, err := w.ParseOutput(app.Stdout)
		if err != nil {
			return fmt.Errorf("app %d: parse output: %w", id, err)
		}

		containers := r.containers[id]
		for i, s := range series {
			if i >= len(containers) {
				break
			}
			containers[i].Append(s)
			metrics.SamplesCollectedTotal.WithLabelValues(strconv.Itoa(id), containers[i].Metric.Name).Add(float64(len(s)))
		}
	}
	return nil
}

func (r *Runner) checkConvergence() bool {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConvergenceCheckDuration)

	var all []*types.DataContainer
	for _, id := range r.orderedIDs {
		all = append(all, r.containers[id]...)
	}
	converged := stats.CheckConvergence(all, r.Options.Alpha, r.Options.Beta, r.Options.ConvergeAll, r.runCount)
	for _, c := range all {
		label := strconv.Itoa(c.AppID)
		value := 0.0
		if c.Converged {
			value = 1
			metrics.ConvergenceRun.WithLabelValues(label, c.Metric.Name).Set(float64(c.ConvergenceRun))
		}
		metrics.MetricsConvergedTotal.WithLabelValues(label, c.Metric.Name).Set(value)
	}
	return converged
}

// Teardown kills any process left running across all apps, ensuring no
// stray processes survive between experiments.
func (r *Runner) Teardown() {
	for _, id := range r.orderedIDs {
		app := r.apps[id]
		if app.Process != nil && app.Process.Running() {
			r.sup.Kill(app)
		}
	}
}

// Containers exposes the accumulated per-app data containers for
// persistence, keyed by app id, each slice in metric declaration order.
func (r *Runner) Containers() map[int][]*types.DataContainer {
	return r.containers
}

// RunCount reports how many runs have completed so far.
func (r *Runner) RunCount() int { return r.runCount }
