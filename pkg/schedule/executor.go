// Package schedule drives one run of an experiment's schedule: a
// container/heap-backed event loop that spawns and kills applications at
// their scheduled timestamps, resolves dependency-triggered spawns, and
// waits out the await/forced tail lists at run end. Grounded on spec.md's
// §4.6 event loop, generalized from its Python list-of-tuples schedule into
// a Go priority queue.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/SharkGamerZ/CRAB/pkg/log"
	"github.com/SharkGamerZ/CRAB/pkg/metrics"
	"github.com/SharkGamerZ/CRAB/pkg/supervisor"
	"github.com/SharkGamerZ/CRAB/pkg/types"
	"github.com/SharkGamerZ/CRAB/pkg/wlmanager"
)

// pollInterval is the event loop's sleep between ticks, within spec.md's
// documented 50-100ms window.
const pollInterval = 75 * time.Millisecond

// Executor drives schedule runs for a single experiment's applications.
type Executor struct {
	Supervisor *supervisor.Supervisor
	Adapter    wlmanager.Adapter
	PPN        int

	logger zerolog.Logger
}

func New(sup *supervisor.Supervisor, adapter wlmanager.Adapter, ppn int) *Executor {
	return &Executor{
		Supervisor: sup,
		Adapter:    adapter,
		PPN:        ppn,
		logger:     log.WithComponent("schedule"),
	}
}

// Input bundles one run's static state, matching spec.md's RunContext
// collaborators (apps, dependency map, relative durations, wait lists).
type Input struct {
	Apps              map[int]*types.AppInstance
	Schedule          []types.ScheduleEntry
	Dependencies      types.DependencyMap
	RelativeDurations types.RelativeDurations
	WaitAwait         []int
	WaitForced        []int
	Deadline          time.Duration
}

// Result reports a run's outcome: every app that reached a finished state
// (natural exit, scheduled kill, or forced kill; an await-list app killed
// on timeout is not listed) and whether the global deadline was hit. Callers decide eligibility for data
// collection per spec.md §4.6 by checking each app's exit code.
type Result struct {
	Finished        []int
	TimeoutOccurred bool
}

// Run executes the event loop of spec.md §4.6 to completion: drains
// due schedule entries, polls running apps, resolves dependencies, and
// loops until schedule, dependencies, and running apps are all empty. It
// then waits out the await/forced tail lists before returning.
func (e *Executor) Run(ctx context.Context, in Input) (*Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RunDuration)

	queue := newScheduleQueue(in.Schedule)
	running := make(map[int]bool)
	finished := make(map[int]bool)
	remainingDeps := make(types.DependencyMap, len(in.Dependencies))
	for waiter, target := range in.Dependencies {
		remainingDeps[waiter] = target
	}

	runStart := time.Now()
	deadline := runStart.Add(in.Deadline)

	waitForced := make(map[int]bool, len(in.WaitForced))
	for _, id := range in.WaitForced {
		waitForced[id] = true
	}

	for {
		t := time.Since(runStart).Seconds()

		for _, entry := range queue.PopDueBy(t) {
			app, ok := in.Apps[entry.AppID]
			if !ok {
				continue
			}
			switch entry.Action {
			case types.ActionStart:
				if running[entry.AppID] {
					continue
				}
				if err := e.Supervisor.Spawn(ctx, app, e.Adapter, e.PPN); err != nil {
					return nil, fmt.Errorf("schedule: spawn app %d: %w", entry.AppID, err)
				}
				running[entry.AppID] = true
				e.logger.Debug().Int("app_id", entry.AppID).Float64("t", t).Msg("started")
			case types.ActionKill:
				if running[entry.AppID] {
					e.Supervisor.Kill(app)
					delete(running, entry.AppID)
					finished[entry.AppID] = true
					e.logger.Debug().Int("app_id", entry.AppID).Float64("t", t).Msg("killed on schedule")
				}
			}
		}

		for appID := range running {
			app := in.Apps[appID]
			status, err := e.Supervisor.Poll(app)
			if err != nil {
				return nil, fmt.Errorf("schedule: poll app %d: %w", appID, err)
			}
			if status == supervisor.StatusExited {
				e.Supervisor.Drain(app)
				delete(running, appID)
				finished[appID] = true
			}
		}

		for waiter, target := range remainingDeps {
			if !finished[target] {
				continue
			}
			app, ok := in.Apps[waiter]
			if !ok {
				delete(remainingDeps, waiter)
				continue
			}
			if err := e.Supervisor.Spawn(ctx, app, e.Adapter, e.PPN); err != nil {
				return nil, fmt.Errorf("schedule: dependency spawn app %d: %w", waiter, err)
			}
			running[waiter] = true
			delete(remainingDeps, waiter)
			if d, ok := in.RelativeDurations[waiter]; ok {
				queue.Push(waiter, types.ActionKill, t+d)
			}
			e.logger.Debug().Int("app_id", waiter).Int("target", target).Msg("dependency resolved")
		}

		// A forced-end app never exits naturally and carries no scheduled
		// kill entry, so it must not be counted against the running-empty
		// break condition: once the schedule and dependencies are drained
		// and every still-running app is on the forced wait-list, fall
		// through to the forced-kill tail below instead of waiting out
		// the full deadline.
		onlyForcedRunning := true
		for appID := range running {
			if !waitForced[appID] {
				onlyForcedRunning = false
				break
			}
		}
		if queue.Len() == 0 && len(remainingDeps) == 0 && onlyForcedRunning {
			break
		}

		if time.Now().After(deadline) {
			break
		}

		time.Sleep(pollInterval)
	}

	result := &Result{TimeoutOccurred: false}

	remainingBudget := time.Until(deadline)
	for _, id := range in.WaitAwait {
		app, ok := in.Apps[id]
		if !ok || !running[id] {
			continue
		}
		if e.Supervisor.AwaitWithTimeout(app, remainingBudget) {
			result.TimeoutOccurred = true
			metrics.RunTimeoutsTotal.Inc()
		} else {
			finished[id] = true
		}
		delete(running, id)
	}

	for _, id := range in.WaitForced {
		app, ok := in.Apps[id]
		if !ok || !running[id] {
			continue
		}
		e.Supervisor.Kill(app)
		finished[id] = true
		delete(running, id)
	}

	for id := range finished {
		result.Finished = append(result.Finished, id)
	}
	sort.Ints(result.Finished)

	return result, nil
}
