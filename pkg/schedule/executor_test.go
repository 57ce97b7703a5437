package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SharkGamerZ/CRAB/pkg/supervisor"
	"github.com/SharkGamerZ/CRAB/pkg/types"
	"github.com/SharkGamerZ/CRAB/pkg/wrapper"
)

type fakeAdapter struct{}

func (fakeAdapter) RenderLaunch(nodes []string, ppn int, innerCommand string) (string, error) {
	return innerCommand, nil
}

func registerQuickExit(t *testing.T, name string) {
	t.Helper()
	wrapper.Register(name, func(args string) wrapper.Wrapper { return quickExitWrapper{} })
}

type quickExitWrapper struct{}

func (quickExitWrapper) Metadata() []types.MetricDescriptor      { return nil }
func (quickExitWrapper) BuildCommand() string                    { return "true" }
func (quickExitWrapper) ParseOutput(string) ([][]float64, error) { return nil, nil }
func (quickExitWrapper) SetNodes([]string)                       {}
func (quickExitWrapper) SetProcess(types.ProcessHandle)          {}
func (quickExitWrapper) SetOutput(string, string)                {}

func appWith(t *testing.T, id int, path, start, end string) *types.AppInstance {
	t.Helper()
	parsed, err := types.ParseAppSpec(id, types.AppSpec{Path: path, Start: start, End: end})
	require.NoError(t, err)
	return &types.AppInstance{Parsed: parsed, Nodes: []string{"node0"}}
}

func TestRunEndsWhenScheduleDependenciesAndRunningAreAllEmpty(t *testing.T) {
	registerQuickExit(t, "sched-quickexit-1")
	ex := New(supervisor.New(), fakeAdapter{}, 1)

	app := appWith(t, 1, "sched-quickexit-1", "0", "")
	in := Input{
		Apps:     map[int]*types.AppInstance{1: app},
		Schedule: []types.ScheduleEntry{{AppID: 1, Action: types.ActionStart, Timestamp: 0}},
		Deadline: 2 * time.Second,
	}

	result, err := ex.Run(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, result.TimeoutOccurred)
	assert.Contains(t, result.Finished, 1)
}

func TestRunResolvesDependencyAfterTargetFinishes(t *testing.T) {
	registerQuickExit(t, "sched-quickexit-2")
	ex := New(supervisor.New(), fakeAdapter{}, 1)

	target := appWith(t, 1, "sched-quickexit-2", "0", "")
	waiter := appWith(t, 2, "sched-quickexit-2", "s1", "")

	in := Input{
		Apps:         map[int]*types.AppInstance{1: target, 2: waiter},
		Schedule:     []types.ScheduleEntry{{AppID: 1, Action: types.ActionStart, Timestamp: 0}},
		Dependencies: types.DependencyMap{2: 1},
		Deadline:     2 * time.Second,
	}

	result, err := ex.Run(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, result.TimeoutOccurred)
	assert.Contains(t, result.Finished, 1)
	assert.Contains(t, result.Finished, 2)
}

func TestRunKillsForcedWaitListAppsAtEnd(t *testing.T) {
	wrapper.Register("sched-sleep-1", func(args string) wrapper.Wrapper { return schedSleepWrapper{} })
	ex := New(supervisor.New(), fakeAdapter{}, 1)

	app := appWith(t, 1, "sched-sleep-1", "0", "f")
	in := Input{
		Apps:       map[int]*types.AppInstance{1: app},
		Schedule:   []types.ScheduleEntry{{AppID: 1, Action: types.ActionStart, Timestamp: 0}},
		WaitForced: []int{1},
		Deadline:   500 * time.Millisecond,
	}

	result, err := ex.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, result.Finished, 1)
}

type schedSleepWrapper struct{}

func (schedSleepWrapper) Metadata() []types.MetricDescriptor      { return nil }
func (schedSleepWrapper) BuildCommand() string                    { return "sleep 30" }
func (schedSleepWrapper) ParseOutput(string) ([][]float64, error) { return nil, nil }
func (schedSleepWrapper) SetNodes([]string)                       {}
func (schedSleepWrapper) SetProcess(types.ProcessHandle)          {}
func (schedSleepWrapper) SetOutput(string, string)                {}
