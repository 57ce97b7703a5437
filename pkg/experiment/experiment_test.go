package experiment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SharkGamerZ/CRAB/pkg/allocator"
	"github.com/SharkGamerZ/CRAB/pkg/types"
	"github.com/SharkGamerZ/CRAB/pkg/wrapper"
)

type passthroughAdapter struct{}

func (passthroughAdapter) RenderLaunch(nodes []string, ppn int, innerCommand string) (string, error) {
	return innerCommand, nil
}

type fixedSeriesWrapper struct{}

func (fixedSeriesWrapper) Metadata() []types.MetricDescriptor {
	return []types.MetricDescriptor{{Name: "Avg-Duration", Unit: "us", ConvergenceGoal: true}}
}
func (fixedSeriesWrapper) BuildCommand() string { return "echo done" }
func (fixedSeriesWrapper) ParseOutput(string) ([][]float64, error) {
	return [][]float64{{10, 10, 10}}, nil
}
func (fixedSeriesWrapper) SetNodes([]string)              {}
func (fixedSeriesWrapper) SetProcess(types.ProcessHandle) {}
func (fixedSeriesWrapper) SetOutput(string, string)       {}

func TestExtractMsgSize(t *testing.T) {
	assert.Equal(t, 1024, extractMsgSize("-x 1 -msgsize 1024 -y 2"))
	assert.Equal(t, 0, extractMsgSize("-x 1 -y 2"))
}

func TestRunnerSetupAndSingleRunExecuteConverges(t *testing.T) {
	wrapper.Register("exp-fixed-series", func(args string) wrapper.Wrapper { return fixedSeriesWrapper{} })

	specs := map[int]types.AppSpec{
		0: {Path: "exp-fixed-series", Args: "-msgsize 64", Collect: true, Start: "0", End: ""},
	}
	opts := Options{
		NumNodes:        1,
		PPN:             1,
		AllocationMode:  allocator.ModeLinear,
		AllocationSplit: "e",
		MinRuns:         1,
		MaxRuns:         1,
		Timeout:         5 * time.Second,
		Alpha:           0.05,
		Beta:            0.05,
	}
	r := NewRunner("exp-1", []string{"node0"}, specs, opts, passthroughAdapter{})

	require.NoError(t, r.Setup())
	assert.Equal(t, []string{"node0"}, r.apps[0].Nodes)
	assert.Equal(t, 64, r.apps[0].MsgSize)

	err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.RunCount())

	containers := r.Containers()[0]
	require.Len(t, containers, 1)
	assert.Equal(t, []float64{10, 10, 10}, containers[0].Data)
	assert.True(t, containers[0].Converged)

	r.Teardown()
}

func TestRunnerSetupRejectsFatalDependencyForcedCombination(t *testing.T) {
	wrapper.Register("exp-fixed-series-2", func(args string) wrapper.Wrapper { return fixedSeriesWrapper{} })
	specs := map[int]types.AppSpec{
		0: {Path: "exp-fixed-series-2", Start: "0", End: ""},
		1: {Path: "exp-fixed-series-2", Start: "s0", End: "f"},
	}
	r := NewRunner("exp-2", []string{"node0"}, specs, Options{AllocationMode: allocator.ModeLinear, AllocationSplit: "e"}, passthroughAdapter{})
	err := r.Setup()
	assert.Error(t, err)
}

func TestRunnerExecuteStopsImmediatelyWhenMaxRunsZero(t *testing.T) {
	wrapper.Register("exp-fixed-series-3", func(args string) wrapper.Wrapper { return fixedSeriesWrapper{} })
	specs := map[int]types.AppSpec{
		0: {Path: "exp-fixed-series-3", Collect: true, Start: "0", End: ""},
	}
	opts := Options{AllocationMode: allocator.ModeLinear, AllocationSplit: "e", MinRuns: 0, MaxRuns: 0, Timeout: time.Second}
	r := NewRunner("exp-3", []string{"node0"}, specs, opts, passthroughAdapter{})
	require.NoError(t, r.Setup())

	err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, r.RunCount())
}
