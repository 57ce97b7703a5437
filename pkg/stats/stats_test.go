package stats

import (
	"testing"

	"github.com/SharkGamerZ/CRAB/pkg/types"
	"github.com/stretchr/testify/assert"
)

func container(goal bool, data []float64) *types.DataContainer {
	return &types.DataContainer{Metric: types.MetricDescriptor{ConvergenceGoal: goal}, Data: data}
}

func TestCheckConvergenceSingleSampleNeverConverges(t *testing.T) {
	c := container(true, []float64{5})
	ok := CheckConvergence([]*types.DataContainer{c}, 0.05, 0.05, false, 1)
	assert.False(t, ok)
	assert.False(t, c.Converged)
}

func TestCheckConvergenceZeroVarianceConverges(t *testing.T) {
	c := container(true, []float64{5, 5, 5})
	ok := CheckConvergence([]*types.DataContainer{c}, 0.05, 0.05, false, 2)
	assert.True(t, ok)
	assert.True(t, c.Converged)
	assert.Equal(t, 2, c.ConvergenceRun)
}

func TestCheckConvergenceNonPositiveMeanNeverConverges(t *testing.T) {
	c := container(true, []float64{-1, 1, -2, 2})
	ok := CheckConvergence([]*types.DataContainer{c}, 0.05, 0.05, false, 3)
	assert.False(t, ok)
	assert.False(t, c.Converged)
}

func TestCheckConvergenceIsMonotone(t *testing.T) {
	c := container(true, []float64{5, 5, 5})
	CheckConvergence([]*types.DataContainer{c}, 0.05, 0.05, false, 1)
	assert.True(t, c.Converged)

	// Appending noisy data afterward must not un-converge it: Check skips
	// already-converged containers.
	c.Append([]float64{1000})
	CheckConvergence([]*types.DataContainer{c}, 0.05, 0.05, false, 2)
	assert.True(t, c.Converged)
}

func TestCheckConvergenceNonGoalMetricExemptUnlessConvergeAll(t *testing.T) {
	goal := container(true, []float64{5, 5, 5})
	nonGoal := container(false, []float64{1, 1000, -50, 2000})

	ok := CheckConvergence([]*types.DataContainer{goal, nonGoal}, 0.05, 0.05, false, 1)
	assert.True(t, ok, "non-goal metric should not block overall convergence")

	goal2 := container(true, []float64{5, 5, 5})
	nonGoal2 := container(false, []float64{1, 1000, -50, 2000})
	ok2 := CheckConvergence([]*types.DataContainer{goal2, nonGoal2}, 0.05, 0.05, true, 1)
	assert.False(t, ok2, "convergeAll requires every metric to converge")
}

func TestCheckConvergenceTightSamplesConverge(t *testing.T) {
	data := []float64{100.1, 100.2, 99.9, 100.0, 100.05, 99.95, 100.1, 99.9, 100.0, 100.0}
	c := container(true, data)
	ok := CheckConvergence([]*types.DataContainer{c}, 0.05, 0.05, false, 10)
	assert.True(t, ok)
}
