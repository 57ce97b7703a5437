package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppSpecAbsoluteAwait(t *testing.T) {
	app, err := ParseAppSpec(0, AppSpec{Path: "pingpong", Collect: true, Start: "0", End: ""})
	require.NoError(t, err)
	assert.Equal(t, StartAbsolute, app.Start.Kind)
	assert.Equal(t, 0.0, app.Start.Seconds)
	assert.Equal(t, EndAwait, app.End.Kind)
	assert.Equal(t, 0, app.PartitionID)
}

func TestParseAppSpecDependencyDuration(t *testing.T) {
	app, err := ParseAppSpec(1, AppSpec{Path: "pingpong", Start: "s0", End: "3"})
	require.NoError(t, err)
	assert.Equal(t, StartAfter, app.Start.Kind)
	assert.Equal(t, 0, app.Start.TargetID)
	assert.Equal(t, EndDuration, app.End.Kind)
	assert.Equal(t, 3.0, app.End.Seconds)
	assert.Equal(t, 1, app.PartitionID)
}

func TestParseAppSpecAbsoluteDeadline(t *testing.T) {
	app, err := ParseAppSpec(0, AppSpec{Path: "incast", Start: "0", End: "5"})
	require.NoError(t, err)
	assert.Equal(t, EndDeadline, app.End.Kind)
}

func TestParseAppSpecDependencyWithForcedEndIsFatal(t *testing.T) {
	_, err := ParseAppSpec(1, AppSpec{Path: "pingpong", Start: "s0", End: "f"})
	require.Error(t, err)
}

func TestParseAppSpecExplicitPartitionOverridesDefault(t *testing.T) {
	p := 7
	app, err := ParseAppSpec(0, AppSpec{Path: "pingpong", Collect: true, Start: "0", End: "", Partition: &p})
	require.NoError(t, err)
	assert.Equal(t, 7, app.PartitionID)
}

func TestParseAppSpecInvalidStart(t *testing.T) {
	_, err := ParseAppSpec(0, AppSpec{Start: "not-a-number", End: ""})
	require.Error(t, err)
}

func TestDataContainerAppendTracksNumSamples(t *testing.T) {
	d := &DataContainer{AppID: 0, Metric: MetricDescriptor{Name: "Avg-Duration", Unit: "us"}}
	d.Append([]float64{1, 2, 3})
	d.Append([]float64{4})
	assert.Equal(t, []float64{1, 2, 3, 4}, d.Data)
	assert.Equal(t, []int{3, 1}, d.NumSamples)
	assert.Equal(t, "0_Avg-Duration_us", d.Title())
}

func TestNewRunContextCopiesDependencyMap(t *testing.T) {
	deps := DependencyMap{1: 0}
	rc := NewRunContext(deps)
	rc.RemainingDependencies[2] = 1
	assert.Len(t, deps, 1, "mutating the run context must not mutate the canonical map")
}
