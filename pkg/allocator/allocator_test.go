package allocator

import (
	"math/rand/v2"
	"testing"

	"github.com/SharkGamerZ/CRAB/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustApp(t *testing.T, id int, spec types.AppSpec) *types.AppInstance {
	t.Helper()
	parsed, err := types.ParseAppSpec(id, spec)
	require.NoError(t, err)
	return &types.AppInstance{Parsed: parsed}
}

func nodes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "node" + string(rune('0'+i))
	}
	return out
}

func TestAbsSplitEqual(t *testing.T) {
	counts, err := AbsSplit("e", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 4}, counts)

	var sum int
	for _, c := range counts {
		sum += c
	}
	assert.Equal(t, 10, sum)
}

func TestAbsSplitPercentages(t *testing.T) {
	counts, err := AbsSplit("50:50", 2, 8)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, counts)
}

func TestAbsSplitRejectsOverTotal(t *testing.T) {
	_, err := AbsSplit("60:60", 2, 10)
	assert.Error(t, err)
}

func TestAbsSplitRejectsTooFewEntries(t *testing.T) {
	_, err := AbsSplit("100", 2, 10)
	assert.Error(t, err)
}

func TestAbsSplitTruncatesExtraEntries(t *testing.T) {
	counts, err := AbsSplit("50:30:20", 2, 10)
	require.NoError(t, err)
	assert.Len(t, counts, 2)
}

func TestLinearAllocateSingleNodeSingleApp(t *testing.T) {
	app := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	apps := []*types.AppInstance{app}
	require.NoError(t, LinearAllocate([]string{"node0"}, apps, "e"))
	assert.Equal(t, []string{"node0"}, app.Nodes)
}

func TestInterleavedAllocateSingleNodeSingleApp(t *testing.T) {
	app := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	apps := []*types.AppInstance{app}
	require.NoError(t, InterleavedAllocate([]string{"node0"}, apps, "e"))
	assert.Equal(t, []string{"node0"}, app.Nodes)
}

func TestInterleavedAllocateTwoAppsEightNodes(t *testing.T) {
	app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	app1 := mustApp(t, 1, types.AppSpec{Start: "0", End: ""})
	apps := []*types.AppInstance{app0, app1}
	require.NoError(t, InterleavedAllocate(nodes(8), apps, "50:50"))
	assert.Equal(t, []string{"node0", "node2", "node4", "node6"}, app0.Nodes)
	assert.Equal(t, []string{"node1", "node3", "node5", "node7"}, app1.Nodes)
}

func TestAllocatedNodesAreDisjointForLinearAndInterleaved(t *testing.T) {
	for _, mode := range []Mode{ModeLinear, ModeInterleaved} {
		app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
		app1 := mustApp(t, 1, types.AppSpec{Start: "0", End: ""})
		apps := []*types.AppInstance{app0, app1}
		require.NoError(t, Allocate(nodes(6), apps, Options{Mode: mode, AllocationSplit: "e"}))

		seen := make(map[string]bool)
		for _, app := range apps {
			for _, n := range app.Nodes {
				assert.False(t, seen[n], "node %s assigned to more than one app", n)
				seen[n] = true
			}
		}
		assert.Len(t, seen, 6)
	}
}

func TestCustomAllocateRequiresMatchingColumns(t *testing.T) {
	app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	err := CustomAllocate([][]string{{"a"}, {"b"}}, []*types.AppInstance{app0})
	assert.Error(t, err)
}

func TestCustomAllocateFiltersEmptyEntries(t *testing.T) {
	app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	require.NoError(t, CustomAllocate([][]string{{"a", "", "b"}}, []*types.AppInstance{app0}))
	assert.Equal(t, []string{"a", "b"}, app0.Nodes)
}

func TestPartitionedAllocateSharedAndDedicated(t *testing.T) {
	// scenario 3 from spec.md §8: 8 nodes, partitionsplit=50:50, layout=i,
	// apps 0 and 1 share partition 0, app 2 owns partition 1 exclusively.
	app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	app1 := mustApp(t, 1, types.AppSpec{Start: "5", End: ""})
	app2 := mustApp(t, 2, types.AppSpec{Start: "0", End: ""})
	app0.Parsed.PartitionID = 0
	app1.Parsed.PartitionID = 0
	app2.Parsed.PartitionID = 1

	apps := []*types.AppInstance{app0, app1, app2}
	err := PartitionedAllocate(nodes(8), apps, Options{
		PartitionSplit:  "50:50",
		PartitionLayout: "i",
		AllocationSplit: "100,e",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"node0", "node2", "node4", "node6"}, app0.Nodes)
	assert.Equal(t, app0.Nodes, app1.Nodes)
	assert.Equal(t, []string{"node1", "node3", "node5", "node7"}, app2.Nodes)
}

func TestPartitionedAllocateSharedModeRejectsTwoAbsoluteStarters(t *testing.T) {
	app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	app1 := mustApp(t, 1, types.AppSpec{Start: "0", End: ""})
	app0.Parsed.PartitionID = 0
	app1.Parsed.PartitionID = 0

	err := PartitionedAllocate(nodes(4), []*types.AppInstance{app0, app1}, Options{
		PartitionSplit:  "e",
		PartitionLayout: "l",
		AllocationSplit: "100",
	})
	assert.Error(t, err)
}

func TestPartitionedAllocateSharedModeAllowsDistinctAbsoluteStarts(t *testing.T) {
	// boundary behavior: start=0 and start=5 are distinct timestamps, so two
	// absolute starters in one shared partition do not race and are allowed.
	app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	app1 := mustApp(t, 1, types.AppSpec{Start: "5", End: ""})
	app0.Parsed.PartitionID = 0
	app1.Parsed.PartitionID = 0

	err := PartitionedAllocate(nodes(4), []*types.AppInstance{app0, app1}, Options{
		PartitionSplit:  "e",
		PartitionLayout: "l",
		AllocationSplit: "100",
	})
	assert.NoError(t, err)
}

func TestReshuffleIsDeterministicWithSeededSource(t *testing.T) {
	app0 := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	r1 := rand.New(rand.NewPCG(1, 2))
	require.NoError(t, Allocate(nodes(4), []*types.AppInstance{app0}, Options{Mode: ModeRandom, AllocationSplit: "e", Rand: r1}))
	first := append([]string(nil), app0.Nodes...)

	app0b := mustApp(t, 0, types.AppSpec{Start: "0", End: ""})
	r2 := rand.New(rand.NewPCG(1, 2))
	require.NoError(t, Allocate(nodes(4), []*types.AppInstance{app0b}, Options{Mode: ModeRandom, AllocationSplit: "e", Rand: r2}))
	assert.Equal(t, first, app0b.Nodes)
}
