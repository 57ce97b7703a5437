// Package allocator maps a node list and a set of applications to per-app
// node assignments under one of CRAB's allocation policies: linear,
// interleaved, random/reshuffle, custom, and partitioned. Every function
// here is pure and deterministic given its inputs (including the random
// source passed in Options).
package allocator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

// Mode is one of the allocation policies named in Config JSON's
// allocationmode field.
type Mode string

const (
	ModeLinear      Mode = "l"
	ModeInterleaved Mode = "i"
	ModeCustom      Mode = "c"
	ModeRandom      Mode = "r"
	ModeReshuffle   Mode = "+r"
	ModePartitioned Mode = "p"
)

// Options bundles the parameters every allocation policy needs beyond the
// raw node list and app set.
type Options struct {
	Mode            Mode
	AllocationSplit string // "e" or "p1:p2:...:pk", or comma-separated per-partition rules for Mode=p
	PartitionSplit  string // same grammar, used only for Mode=p
	PartitionLayout string // "l" or "i", used only for Mode=p
	// CustomColumns holds the per-app node lists when Mode=c.
	CustomColumns [][]string
	// Rand is the source used by Random/Reshuffle; Allocate rejects those
	// modes with a configuration error when it is nil.
	Rand *rand.Rand
}

// AbsSplit computes per-app node counts from a split spec, exactly as
// spec.md §4.3: "e" divides floor-equally with the remainder going to the
// last app; "p1:...:pk" assigns ceil(N*p_i/100) to each of the first k-1
// apps and the remainder to the last.
func AbsSplit(spec string, numApps, numNodes int) ([]int, error) {
	if spec == "e" {
		return equalSplit(numApps, numNodes), nil
	}

	parts := strings.Split(spec, ":")
	percents := make([]float64, 0, len(parts))
	var sum float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("allocator: invalid split component %q: %w", p, err)
		}
		percents = append(percents, v)
		sum += v
	}
	if sum > 100 {
		return nil, fmt.Errorf("allocator: split percentages sum to %g, exceeds 100", sum)
	}
	if len(percents) < numApps {
		return nil, fmt.Errorf("allocator: split has %d entries, fewer than %d apps", len(percents), numApps)
	}
	if len(percents) > numApps {
		percents = percents[:numApps]
	}

	counts := make([]int, numApps)
	var assigned int
	for i := 0; i < numApps-1; i++ {
		c := int(math.Ceil(float64(numNodes) * percents[i] / 100))
		counts[i] = c
		assigned += c
	}
	counts[numApps-1] = numNodes - assigned
	return counts, nil
}

func equalSplit(numApps, numNodes int) []int {
	counts := make([]int, numApps)
	if numApps == 0 {
		return counts
	}
	base := numNodes / numApps
	for i := range counts {
		counts[i] = base
	}
	counts[numApps-1] += numNodes - base*numApps
	return counts
}

// LinearAllocate assigns contiguous blocks of nodeList to apps in spec
// order, sized by AbsSplit(split, len(apps), len(nodeList)).
func LinearAllocate(nodeList []string, apps []*types.AppInstance, split string) error {
	counts, err := AbsSplit(split, len(apps), len(nodeList))
	if err != nil {
		return err
	}
	offset := 0
	for i, app := range apps {
		n := counts[i]
		if offset+n > len(nodeList) {
			return fmt.Errorf("allocator: split overruns node list for app %d", app.ID())
		}
		app.Nodes = append([]string(nil), nodeList[offset:offset+n]...)
		offset += n
	}
	return nil
}

// InterleavedAllocate round-robin deals one node at a time to apps that
// still need more, cycling app indices, until all demands (per AbsSplit)
// are met.
func InterleavedAllocate(nodeList []string, apps []*types.AppInstance, split string) error {
	counts, err := AbsSplit(split, len(apps), len(nodeList))
	if err != nil {
		return err
	}
	for _, app := range apps {
		app.Nodes = nil
	}

	idx := 0
	remaining := append([]int(nil), counts...)
	for _, n := range nodeList {
		for remaining[idx] == 0 {
			idx = (idx + 1) % len(apps)
		}
		apps[idx].Nodes = append(apps[idx].Nodes, n)
		remaining[idx]--
		idx = (idx + 1) % len(apps)
	}
	return nil
}

// CustomAllocate assigns node lists straight from a multi-column table,
// column i going to app i. Requires columns == len(apps).
func CustomAllocate(columns [][]string, apps []*types.AppInstance) error {
	if len(columns) != len(apps) {
		return fmt.Errorf("allocator: custom table has %d columns, expected %d apps", len(columns), len(apps))
	}
	for i, app := range apps {
		col := make([]string, 0, len(columns[i]))
		for _, n := range columns[i] {
			if n != "" {
				col = append(col, n)
			}
		}
		app.Nodes = col
	}
	return nil
}

// ValidateSharedMode enforces the shared-mode invariant: in shared mode,
// with more than one app, at most one app may have an absolute numeric
// start at any given timestamp (two absolute starters at the same time on
// the same node list would race). Absolute starts at distinct timestamps
// are allowed.
func ValidateSharedMode(apps []*types.AppInstance) error {
	if len(apps) <= 1 {
		return nil
	}
	startersAt := make(map[float64]int)
	for _, app := range apps {
		if app.Parsed.Start.Kind != types.StartAbsolute {
			continue
		}
		at := app.Parsed.Start.Seconds
		startersAt[at]++
		if startersAt[at] > 1 {
			return fmt.Errorf("allocator: shared-mode partition has %d absolute starters at t=%g, at most 1 allowed", startersAt[at], at)
		}
	}
	return nil
}

// reshuffle returns a copy of nodeList shuffled with the given source; a
// nil source yields an unshuffled copy. Allocate calls it only for
// Mode=r/+r, and only with a non-nil source.
func reshuffle(nodeList []string, r *rand.Rand) []string {
	cp := append([]string(nil), nodeList...)
	if r == nil {
		return cp
	}
	r.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	return cp
}

// Allocate is the single entry point dispatching on opts.Mode.
func Allocate(nodeList []string, apps []*types.AppInstance, opts Options) error {
	switch opts.Mode {
	case ModeLinear:
		return LinearAllocate(nodeList, apps, opts.AllocationSplit)
	case ModeInterleaved:
		return InterleavedAllocate(nodeList, apps, opts.AllocationSplit)
	case ModeRandom, ModeReshuffle:
		if opts.Rand == nil {
			return fmt.Errorf("allocator: mode %q requires a nonzero seed", opts.Mode)
		}
		shuffled := reshuffle(nodeList, opts.Rand)
		return LinearAllocate(shuffled, apps, opts.AllocationSplit)
	case ModeCustom:
		if len(opts.CustomColumns) != len(apps) {
			return fmt.Errorf("allocator: custom mode has %d columns, expected %d apps", len(opts.CustomColumns), len(apps))
		}
		if len(opts.CustomColumns) == 0 || len(nodeList)%len(opts.CustomColumns) != 0 {
			return fmt.Errorf("allocator: custom mode requires numnodes (%d) to be a multiple of the column count (%d)", len(nodeList), len(opts.CustomColumns))
		}
		return CustomAllocate(opts.CustomColumns, apps)
	case ModePartitioned:
		return PartitionedAllocate(nodeList, apps, opts)
	default:
		return fmt.Errorf("allocator: unknown allocation mode %q", opts.Mode)
	}
}

// PartitionedAllocate implements the two-level policy of spec.md §4.3: the
// full node set is split into partitions (PartitionSplit/PartitionLayout),
// then each partition applies a local rule (one entry of AllocationSplit,
// comma-separated, broadcast if only one rule is given) that is either
// shared mode (every app in the partition gets the whole partition) or
// dedicated/space-shared mode (a further linear AbsSplit within the
// partition).
func PartitionedAllocate(nodeList []string, apps []*types.AppInstance, opts Options) error {
	byPartition := make(map[int][]*types.AppInstance)
	maxPartition := 0
	for _, app := range apps {
		pid := app.Parsed.PartitionID
		byPartition[pid] = append(byPartition[pid], app)
		if pid > maxPartition {
			maxPartition = pid
		}
	}
	numPartitions := maxPartition + 1

	partitionCounts, err := AbsSplit(opts.PartitionSplit, numPartitions, len(nodeList))
	if err != nil {
		return fmt.Errorf("allocator: partition split: %w", err)
	}

	partitionNodes := make([][]string, numPartitions)
	switch opts.PartitionLayout {
	case "i", "":
		idx := 0
		remaining := append([]int(nil), partitionCounts...)
		for _, n := range nodeList {
			for remaining[idx] == 0 {
				idx = (idx + 1) % numPartitions
			}
			partitionNodes[idx] = append(partitionNodes[idx], n)
			remaining[idx]--
			idx = (idx + 1) % numPartitions
		}
	case "l":
		offset := 0
		for i, c := range partitionCounts {
			partitionNodes[i] = append([]string(nil), nodeList[offset:offset+c]...)
			offset += c
		}
	default:
		return fmt.Errorf("allocator: unknown partition layout %q", opts.PartitionLayout)
	}

	rules := strings.Split(opts.AllocationSplit, ",")

	for pid := 0; pid < numPartitions; pid++ {
		partApps := byPartition[pid]
		if len(partApps) == 0 {
			continue
		}
		rule := rules[0]
		if len(rules) == numPartitions {
			rule = rules[pid]
		}

		// "100" is always shared; "e" is shared only when the partition
		// has at most one app (otherwise it means an equal dedicated split).
		if rule == "100" || (rule == "e" && len(partApps) <= 1) {
			if err := ValidateSharedMode(partApps); err != nil {
				return err
			}
			for _, app := range partApps {
				app.Nodes = append([]string(nil), partitionNodes[pid]...)
			}
			continue
		}

		counts, err := AbsSplit(rule, len(partApps), len(partitionNodes[pid]))
		if err != nil {
			return fmt.Errorf("allocator: partition %d local split: %w", pid, err)
		}
		offset := 0
		for i, app := range partApps {
			n := counts[i]
			app.Nodes = append([]string(nil), partitionNodes[pid][offset:offset+n]...)
			offset += n
		}
	}
	return nil
}
