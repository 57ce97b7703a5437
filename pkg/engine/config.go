// Package engine implements CRAB's two-phase orchestrator/worker lifecycle:
// the orchestrator validates a benchmark config, writes a timestamped
// results directory and a job-manager submission script, and submits it;
// the worker restores the serialized environment, allocates the job's
// nodes, and runs each configured experiment in turn. Grounded on
// original_source/src/crab/core/engine.py's Engine.run/_run_orchestrator/
// _run_worker split and on the teacher's Config/NewX lifecycle shape
// (pkg/manager, pkg/worker).
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/SharkGamerZ/CRAB/pkg/allocator"
	"github.com/SharkGamerZ/CRAB/pkg/experiment"
	"github.com/SharkGamerZ/CRAB/pkg/types"
)

// GlobalOptions mirrors Config JSON's global_options object, spec.md §6.
type GlobalOptions struct {
	NumNodes        int     `json:"numnodes"`
	PPN             int     `json:"ppn"`
	AllocationMode  string  `json:"allocationmode"`
	AllocationSplit string  `json:"allocationsplit"`
	PartitionSplit  string  `json:"partitionsplit"`
	PartitionLayout string  `json:"partitionlayout"`
	MinRuns         int     `json:"minruns"`
	MaxRuns         int     `json:"maxruns"`
	Timeout         float64 `json:"timeout"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	ConvergeAll     bool    `json:"convergeall"`
	OutFormat       string  `json:"outformat"`
	DataPath        string  `json:"datapath"`
	ExtraInfo       string  `json:"extrainfo"`
	ReplaceMixArgs  string  `json:"replace_mix_args"`
	Walltime        string  `json:"walltime"`
	SbatchDirectives []string `json:"sbatch_directives"`
	Seed            uint64  `json:"seed"`
}

// Config is the full benchmark configuration, JSON field names unchanged
// from spec.md §6. Either "experiments" (a named set of app sets) or the
// flat "applications" (a single default experiment) may be present.
type Config struct {
	GlobalOptions GlobalOptions                      `json:"global_options"`
	Experiments   map[string]map[string]types.AppSpec `json:"experiments,omitempty"`
	Applications  map[string]types.AppSpec            `json:"applications,omitempty"`
}

// UnmarshalJSON wraps a bare "applications" object into a single default
// experiment, per spec.md §6: "If applications is present and experiments
// is not, wrap it in a single default experiment."
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Config(a)
	if len(c.Experiments) == 0 && len(c.Applications) > 0 {
		c.Experiments = map[string]map[string]types.AppSpec{"default": c.Applications}
	}
	c.Applications = nil
	return nil
}

// Validate checks the subset of spec.md §7's configuration errors that are
// detectable before any experiment's Setup runs.
func (c *Config) Validate() error {
	if c.GlobalOptions.NumNodes <= 0 {
		return fmt.Errorf("engine: global_options.numnodes must be positive")
	}
	if c.GlobalOptions.PPN <= 0 {
		return fmt.Errorf("engine: global_options.ppn must be positive")
	}
	if len(c.Experiments) == 0 {
		return fmt.Errorf("engine: config has no experiments or applications")
	}
	switch allocator.Mode(c.GlobalOptions.AllocationMode) {
	case allocator.ModeLinear, allocator.ModeInterleaved, allocator.ModeCustom,
		allocator.ModeRandom, allocator.ModeReshuffle, allocator.ModePartitioned:
	default:
		return fmt.Errorf("engine: unknown allocationmode %q", c.GlobalOptions.AllocationMode)
	}
	return nil
}

// experimentOptions projects the shared GlobalOptions into per-experiment
// Options consumed by experiment.Runner.
func (g GlobalOptions) experimentOptions() experiment.Options {
	return experiment.Options{
		NumNodes:        g.NumNodes,
		PPN:             g.PPN,
		AllocationMode:  allocator.Mode(g.AllocationMode),
		AllocationSplit: g.AllocationSplit,
		PartitionSplit:  g.PartitionSplit,
		PartitionLayout: g.PartitionLayout,
		MinRuns:         g.MinRuns,
		MaxRuns:         g.MaxRuns,
		Timeout:         time.Duration(g.Timeout * float64(time.Second)),
		Alpha:           g.Alpha,
		Beta:            g.Beta,
		ConvergeAll:     g.ConvergeAll,
		Seed:            g.Seed,
	}
}
