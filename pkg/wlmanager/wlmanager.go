// Package wlmanager renders the shell command that launches an application
// across a set of allocated nodes through a concrete workload manager (MPI
// or SLURM). It replaces CRAB's original dynamic-module wl_manager loading
// with a small name-keyed registry.
package wlmanager

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoNodes is returned when RenderLaunch is asked to target an empty node
// list; callers must never invoke an adapter with zero nodes.
var ErrNoNodes = errors.New("wlmanager: node list is empty")

// Adapter renders a launch command for an inner command across nodes.
type Adapter interface {
	RenderLaunch(nodes []string, ppn int, innerCommand string) (string, error)
}

// Select resolves a workload-manager name (as found in CRAB_WL_MANAGER) to a
// concrete Adapter.
func Select(name string) (Adapter, error) {
	switch strings.ToLower(name) {
	case "mpi":
		return NewMPIAdapter(os.Getenv), nil
	case "slurm":
		return NewSlurmAdapter(os.Getenv), nil
	default:
		return nil, fmt.Errorf("wlmanager: unknown workload manager %q", name)
	}
}

// EnvLookup abstracts os.Getenv so adapters can be constructed and tested
// against an explicit key-value map instead of the ambient process
// environment (see SPEC_FULL.md's note on threading the resolved
// environment explicitly through construction).
type EnvLookup func(key string) string

// MPIAdapter renders a generic MPI launch line, grounded on the original
// wl_manager's mpirun-based run_job.
type MPIAdapter struct {
	Lookup EnvLookup
}

func NewMPIAdapter(lookup EnvLookup) *MPIAdapter {
	return &MPIAdapter{Lookup: lookup}
}

func (a *MPIAdapter) RenderLaunch(nodes []string, ppn int, innerCommand string) (string, error) {
	if len(nodes) == 0 {
		return "", ErrNoNodes
	}
	if ppn <= 0 {
		return "", fmt.Errorf("wlmanager: ppn must be positive, got %d", ppn)
	}
	if innerCommand == "" {
		return "", fmt.Errorf("wlmanager: inner command is empty")
	}

	numNodes := len(nodes)
	nodeList := strings.Join(nodes, ",")
	fields := []string{
		a.Lookup("CRAB_MPIRUN"),
		a.Lookup("CRAB_MPIRUN_MAP_BY_NODE_FLAG"),
		a.Lookup("CRAB_MPIRUN_ADDITIONAL_FLAGS"),
		a.Lookup("CRAB_PINNING_FLAGS"),
		a.Lookup("CRAB_MPIRUN_HOSTNAMES_FLAG"),
		nodeList,
		"-np",
		fmt.Sprintf("%d", ppn*numNodes),
		innerCommand,
	}
	return joinNonEmpty(fields), nil
}

// SlurmAdapter renders an srun-style command, grounded on the original
// wl_manager's SLURM run_job, with an optional --partition taken from
// CRAB_SLURM_PARTITION.
type SlurmAdapter struct {
	Lookup EnvLookup
}

func NewSlurmAdapter(lookup EnvLookup) *SlurmAdapter {
	return &SlurmAdapter{Lookup: lookup}
}

func (a *SlurmAdapter) RenderLaunch(nodes []string, ppn int, innerCommand string) (string, error) {
	if len(nodes) == 0 {
		return "", ErrNoNodes
	}
	if ppn <= 0 {
		return "", fmt.Errorf("wlmanager: ppn must be positive, got %d", ppn)
	}
	if innerCommand == "" {
		return "", fmt.Errorf("wlmanager: inner command is empty")
	}

	numNodes := len(nodes)
	nodeListArg := "--nodelist " + strings.Join(nodes, ",")

	var partitionOpt string
	if partition := a.Lookup("CRAB_SLURM_PARTITION"); partition != "" {
		partitionOpt = "--partition=" + partition
	}

	fields := []string{
		"srun",
		partitionOpt,
		nodeListArg,
		a.Lookup("CRAB_PINNING_FLAGS"),
		"-n", fmt.Sprintf("%d", ppn*numNodes),
		"-N", fmt.Sprintf("%d", numNodes),
		innerCommand,
	}
	return joinNonEmpty(fields), nil
}

func joinNonEmpty(fields []string) string {
	kept := fields[:0:0]
	for _, f := range fields {
		if f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
