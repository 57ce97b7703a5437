package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SharkGamerZ/CRAB/pkg/experiment"
	"github.com/SharkGamerZ/CRAB/pkg/log"
	"github.com/SharkGamerZ/CRAB/pkg/persist"
	"github.com/SharkGamerZ/CRAB/pkg/wlmanager"
)

// interExperimentGrace bounds the teardown pause enforced between
// experiments, per spec.md §4.8's "short grace period and full teardown".
const interExperimentGrace = 500 * time.Millisecond

// WorkerOptions configures one worker invocation.
type WorkerOptions struct {
	WorkDir string
}

// Worker restores the orchestrator-resolved environment, allocates the
// job's nodes, and runs every configured experiment in sorted id order.
// Grounded on engine.py's Engine._run_worker.
type Worker struct {
	opts   WorkerOptions
	logger zerolog.Logger
}

func NewWorker(opts WorkerOptions) *Worker {
	return &Worker{opts: opts, logger: log.WithComponent("worker")}
}

// Run executes every experiment in the workdir's config.json, persisting
// results per experiment. It restores the pre-existing process environment
// on return regardless of outcome.
func (w *Worker) Run(ctx context.Context) error {
	cfg, environment, err := w.loadInputs()
	if err != nil {
		return err
	}

	restore := applyEnvironment(environment)
	defer restore()

	nodeList, err := discoverNodeList(os.Getenv("SLURM_NODELIST"))
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	adapter, err := wlmanager.Select(os.Getenv("CRAB_WL_MANAGER"))
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	experimentIDs := make([]string, 0, len(cfg.Experiments))
	for id := range cfg.Experiments {
		experimentIDs = append(experimentIDs, id)
	}
	sort.Strings(experimentIDs)

	format := persist.Format(cfg.GlobalOptions.OutFormat)

	for i, id := range experimentIDs {
		logger := log.WithExperiment(id)
		logger.Info().Msg("starting experiment")

		runner := experiment.NewRunner(id, nodeList, cfg.Experiments[id], cfg.GlobalOptions.experimentOptions(), adapter)
		if err := runner.Setup(); err != nil {
			logger.Error().Err(err).Msg("experiment setup failed, skipping")
			continue
		}

		if err := runner.Execute(ctx); err != nil {
			logger.Error().Err(err).Msg("experiment execution failed")
		}
		runner.Teardown()

		pathPrefix := filepath.Join(w.opts.WorkDir, id, "data")
		for appID, containers := range runner.Containers() {
			if err := persist.WriteAppData(format, pathPrefix, appID, containers); err != nil {
				logger.Error().Err(err).Int("app_id", appID).Msg("failed to persist app data")
			}
		}

		if i < len(experimentIDs)-1 {
			time.Sleep(interExperimentGrace)
		}
	}

	return nil
}

func (w *Worker) loadInputs() (Config, map[string]string, error) {
	var cfg Config
	cfgData, err := os.ReadFile(filepath.Join(w.opts.WorkDir, "config.json"))
	if err != nil {
		return cfg, nil, fmt.Errorf("worker: read config.json: %w", err)
	}
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		return cfg, nil, fmt.Errorf("worker: parse config.json: %w", err)
	}

	envData, err := os.ReadFile(filepath.Join(w.opts.WorkDir, "environment.json"))
	if err != nil {
		return cfg, nil, fmt.Errorf("worker: read environment.json: %w", err)
	}
	var environment map[string]string
	if err := json.Unmarshal(envData, &environment); err != nil {
		return cfg, nil, fmt.Errorf("worker: parse environment.json: %w", err)
	}

	return cfg, environment, nil
}

// applyEnvironment mutates the process environment with the given map and
// returns a function that restores the prior values, per spec.md §5: "the
// process environment is mutated only in worker mode at entry and restored
// at exit."
func applyEnvironment(environment map[string]string) func() {
	original := os.Environ()
	for k, v := range environment {
		os.Setenv(k, v)
	}
	return func() {
		os.Clearenv()
		for _, kv := range original {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				os.Setenv(parts[0], parts[1])
			}
		}
	}
}

// discoverNodeList expands a SLURM hostlist expression (e.g.
// "node[01-04]") via `scontrol show hostnames`, one hostname per line.
func discoverNodeList(nodelist string) ([]string, error) {
	if nodelist == "" {
		return nil, fmt.Errorf("SLURM_NODELIST is not set")
	}
	out, err := exec.Command("scontrol", "show", "hostnames", nodelist).Output()
	if err != nil {
		return nil, fmt.Errorf("scontrol show hostnames: %w", err)
	}
	var nodes []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			nodes = append(nodes, line)
		}
	}
	return nodes, nil
}
