package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SharkGamerZ/CRAB/pkg/log"
	"github.com/SharkGamerZ/CRAB/pkg/persist"
)

// OrchestratorOptions configures one orchestrator invocation.
type OrchestratorOptions struct {
	ConfigPath string
	PresetName string
	WorkDir    string // directory containing presets.json and .env, defaults to cwd
	Executable string // path to this program, for the worker re-invocation line
}

// Orchestrator validates a config, stages a results directory, and submits
// a job-manager script that re-invokes this program in worker mode.
// Grounded on engine.py's Engine._run_orchestrator.
type Orchestrator struct {
	opts   OrchestratorOptions
	logger zerolog.Logger
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	return &Orchestrator{opts: opts, logger: log.WithComponent("orchestrator")}
}

// Run validates the config, resolves the environment, creates a unique
// timestamped results directory, writes config.json/environment.json and
// crab_job.sh into it, appends a description.csv row, and submits the
// script via sbatch. Returns the results directory path.
func (o *Orchestrator) Run() (string, error) {
	cfgData, err := os.ReadFile(o.opts.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("orchestrator: read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		return "", fmt.Errorf("orchestrator: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}

	presetName, err := SelectPresetName(o.opts.PresetName, filepath.Join(o.opts.WorkDir, ".env"))
	if err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}
	presets, err := LoadPresets(presetsPath(o.opts.WorkDir))
	if err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}
	environment, err := ResolveEnvironment(presets, presetName)
	if err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}

	resultsDir, err := o.createResultsDir(cfg, environment)
	if err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(resultsDir, "config.json"), cfg); err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}
	if err := writeJSON(filepath.Join(resultsDir, "environment.json"), environment); err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}

	scriptPath, err := o.writeJobScript(cfg, presets[presetName], presets["_common"], resultsDir, environment)
	if err != nil {
		return "", err
	}

	if err := persist.AppendDescriptionRow(filepath.Join(cfg.GlobalOptions.DataPath, "description.csv"), persist.DescriptionRow{
		System:   environment["CRAB_SYSTEM"],
		NumNodes: cfg.GlobalOptions.NumNodes,
		Extra:    cfg.GlobalOptions.ExtraInfo,
		Path:     resultsDir,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}

	if err := o.submit(scriptPath); err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}

	o.logger.Info().Str("results_dir", resultsDir).Msg("job submitted")
	return resultsDir, nil
}

// createResultsDir names the directory after the system and a
// human-readable timestamp, with a random suffix guaranteeing uniqueness
// even if two jobs are submitted within the same microsecond.
func (o *Orchestrator) createResultsDir(cfg Config, environment map[string]string) (string, error) {
	system := environment["CRAB_SYSTEM"]
	if system == "" {
		system = "unknown"
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("orchestrator: could not create a unique results directory within 10s")
		}
		runID := fmt.Sprintf("%s/%s_%s", system, time.Now().Format("2006-01-02_15-04-05.000000"), uuid.NewString()[:8])
		dir := filepath.Join(cfg.GlobalOptions.DataPath, runID)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			if _, statErr := os.Stat(dir); statErr == nil {
				return dir, nil
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (o *Orchestrator) writeJobScript(cfg Config, preset, common Preset, resultsDir string, environment map[string]string) (string, error) {
	scriptPath := filepath.Join(resultsDir, "crab_job.sh")

	merged, skipped := MergeSbatchDirectives(append(append([]string(nil), common.Sbatch...), preset.Sbatch...), cfg.GlobalOptions.SbatchDirectives)
	for _, s := range skipped {
		o.logger.Warn().Str("directive", s).Msg("skipping protected or unsafe sbatch directive")
	}

	executable := o.opts.Executable
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			executable = "crab"
		}
	}

	f, err := os.Create(scriptPath)
	if err != nil {
		return "", fmt.Errorf("orchestrator: create job script: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "#!/bin/bash")
	fmt.Fprintln(f)
	fmt.Fprintf(f, "#SBATCH --job-name=crab_%.10s\n", cfg.GlobalOptions.ExtraInfo)
	fmt.Fprintf(f, "#SBATCH --output=%s\n", filepath.Join(resultsDir, "slurm_output.log"))
	fmt.Fprintf(f, "#SBATCH --error=%s\n", filepath.Join(resultsDir, "slurm_error.log"))
	fmt.Fprintf(f, "#SBATCH --nodes=%d\n", cfg.GlobalOptions.NumNodes)
	fmt.Fprintf(f, "#SBATCH --ntasks-per-node=%d\n", cfg.GlobalOptions.PPN)
	if cfg.GlobalOptions.Walltime != "" {
		fmt.Fprintf(f, "#SBATCH --time=%s\n", cfg.GlobalOptions.Walltime)
	}
	for _, d := range merged {
		fmt.Fprintf(f, "#SBATCH %s\n", d)
	}
	fmt.Fprintln(f)
	for _, line := range common.Header {
		fmt.Fprintln(f, line)
	}
	for _, line := range preset.Header {
		fmt.Fprintln(f, line)
	}
	fmt.Fprintln(f)
	fmt.Fprintf(f, "%s run --worker --workdir %s\n", executable, resultsDir)

	return scriptPath, nil
}

func (o *Orchestrator) submit(scriptPath string) error {
	if _, err := exec.LookPath("sbatch"); err != nil {
		o.logger.Warn().Str("script", scriptPath).Msg("sbatch not found on PATH, job script written but not submitted")
		return nil
	}
	out, err := exec.Command("sbatch", scriptPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sbatch submission failed: %w: %s", err, out)
	}
	o.logger.Info().Str("output", string(out)).Msg("sbatch submission")
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
