package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SharkGamerZ/CRAB/pkg/engine"
	"github.com/SharkGamerZ/CRAB/pkg/log"
	"github.com/SharkGamerZ/CRAB/pkg/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crab",
	Short: "CRAB - Configurable Runner for Application Benchmarking",
	Long: `CRAB drives multi-application HPC benchmark runs across a job
manager's allocation: an orchestrator stages results and submits a job,
and a worker re-invocation executes the configured experiments and
persists their measurements.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("crab version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	viper.SetEnvPrefix("CRAB")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(viper.GetString("log-level")),
		JSONOutput: viper.GetBool("log-json"),
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a benchmark job, or execute it in worker mode",
	Long: `Without --worker, validates the given config and submits a job
to the job manager (the orchestrator role). With --worker, restores the
environment written by the orchestrator and runs the configured
experiments against the allocated nodes (the worker role). The worker
role is invoked automatically by the generated job script; it is not
meant to be run directly by a human.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, _ := cmd.Flags().GetBool("worker")
		workDir, _ := cmd.Flags().GetString("workdir")
		metricsPort, _ := cmd.Flags().GetInt("metrics-port")

		if worker {
			return runWorker(cmd.Context(), workDir, metricsPort)
		}
		return runOrchestrator(cmd, workDir)
	},
}

func init() {
	runCmd.Flags().StringP("config", "c", "crab_config.json", "Path to the benchmark config file")
	runCmd.Flags().StringP("preset", "p", "", "Preset name; defaults to CRAB_PRESET in workdir's .env, else \"local\"")
	runCmd.Flags().Bool("worker", false, "Run in worker mode (invoked by the generated job script)")
	runCmd.Flags().String("workdir", ".", "Working directory: presets.json/.env for the orchestrator, or a results directory for the worker")
	runCmd.Flags().Int("metrics-port", 0, "If nonzero, serve Prometheus metrics on this port while running")
}

func runOrchestrator(cmd *cobra.Command, workDir string) error {
	configPath, _ := cmd.Flags().GetString("config")
	presetName, _ := cmd.Flags().GetString("preset")

	executable, err := os.Executable()
	if err != nil {
		executable = "crab"
	}

	orch := engine.NewOrchestrator(engine.OrchestratorOptions{
		ConfigPath: configPath,
		PresetName: presetName,
		WorkDir:    workDir,
		Executable: executable,
	})

	resultsDir, err := orch.Run()
	if err != nil {
		return err
	}
	fmt.Printf("Job submitted. Results directory: %s\n", resultsDir)
	return nil
}

func runWorker(ctx context.Context, workDir string, metricsPort int) error {
	metrics.SetVersion(Version)
	metrics.RegisterComponent("worker", true, "running")

	if metricsPort != 0 {
		go serveMetrics(metricsPort)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := engine.NewWorker(engine.WorkerOptions{WorkDir: workDir})
	if err := w.Run(ctx); err != nil {
		metrics.RegisterComponent("worker", false, err.Error())
		return err
	}
	metrics.RegisterComponent("worker", true, "finished")
	return nil
}

func serveMetrics(port int) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	log.Logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Warn().Err(err).Msg("metrics server stopped")
	}
}
