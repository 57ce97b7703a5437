package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOrchestratorFixtures(t *testing.T, dir string) string {
	t.Helper()
	presets := map[string]Preset{
		"_common": {Env: map[string]string{"CRAB_WL_MANAGER": "mpi"}},
		"local":   {Sbatch: []string{"--partition=debug"}},
	}
	data, err := json.Marshal(presets)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presets.json"), data, 0o644))

	dataPath := filepath.Join(dir, "results")
	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{
		"global_options": {"numnodes": 2, "ppn": 1, "allocationmode": "l", "datapath": "` + dataPath + `", "outformat": "csv"},
		"applications": {"0": {"path": "nulldummy", "start": "0", "end": ""}}
	}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath
}

func TestOrchestratorRunWritesResultsDirWithExpectedArtifacts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeOrchestratorFixtures(t, dir)

	orch := NewOrchestrator(OrchestratorOptions{
		ConfigPath: cfgPath,
		PresetName: "local",
		WorkDir:    dir,
		Executable: "crab",
	})

	resultsDir, err := orch.Run()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(resultsDir, "config.json"))
	assert.FileExists(t, filepath.Join(resultsDir, "environment.json"))
	assert.FileExists(t, filepath.Join(resultsDir, "crab_job.sh"))

	script, err := os.ReadFile(filepath.Join(resultsDir, "crab_job.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(script), "#SBATCH --nodes=2")
	assert.Contains(t, string(script), "#SBATCH --partition=debug")
	assert.Contains(t, string(script), "run --worker --workdir "+resultsDir)

	descPath := filepath.Join(dir, "results", "description.csv")
	assert.FileExists(t, descPath)
}

func TestOrchestratorRunRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"global_options": {"numnodes": 0}}`), 0o644))
	presets := map[string]Preset{"local": {}}
	data, _ := json.Marshal(presets)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presets.json"), data, 0o644))

	orch := NewOrchestrator(OrchestratorOptions{ConfigPath: cfgPath, PresetName: "local", WorkDir: dir})
	_, err := orch.Run()
	assert.Error(t, err)
}
