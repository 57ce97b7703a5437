package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Preset is one entry of presets.json: environment overrides plus
// job-manager directive fragments, merged on top of "_common".
type Preset struct {
	Env    map[string]string `json:"env"`
	Sbatch []string          `json:"sbatch"`
	Header []string          `json:"header"`
}

// protectedDirectiveKeys are framework-managed sbatch keys a user directive
// must never override — spec.md §6's preset-merge contract.
var protectedDirectiveKeys = map[string]bool{
	"--nodes": true, "-N": true,
	"--ntasks-per-node": true, "-n": true,
}

// LoadPresets reads presets.json and returns its raw preset table.
func LoadPresets(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read presets file %s: %w", path, err)
	}
	var presets map[string]Preset
	if err := json.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("engine: parse presets file %s: %w", path, err)
	}
	return presets, nil
}

// SelectPresetName resolves which preset to use: an explicit --preset flag
// wins; otherwise a ".env" file in the working directory is consulted: its
// CRAB_PRESET key (read via joho/godotenv) names the preset, and when the
// file has no such key or is not a dotenv key=value file, its first line is
// taken as a bare preset name; "local" is the final fallback.
func SelectPresetName(explicit, envFilePath string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if _, err := os.Stat(envFilePath); err == nil {
		if vars, err := godotenv.Read(envFilePath); err == nil {
			if name, ok := vars["CRAB_PRESET"]; ok && name != "" {
				return name, nil
			}
		}
		// Fall back to treating the file's first line as a bare preset name.
		raw, err := os.ReadFile(envFilePath)
		if err == nil {
			if name := strings.TrimSpace(strings.SplitN(string(raw), "\n", 2)[0]); name != "" {
				return name, nil
			}
		}
	}
	return "local", nil
}

// ResolveEnvironment merges "_common" with the named preset, substitutes
// __CWD__ in every string value (exactly as prepare_execution_environment
// in the original), then expands any $VAR references against the merged
// map itself using os.Expand.
func ResolveEnvironment(presets map[string]Preset, name string) (map[string]string, error) {
	preset, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("engine: preset %q not found", name)
	}

	merged := map[string]string{}
	if common, ok := presets["_common"]; ok {
		for k, v := range common.Env {
			merged[k] = v
		}
	}
	for k, v := range preset.Env {
		merged[k] = v
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("engine: getwd: %w", err)
	}
	for k, v := range merged {
		merged[k] = strings.ReplaceAll(v, "__CWD__", cwd)
	}
	for k, v := range merged {
		merged[k] = os.Expand(v, func(key string) string { return merged[key] })
	}
	if _, ok := merged["CRAB_SYSTEM"]; !ok {
		merged["CRAB_SYSTEM"] = name
	}
	return merged, nil
}

// MergeSbatchDirectives appends userDirectives on top of base, skipping any
// directive containing a newline (injection guard) or that would override
// a framework-managed key; skipped directives are returned alongside the
// merged list so the caller can log them as warnings (spec.md §7).
func MergeSbatchDirectives(base []string, userDirectives []string) (merged []string, skipped []string) {
	merged = append(merged, base...)
	for _, d := range userDirectives {
		if strings.ContainsAny(d, "\n\r") {
			skipped = append(skipped, d)
			continue
		}
		key := strings.TrimSpace(strings.SplitN(strings.TrimPrefix(d, "#SBATCH "), "=", 2)[0])
		fields := strings.Fields(key)
		if len(fields) == 0 {
			skipped = append(skipped, d)
			continue
		}
		key = fields[0]
		if protectedDirectiveKeys[key] {
			skipped = append(skipped, d)
			continue
		}
		merged = append(merged, d)
	}
	return merged, skipped
}

func presetsPath(dir string) string {
	return filepath.Join(dir, "presets.json")
}
