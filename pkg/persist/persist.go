// Package persist writes per-application metric data and the top-level
// experiment ledger to disk, in either CSV or a gob-encoded "hdf" fallback
// format. Grounded on original_source/src/crab/core/engine.py's
// log_data/log_meta_data, restructured around Go's encoding/csv instead of
// pandas' DataFrame-merge approach.
package persist

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

// Format selects the on-disk encoding for per-app metric data.
type Format string

const (
	FormatCSV Format = "csv"
	FormatHDF Format = "hdf"
)

// WriteAppData writes one app's data containers to
// <pathPrefix>_app_<id>.{csv|h5}, with columns run_id, msg_size, then one
// column per metric title ("<app_id>_<metric_name>_<unit>"), rows ordered
// by run then by within-run sample index, exactly as spec.md §6.
func WriteAppData(format Format, pathPrefix string, appID int, containers []*types.DataContainer) error {
	if len(containers) == 0 {
		return nil
	}

	header, rows := buildRows(appID, containers)

	switch format {
	case FormatHDF:
		return writeHDF(fmt.Sprintf("%s_app_%d.h5", pathPrefix, appID), header, rows)
	default:
		return writeCSV(fmt.Sprintf("%s_app_%d.csv", pathPrefix, appID), header, rows)
	}
}

// buildRows flattens containers into a run_id/msg_size/metric-columns table.
// Within a run, a metric contributes as many rows as its num_samples[run]
// entry; metrics with fewer samples in a given run leave the remaining
// cells blank ("") rather than guessing a fill value — series length may
// legitimately vary between metrics of the same wrapper (spec.md §4.2).
func buildRows(appID int, containers []*types.DataContainer) ([]string, [][]string) {
	header := []string{"run_id", "msg_size"}
	for _, c := range containers {
		header = append(header, c.Title())
	}

	numRuns := 0
	for _, c := range containers {
		if len(c.NumSamples) > numRuns {
			numRuns = len(c.NumSamples)
		}
	}

	offsets := make([]int, len(containers))
	var rows [][]string
	for run := 0; run < numRuns; run++ {
		rowsInRun := 0
		for _, c := range containers {
			if run < len(c.NumSamples) && c.NumSamples[run] > rowsInRun {
				rowsInRun = c.NumSamples[run]
			}
		}
		for sampleIdx := 0; sampleIdx < rowsInRun; sampleIdx++ {
			row := make([]string, len(header))
			row[0] = strconv.Itoa(run + 1)
			row[1] = strconv.Itoa(firstMsgSize(containers))
			for i, c := range containers {
				val := ""
				if run < len(c.NumSamples) && sampleIdx < c.NumSamples[run] {
					val = strconv.FormatFloat(c.Data[offsets[i]+sampleIdx], 'g', -1, 64)
				}
				row[2+i] = val
			}
			rows = append(rows, row)
		}
		for i, c := range containers {
			if run < len(c.NumSamples) {
				offsets[i] += c.NumSamples[run]
			}
		}
	}
	return header, rows
}

func firstMsgSize(containers []*types.DataContainer) int {
	if len(containers) == 0 {
		return 0
	}
	return containers[0].MsgSize
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("persist: write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("persist: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// DescriptionRow is one append-only line of the top-level experiment
// ledger, columns exactly as spec.md §6: system, numnodes, extra, path.
type DescriptionRow struct {
	System   string
	NumNodes int
	Extra    string
	Path     string
}

// AppendDescriptionRow opens the ledger with O_APPEND|O_CREATE semantics
// and appends one row, writing the header first if the file is new. No
// file lock is taken: spec.md's non-goals exclude a remote daemon, so a
// single orchestrator process is the only writer.
func AppendDescriptionRow(path string, row DescriptionRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("persist: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write([]string{"system", "numnodes", "extra", "path"}); err != nil {
			return fmt.Errorf("persist: write header: %w", err)
		}
	}
	if err := w.Write([]string{row.System, strconv.Itoa(row.NumNodes), row.Extra, row.Path}); err != nil {
		return fmt.Errorf("persist: write row: %w", err)
	}
	w.Flush()
	return w.Error()
}
