package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

func sampleContainers() []*types.DataContainer {
	c := &types.DataContainer{
		AppID:   0,
		Metric:  types.MetricDescriptor{Name: "Avg-Duration", Unit: "us", ConvergenceGoal: true},
		MsgSize: 64,
	}
	c.Append([]float64{1, 2})
	c.Append([]float64{3, 4})
	return []*types.DataContainer{c}
}

func TestWriteAppDataCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "data")

	err := WriteAppData(FormatCSV, prefix, 0, sampleContainers())
	require.NoError(t, err)

	content, err := os.ReadFile(prefix + "_app_0.csv")
	require.NoError(t, err)

	text := string(content)
	assert.Contains(t, text, "run_id,msg_size,0_Avg-Duration_us")
	assert.Contains(t, text, "1,64,1")
	assert.Contains(t, text, "2,64,3")
}

func TestWriteAppDataHDFRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "data")

	err := WriteAppData(FormatHDF, prefix, 0, sampleContainers())
	require.NoError(t, err)

	header, rows, err := ReadHDF(prefix + "_app_0.h5")
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", "msg_size", "0_Avg-Duration_us"}, header)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"1", "64", "1"}, rows[0])
}

func TestAppendDescriptionRowWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "description.csv")

	require.NoError(t, AppendDescriptionRow(path, DescriptionRow{System: "leonardo", NumNodes: 4, Extra: "run1", Path: "/data/run1"}))
	require.NoError(t, AppendDescriptionRow(path, DescriptionRow{System: "leonardo", NumNodes: 8, Extra: "run2", Path: "/data/run2"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(string(content))
	require.Len(t, lines, 3)
	assert.Equal(t, "system,numnodes,extra,path", lines[0])
	assert.Contains(t, lines[1], "leonardo,4,run1,/data/run1")
	assert.Contains(t, lines[2], "leonardo,8,run2,/data/run2")
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
