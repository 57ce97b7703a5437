package wrapper

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

func init() {
	Register("pingpong", func(args string) Wrapper {
		return &pingPong{base: base{Args: args}}
	})
}

// pingPong wraps an MPI ping-pong microbenchmark, grounded on
// wrappers/ember-pingpong.py and wrappers/ping-pong_b.py. It reports a
// single converging metric, the mean round-trip latency.
type pingPong struct{ base }

func (p *pingPong) Metadata() []types.MetricDescriptor {
	return []types.MetricDescriptor{{Name: "Avg-Duration", Unit: "us", ConvergenceGoal: true}}
}

func (p *pingPong) BuildCommand() string {
	path := lookPath("ember-pingpong")
	if path == "" {
		return ""
	}
	return path + " " + p.Args
}

// ParseOutput scans stdout for lines of the form "Avg Latency: <value> us"
// emitted by the ember ping-pong driver and returns one sample per line.
func (p *pingPong) ParseOutput(stdout string) ([][]float64, error) {
	var samples []float64
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := scanner.Text()
		const marker = "Avg Latency:"
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		field := strings.Fields(line[idx+len(marker):])
		if len(field) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(field[0], 64)
		if err != nil {
			continue
		}
		samples = append(samples, v)
	}
	return [][]float64{samples}, nil
}
