package wrapper

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

func init() {
	Register("ncclallreduce", func(args string) Wrapper {
		return &ncclAllreduce{base: base{Args: args}}
	})
}

// ncclAllreduce wraps the NCCL allreduce microbenchmark, grounded on
// wrappers/nccl-allreduce.py and wrappers/nccl_common.py. It reports both
// average duration and achieved bus bandwidth.
type ncclAllreduce struct{ base }

func (n *ncclAllreduce) Metadata() []types.MetricDescriptor {
	return []types.MetricDescriptor{
		{Name: "Avg-Duration", Unit: "us", ConvergenceGoal: true},
		{Name: "Bus-Bandwidth", Unit: "GB/s", ConvergenceGoal: false},
	}
}

func (n *ncclAllreduce) BuildCommand() string {
	path := lookPath("all_reduce_perf")
	if path == "" {
		return ""
	}
	return path + " " + n.Args
}

// ParseOutput scans the NCCL-tests style summary table, pulling time (us)
// and bus bandwidth (GB/s) columns out of each data row.
func (n *ncclAllreduce) ParseOutput(stdout string) ([][]float64, error) {
	var durations, bandwidths []float64
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// NCCL-tests rows: size count type redop root time algbw busbw ...
		if len(fields) < 8 {
			continue
		}
		dur, err1 := strconv.ParseFloat(fields[5], 64)
		busbw, err2 := strconv.ParseFloat(fields[7], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		durations = append(durations, dur)
		bandwidths = append(bandwidths, busbw)
	}
	return [][]float64{durations, bandwidths}, nil
}
