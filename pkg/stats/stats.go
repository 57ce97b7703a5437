// Package stats implements the statistical convergence check that drives
// the experiment runner's outer loop: for each metric, compute the sample
// mean and a Student's-t confidence interval over accumulated samples and
// compare its width against a fraction of the mean. Grounded on
// original_source/src/crab/core/engine.py's check_CI, reimplemented with
// gonum instead of numpy/scipy.
package stats

import (
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

// CheckConvergence evaluates every container in containers against the
// two-tailed (1-alpha) confidence-interval criterion with relative width
// threshold beta, marking DataContainer.Converged/ConvergenceRun as
// appropriate (monotonically: once true, Check never clears it). It
// returns whether every container that must converge has converged:
// containers with ConvergenceGoal=false are exempted unless convergeAll is
// set.
func CheckConvergence(containers []*types.DataContainer, alpha, beta float64, convergeAll bool, run int) bool {
	allConverged := true
	for _, c := range containers {
		if !c.Converged {
			evaluateContainer(c, alpha, beta, run)
		}
		mustConverge := c.Metric.ConvergenceGoal || convergeAll
		if mustConverge && !c.Converged {
			allConverged = false
		}
	}
	return allConverged
}

func evaluateContainer(c *types.DataContainer, alpha, beta float64, run int) {
	n := len(c.Data)
	if n <= 1 {
		return
	}

	mean, sd := stat.MeanStdDev(c.Data, nil)
	sem := stat.StdErr(sd, float64(n))

	if sem == 0 {
		c.Converged = true
		c.ConvergenceRun = run
		return
	}

	// Edge case: mean <= 0 means width < beta*mean can never hold (beta*mean
	// is non-positive), so the container is left unconverged here — the
	// sem==0 branch above is the only way such a container converges.
	if mean <= 0 {
		return
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	critical := t.Quantile(1 - alpha/2)
	ciWidth := 2 * critical * sem

	if ciWidth < beta*mean {
		c.Converged = true
		c.ConvergenceRun = run
	}
}