package recon

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/pkg/operator"
	"github.com/miltoncamacho/ggr-recon/pkg/solver"
)

// Metrics summarizes one reconstruction for the run report.
type Metrics struct {
	// ResidualRMSE is the per-orientation root-mean-square data-fidelity
	// residual over that acquisition's observed samples.
	ResidualRMSE map[models.Orientation]float64

	// Mean and StdDev describe the reconstructed intensity distribution.
	Mean   float64
	StdDev float64

	Iterations int
	Converged  bool
}

// computeMetrics evaluates the per-orientation residuals and intensity
// statistics of the solved volume.
func computeMetrics(res *solver.Result, tags []models.Orientation,
	ops []operator.LinearOperator, observed [][]float64) Metrics {

	m := Metrics{
		ResidualRMSE: make(map[models.Orientation]float64, len(tags)),
		Iterations:   res.Iterations,
		Converged:    res.Converged,
	}

	tmp := make([]float64, len(res.Volume.Data))
	for i, op := range ops {
		op.Apply(tmp, res.Volume.Data)
		sum, count := 0.0, 0
		for j, masked := range op.Mask() {
			if masked {
				d := tmp[j] - observed[i][j]
				sum += d * d
				count++
			}
		}
		if count > 0 {
			m.ResidualRMSE[tags[i]] = math.Sqrt(sum / float64(count))
		}
	}

	m.Mean = stat.Mean(res.Volume.Data, nil)
	m.StdDev = stat.StdDev(res.Volume.Data, nil)
	return m
}

// String formats the metrics as the run summary block.
func (m Metrics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iterations: %d (converged: %v)\n", m.Iterations, m.Converged)
	fmt.Fprintf(&b, "Intensity: mean %.3f, stddev %.3f\n", m.Mean, m.StdDev)
	for _, tag := range models.AcqOrder {
		if rmse, ok := m.ResidualRMSE[tag]; ok {
			fmt.Fprintf(&b, "Residual RMSE (%s): %.4f\n", tag, rmse)
		}
	}
	return b.String()
}
