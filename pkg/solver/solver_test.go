package solver

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/pkg/operator"
	"github.com/miltoncamacho/ggr-recon/pkg/profile"
	"github.com/miltoncamacho/ggr-recon/pkg/regularize"
)

func testGrid(n int) *models.HighResGrid {
	return &models.HighResGrid{
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Spacing:   1,
		Nx:        n, Ny: n, Nz: n,
	}
}

// smoothPhantom builds a band-limited volume the slice profile barely
// distorts, so reconstruction accuracy is attributable to the solver.
func smoothPhantom(g *models.HighResGrid) []float64 {
	dims := g.Dims()
	data := make([]float64, g.NumVoxels())
	idx := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				data[idx] = 100 +
					20*math.Cos(2*math.Pi*float64(x)/float64(dims[0])) +
					15*math.Sin(2*math.Pi*float64(y)/float64(dims[1])) +
					10*math.Cos(2*math.Pi*float64(z)/float64(dims[2]))
				idx++
			}
		}
	}
	return data
}

// buildOperators returns one forward operator per orthogonal orientation,
// with full field-of-view coverage.
func buildOperators(g *models.HighResGrid, thickness float64) []operator.LinearOperator {
	cache := profile.NewCache()
	coverage := make([]bool, g.NumVoxels())
	for i := range coverage {
		coverage[i] = true
	}
	acq := models.AcquisitionParams{SliceThickness: thickness, InPlaneSpacing: g.Spacing}
	ops := make([]operator.LinearOperator, 0, 3)
	for axis, tag := range []models.Orientation{models.Sagittal, models.Coronal, models.Axial} {
		ops = append(ops, operator.Build(g, operator.Params{
			Orientation: tag,
			Acquisition: acq,
			Axis:        axis,
			Coverage:    coverage,
			Shape:       profile.Gaussian,
		}, cache))
	}
	return ops
}

func simulate(ops []operator.LinearOperator, truth []float64) [][]float64 {
	obs := make([][]float64, len(ops))
	for i, op := range ops {
		y := make([]float64, len(truth))
		op.Apply(y, truth)
		obs[i] = y
	}
	return obs
}

// gradientField returns the periodic forward-difference gradient of truth,
// matching the regularizer's stencil.
func gradientField(g *models.HighResGrid, truth []float64) *models.GuidanceField {
	dims := g.Dims()
	field := models.NewGuidanceField(dims[0], dims[1], dims[2])
	strides := [3]int{1, dims[0], dims[0] * dims[1]}
	comp := [3][]float64{field.X, field.Y, field.Z}
	for a := 0; a < 3; a++ {
		idx := 0
		for z := 0; z < dims[2]; z++ {
			for y := 0; y < dims[1]; y++ {
				for x := 0; x < dims[0]; x++ {
					pos := [3]int{x, y, z}
					next := idx + strides[a]
					if pos[a] == dims[a]-1 {
						next = idx + strides[a] - dims[a]*strides[a]
					}
					comp[a][idx] = (truth[next] - truth[idx]) / g.Spacing
					idx++
				}
			}
		}
	}
	return field
}

func rmse(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(a)))
}

func TestSolveObjectiveMonotonic(t *testing.T) {
	g := testGrid(16)
	truth := smoothPhantom(g)
	ops := buildOperators(g, 3)

	p := &Problem{
		Grid:      g,
		Operators: ops,
		Observed:  simulate(ops, truth),
		Term:      regularize.NewBaseline(g, regularize.Tikhonov, 0),
	}
	res, err := Solve(context.Background(), p, Options{MaxIterations: 80, Tolerance: 1e-10})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if len(res.Objective) == 0 {
		t.Fatal("expected objective history")
	}
	for i := 1; i < len(res.Objective); i++ {
		if res.Objective[i] > res.Objective[i-1]*(1+1e-9) {
			t.Errorf("objective increased at iteration %d: %.6g -> %.6g",
				i, res.Objective[i-1], res.Objective[i])
		}
	}

	// Consistent data, so the residual must be driven far below the
	// signal scale.
	if res.DataResidual > 1e-2 {
		t.Errorf("data residual %.4g too large for consistent observations", res.DataResidual)
	}
}

func TestSolveRecoversSmoothPhantom(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping reconstruction test in short mode")
	}

	g := testGrid(16)
	truth := smoothPhantom(g)
	ops := buildOperators(g, 3)

	p := &Problem{
		Grid:      g,
		Operators: ops,
		Observed:  simulate(ops, truth),
		Term:      regularize.NewBaseline(g, regularize.Tikhonov, 1e-6),
	}
	res, err := Solve(context.Background(), p, Options{MaxIterations: 60, Tolerance: 1e-8})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	e := rmse(res.Volume.Data, truth)
	if e > 2.0 {
		t.Errorf("reconstruction RMSE %.4g exceeds tolerance (signal scale ~100)", e)
	}
	if res.Iterations == 0 {
		t.Error("expected at least one iteration")
	}
}

func TestSolveGuidanceBeatsTikhonov(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping reconstruction comparison in short mode")
	}

	g := testGrid(16)
	truth := smoothPhantom(g)
	ops := buildOperators(g, 3)
	obs := simulate(ops, truth)

	field := gradientField(g, truth)
	weight := 0.05
	ggr, err := regularize.NewGGR(g, field, weight)
	if err != nil {
		t.Fatalf("NewGGR failed: %v", err)
	}
	opt := Options{MaxIterations: 60, Tolerance: 1e-8}

	guided, err := Solve(context.Background(), &Problem{Grid: g, Operators: ops, Observed: obs, Term: ggr}, opt)
	if err != nil {
		t.Fatalf("guided Solve failed: %v", err)
	}
	plain, err := Solve(context.Background(), &Problem{
		Grid: g, Operators: ops, Observed: obs,
		Term: regularize.NewBaseline(g, regularize.Tikhonov, weight),
	}, opt)
	if err != nil {
		t.Fatalf("baseline Solve failed: %v", err)
	}

	eGuided := rmse(guided.Volume.Data, truth)
	ePlain := rmse(plain.Volume.Data, truth)
	if eGuided >= ePlain {
		t.Errorf("guidance toward the true gradient should beat intensity shrinkage: guided RMSE %.4g, Tikhonov RMSE %.4g",
			eGuided, ePlain)
	}
}

// stepPhantom builds a sharp intensity step across the mid-x plane.
func stepPhantom(g *models.HighResGrid) []float64 {
	dims := g.Dims()
	data := make([]float64, g.NumVoxels())
	idx := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				if x < dims[0]/2 {
					data[idx] = 50
				} else {
					data[idx] = 150
				}
				idx++
			}
		}
	}
	return data
}

// edgeGradient returns the mean forward difference across the step plane.
func edgeGradient(g *models.HighResGrid, data []float64) float64 {
	dims := g.Dims()
	x := dims[0]/2 - 1
	sum, n := 0.0, 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			idx := z*dims[0]*dims[1] + y*dims[0] + x
			sum += (data[idx+1] - data[idx]) / g.Spacing
			n++
		}
	}
	return sum / float64(n)
}

func TestSolveStepEdgePreservation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping reconstruction comparison in short mode")
	}

	g := testGrid(16)
	truth := stepPhantom(g)
	ops := buildOperators(g, 3)
	obs := simulate(ops, truth)

	// A strong weight makes the regularizer's influence visible: guidance
	// toward the step's own gradient is satisfied exactly by the sharp
	// solution, while intensity shrinkage damps the frequencies the slice
	// profile already attenuated, rounding the edge off.
	weight := 1.0
	ggr, err := regularize.NewGGR(g, gradientField(g, truth), weight)
	if err != nil {
		t.Fatalf("NewGGR failed: %v", err)
	}
	opt := Options{MaxIterations: 120, Tolerance: 1e-8}

	guided, err := Solve(context.Background(), &Problem{Grid: g, Operators: ops, Observed: obs, Term: ggr}, opt)
	if err != nil {
		t.Fatalf("guided Solve failed: %v", err)
	}
	plain, err := Solve(context.Background(), &Problem{
		Grid: g, Operators: ops, Observed: obs,
		Term: regularize.NewBaseline(g, regularize.Tikhonov, weight),
	}, opt)
	if err != nil {
		t.Fatalf("baseline Solve failed: %v", err)
	}

	trueEdge := edgeGradient(g, truth)
	guidedEdge := edgeGradient(g, guided.Volume.Data)
	plainEdge := edgeGradient(g, plain.Volume.Data)

	if guidedEdge < 0.7*trueEdge {
		t.Errorf("guided reconstruction lost the edge: gradient %.4g, true %.4g", guidedEdge, trueEdge)
	}
	if guidedEdge <= 1.2*plainEdge {
		t.Errorf("edge gradient under guidance (%.4g) should clearly exceed Tikhonov's (%.4g)",
			guidedEdge, plainEdge)
	}
}

func TestSolveTVRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping reweighted solve in short mode")
	}

	g := testGrid(16)
	truth := smoothPhantom(g)
	ops := buildOperators(g, 3)

	p := &Problem{
		Grid:      g,
		Operators: ops,
		Observed:  simulate(ops, truth),
		Term:      regularize.NewBaseline(g, regularize.TV, 1e-3),
	}
	res, err := Solve(context.Background(), p, Options{
		MaxIterations: 40, Tolerance: 1e-8, IRLSPasses: 4, IRLSEpsilon: 1e-3,
	})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	// Sanity on the reweighted solve: observations are consistent, so the
	// residual must end well below the signal scale.
	if res.DataResidual > 1.0 {
		t.Errorf("TV data residual %.4g too large", res.DataResidual)
	}
	if res.Iterations > 40 {
		t.Errorf("iteration cap exceeded: %d", res.Iterations)
	}
}

func TestSolveNonConvergenceAnnotation(t *testing.T) {
	g := testGrid(8)
	truth := smoothPhantom(g)
	ops := buildOperators(g, 3)

	p := &Problem{
		Grid:      g,
		Operators: ops,
		Observed:  simulate(ops, truth),
		Term:      regularize.NewBaseline(g, regularize.Tikhonov, 0),
	}
	opt := Options{MaxIterations: 1, Tolerance: 1e-12}
	res, err := Solve(context.Background(), p, opt)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Converged {
		t.Error("one iteration at tolerance 1e-12 should not converge")
	}
	if res.Volume == nil {
		t.Fatal("non-converged solve must still return its best estimate")
	}

	annErr := res.NonConvergenceError(opt)
	var nc *models.NonConvergence
	if !errors.As(annErr, &nc) {
		t.Fatalf("expected NonConvergence annotation, got %v", annErr)
	}
	if nc.Iterations != res.Iterations {
		t.Errorf("annotation iterations = %d, want %d", nc.Iterations, res.Iterations)
	}
}

func TestSolveStartsFromInitializer(t *testing.T) {
	g := testGrid(8)
	truth := smoothPhantom(g)
	ops := buildOperators(g, 3)

	p := &Problem{
		Grid:      g,
		Operators: ops,
		Observed:  simulate(ops, truth),
		Term:      regularize.NewBaseline(g, regularize.Tikhonov, 0),
		Init:      truth,
	}
	res, err := Solve(context.Background(), p, Options{MaxIterations: 5, Tolerance: 1e-6})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	// Init is inconsistent with the blurred observations only through the
	// profile's attenuation of the phantom's harmonics; starting near the
	// answer the residual must already be small.
	if res.DataResidual > 5.0 {
		t.Errorf("residual %.4g starting from a near-exact initializer", res.DataResidual)
	}
	if rmse(res.Volume.Data, truth) > 5.0 {
		t.Errorf("solution drifted far from a near-exact initializer")
	}
}
