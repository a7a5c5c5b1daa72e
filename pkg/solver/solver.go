// Package solver combines the three forward operators, the observed
// volumes, and the regularization term into one regularized least-squares
// problem and minimizes it. The normal equations are attacked with
// preconditioned conjugate gradients: forward/adjoint blurs and the
// circulant preconditioner run in the frequency domain, while the
// non-shift-invariant pieces (decimation masks, the TV reweighting) stay
// in the spatial domain between transforms. The regularization term is
// what keeps frequency bins with near-zero operator response bounded; it
// is the reason the inverse exists at all, not an optional extra.
package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/pkg/operator"
	"github.com/miltoncamacho/ggr-recon/pkg/regularize"
)

// Problem is one fully specified reconstruction solve. It is built per
// group, consumed once, and discarded.
type Problem struct {
	Grid *models.HighResGrid

	// Operators are the per-orientation forward operators A_i.
	Operators []operator.LinearOperator

	// Observed holds the corresponding observations y_i on the high-res
	// lattice. Samples outside an operator's mask are ignored.
	Observed [][]float64

	// Term is the regularization term (operator, target, weight).
	Term *regularize.Term

	// Init is the starting estimate, typically the coverage-weighted mean
	// fusion of the aligned inputs. Nil starts from zero.
	Init []float64
}

// Options controls solver termination.
type Options struct {
	// MaxIterations caps the total number of conjugate-gradient
	// iterations across all reweighting passes.
	MaxIterations int

	// Tolerance is the relative-change stopping threshold on x.
	Tolerance float64

	// IRLSPasses is the number of reweighting passes used in TV mode.
	// Ignored by the L2 modes.
	IRLSPasses int

	// IRLSEpsilon smooths the TV weights 1/sqrt(|grad|^2+eps^2).
	IRLSEpsilon float64
}

// DefaultOptions mirrors the original pipeline's solver settings.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 50,
		Tolerance:     1e-4,
		IRLSPasses:    4,
		IRLSEpsilon:   1e-3,
	}
}

// Result carries the estimate and convergence bookkeeping.
type Result struct {
	// Volume is the reconstruction on the problem grid.
	Volume *models.Volume

	// Converged reports whether the relative change fell below tolerance
	// before the iteration cap.
	Converged bool

	// Iterations is the number of CG iterations actually run.
	Iterations int

	// FinalChange is the last observed relative change in x.
	FinalChange float64

	// Objective holds the objective value after each CG iteration;
	// non-increasing for the L2 modes.
	Objective []float64

	// DataResidual is the final root-mean-square data-fidelity residual
	// over all masked samples.
	DataResidual float64
}

// Solve minimizes
//
//	sum_i ||A_i(x) - y_i||^2 + w * ||R(x) - target||^2
//
// over x. Exceeding the iteration cap is not an error: the best available
// estimate is returned with Converged == false, and the caller decides how
// to annotate it. ctx is checked between iterations only; the individual
// transforms are not interruptible.
func Solve(ctx context.Context, p *Problem, opt Options) (*Result, error) {
	n := p.Grid.NumVoxels()

	x := make([]float64, n)
	if p.Init != nil {
		copy(x, p.Init)
	}

	res := &Result{}

	if p.Term.Mode == regularize.TV && p.Term.Weight > 0 {
		passes := opt.IRLSPasses
		if passes < 1 {
			passes = 1
		}
		perPass := opt.MaxIterations / passes
		if perPass < 1 {
			perPass = 1
		}
		weights := make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
		for pass := 0; pass < passes && res.Iterations < opt.MaxIterations; pass++ {
			budget := perPass
			if rem := opt.MaxIterations - res.Iterations; budget > rem {
				budget = rem
			}
			if err := cg(ctx, p, x, weights, budget, opt.Tolerance, res); err != nil {
				return nil, err
			}
			updateTVWeights(weights, p, x, opt.IRLSEpsilon)
		}
	} else {
		if err := cg(ctx, p, x, nil, opt.MaxIterations, opt.Tolerance, res); err != nil {
			return nil, err
		}
	}

	res.Converged = res.FinalChange <= opt.Tolerance
	res.DataResidual = dataResidual(p, x)

	vol := p.Grid.NewVolume()
	copy(vol.Data, x)
	res.Volume = vol
	return res, nil
}

// NonConvergenceError returns the structured annotation for a result that
// hit the iteration cap, or nil if it converged.
func (r *Result) NonConvergenceError(opt Options) error {
	if r.Converged {
		return nil
	}
	return &models.NonConvergence{
		Iterations: r.Iterations,
		Change:     r.FinalChange,
		Tolerance:  opt.Tolerance,
	}
}

// normal applies the normal-equations operator:
// dst = sum_i A_i^T A_i src + w R^T W R src.
func normal(p *Problem, dst, src, weights, tmp, tmp2 []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for _, op := range p.Operators {
		op.Apply(tmp, src)
		op.ApplyAdjoint(tmp2, tmp)
		floats.Add(dst, tmp2)
	}
	if p.Term.Weight > 0 {
		p.Term.ApplyNormal(tmp, src, weights)
		floats.AddScaled(dst, p.Term.Weight, tmp)
	}
}

// rhs assembles b = sum_i A_i^T y_i + w R^T target.
func rhs(p *Problem, tmp []float64) []float64 {
	n := len(tmp)
	b := make([]float64, n)
	for i, op := range p.Operators {
		op.ApplyAdjoint(tmp, p.Observed[i])
		floats.Add(b, tmp)
	}
	if p.Term.Weight > 0 {
		p.Term.TargetRHS(tmp)
		floats.AddScaled(b, p.Term.Weight, tmp)
	}
	return b
}

// cg runs preconditioned conjugate gradients on the normal equations,
// updating x in place and appending bookkeeping to res.
func cg(ctx context.Context, p *Problem, x, weights []float64, maxIter int, tol float64, res *Result) error {
	n := len(x)
	tmp := make([]float64, n)
	tmp2 := make([]float64, n)

	b := rhs(p, tmp)

	r := make([]float64, n)
	normal(p, r, x, weights, tmp, tmp2)
	floats.Scale(-1, r)
	floats.Add(r, b)

	pre := newPreconditioner(p, weights)
	z := make([]float64, n)
	pre.apply(z, r)

	d := make([]float64, n)
	copy(d, z)

	rz := floats.Dot(r, z)
	xPrev := make([]float64, n)
	ad := make([]float64, n)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		normal(p, ad, d, weights, tmp, tmp2)
		dad := floats.Dot(d, ad)
		if dad <= 0 {
			// Numerically exhausted search direction.
			break
		}
		alpha := rz / dad

		copy(xPrev, x)
		floats.AddScaled(x, alpha, d)
		floats.AddScaled(r, -alpha, ad)

		pre.apply(z, r)
		rzNext := floats.Dot(r, z)
		beta := rzNext / rz
		rz = rzNext
		for i := 0; i < n; i++ {
			d[i] = z[i] + beta*d[i]
		}

		res.Iterations++
		res.Objective = append(res.Objective, objective(p, x, weights, tmp))

		res.FinalChange = relativeChange(x, xPrev)
		if res.FinalChange <= tol {
			return nil
		}
	}
	return nil
}

// objective evaluates the penalized least-squares objective at x.
func objective(p *Problem, x, weights, tmp []float64) float64 {
	obj := 0.0
	for i, op := range p.Operators {
		op.Apply(tmp, x)
		mask := op.Mask()
		for j, m := range mask {
			if m {
				d := tmp[j] - p.Observed[i][j]
				obj += d * d
			}
		}
	}
	if p.Term.Weight > 0 {
		obj += p.Term.Weight * penalty(p, x, weights)
	}
	return obj
}

// penalty evaluates ||R(x)-target||^2, with the current IRLS weighting in
// TV mode so the value matches the quadratic model CG is minimizing.
func penalty(p *Problem, x, weights []float64) float64 {
	n := len(x)
	if !p.Term.UsesGradient() {
		s := 0.0
		for i := 0; i < n; i++ {
			s += x[i] * x[i]
		}
		return s
	}
	var g [3][]float64
	for a := 0; a < 3; a++ {
		g[a] = make([]float64, n)
	}
	p.Term.Residual(g, x)
	s := 0.0
	for i := 0; i < n; i++ {
		m2 := g[0][i]*g[0][i] + g[1][i]*g[1][i] + g[2][i]*g[2][i]
		if weights != nil {
			m2 *= weights[i]
		}
		s += m2
	}
	return s
}

// updateTVWeights refreshes the IRLS weights from the current gradient
// magnitudes: w_v = 1/sqrt(|grad x|_v^2 + eps^2).
func updateTVWeights(weights []float64, p *Problem, x []float64, eps float64) {
	n := len(x)
	var g [3][]float64
	for a := 0; a < 3; a++ {
		g[a] = make([]float64, n)
	}
	p.Term.Residual(g, x)
	for i := 0; i < n; i++ {
		m2 := g[0][i]*g[0][i] + g[1][i]*g[1][i] + g[2][i]*g[2][i]
		weights[i] = 1 / math.Sqrt(m2+eps*eps)
	}
}

// dataResidual computes the RMS data-fidelity residual over masked samples.
func dataResidual(p *Problem, x []float64) float64 {
	tmp := make([]float64, len(x))
	sum, count := 0.0, 0
	for i, op := range p.Operators {
		op.Apply(tmp, x)
		for j, m := range op.Mask() {
			if m {
				d := tmp[j] - p.Observed[i][j]
				sum += d * d
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

// relativeChange computes ||x-xPrev|| / ||x||.
func relativeChange(x, xPrev []float64) float64 {
	num, den := 0.0, 0.0
	for i := range x {
		d := x[i] - xPrev[i]
		num += d * d
		den += x[i] * x[i]
	}
	if den == 0 {
		return 0
	}
	return math.Sqrt(num / den)
}
