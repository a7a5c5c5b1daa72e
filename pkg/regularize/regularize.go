// Package regularize builds the regularization term of the inverse problem.
// The term is a tagged variant rather than a class hierarchy because the
// solver treats the variants structurally differently: L2 terms (GGR,
// Tikhonov) enter the normal equations in closed form, while the TV variant
// is handled through iterative reweighting.
package regularize

import (
	"math"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// Mode selects the regularization variant.
type Mode string

const (
	// GGR penalizes the distance between the reconstruction's gradient and
	// a reference guidance field, preserving edges the field predicts.
	GGR Mode = "ggr"

	// TV penalizes gradient magnitude with an L1-like norm (edge
	// preserving baseline).
	TV Mode = "tv"

	// Tikhonov penalizes the squared intensities directly (smoothing
	// baseline, R = identity).
	Tikhonov Mode = "tikhonov"
)

// Term is a built regularization operator with its weight and, for GGR,
// its target field. Immutable once built for a run.
type Term struct {
	Mode   Mode
	Weight float64

	// Target is the guidance field the gradient is driven toward.
	// Nil except in GGR mode, where the penalty is w*||grad(x)-Target||^2;
	// baseline modes drive toward zero.
	Target *models.GuidanceField

	dims    [3]int
	spacing float64
}

// NewGGR builds a gradient-guidance term. The field must live on exactly
// the grid lattice; a GuidanceShapeMismatchError is returned otherwise.
func NewGGR(grid *models.HighResGrid, field *models.GuidanceField, weight float64) (*Term, error) {
	if !field.Matches(grid) {
		return nil, &models.GuidanceShapeMismatchError{Want: grid.Dims(), Got: field.Dims()}
	}
	return &Term{
		Mode:    GGR,
		Weight:  weight,
		Target:  field,
		dims:    grid.Dims(),
		spacing: grid.Spacing,
	}, nil
}

// NewBaseline builds a TV or Tikhonov term with a zero target.
func NewBaseline(grid *models.HighResGrid, mode Mode, weight float64) *Term {
	return &Term{
		Mode:    mode,
		Weight:  weight,
		dims:    grid.Dims(),
		spacing: grid.Spacing,
	}
}

// UsesGradient reports whether R is the discrete gradient (GGR, TV) as
// opposed to the identity (Tikhonov).
func (t *Term) UsesGradient() bool {
	return t.Mode != Tikhonov
}

// ApplyNormal computes dst = R^T diag(weights) R src, the regularizer's
// contribution to the normal-equations operator (excluding the scalar
// weight). weights is the per-voxel IRLS weighting for TV mode; nil means
// unweighted, which is what the L2 modes use.
func (t *Term) ApplyNormal(dst, src []float64, weights []float64) {
	if t.Mode == Tikhonov {
		copy(dst, src)
		return
	}

	n := len(src)
	var g [3][]float64
	for a := 0; a < 3; a++ {
		g[a] = make([]float64, n)
	}
	Gradient(g, src, t.dims, t.spacing)
	if weights != nil {
		for a := 0; a < 3; a++ {
			for i := 0; i < n; i++ {
				g[a][i] *= weights[i]
			}
		}
	}
	Divergence(dst, g, t.dims, t.spacing)
}

// TargetRHS computes dst = R^T target, the regularizer's contribution to
// the normal-equations right-hand side (excluding the scalar weight).
// Baseline modes have a zero target and write zeros.
func (t *Term) TargetRHS(dst []float64) {
	if t.Target == nil {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	Divergence(dst, [3][]float64{t.Target.X, t.Target.Y, t.Target.Z}, t.dims, t.spacing)
}

// Residual fills g with R(src) - target, the quantity the penalty norms.
func (t *Term) Residual(g [3][]float64, src []float64) {
	Gradient(g, src, t.dims, t.spacing)
	if t.Target == nil {
		return
	}
	comps := [3][]float64{t.Target.X, t.Target.Y, t.Target.Z}
	for a := 0; a < 3; a++ {
		for i := range g[a] {
			g[a][i] -= comps[a][i]
		}
	}
}

// Spectrum returns the frequency-domain diagonal of R^T R on the grid,
// used by the solver's circulant preconditioner: for the periodic forward
// difference this is sum_a 4 sin^2(pi k_a / N_a) / h^2, and 1 for the
// identity.
func (t *Term) Spectrum() []float64 {
	nx, ny, nz := t.dims[0], t.dims[1], t.dims[2]
	s := make([]float64, nx*ny*nz)
	if t.Mode == Tikhonov {
		for i := range s {
			s[i] = 1
		}
		return s
	}

	h2 := t.spacing * t.spacing
	axisTerm := func(k, n int) float64 {
		sin := math.Sin(math.Pi * float64(k) / float64(n))
		return 4 * sin * sin / h2
	}
	idx := 0
	for z := 0; z < nz; z++ {
		tz := axisTerm(z, nz)
		for y := 0; y < ny; y++ {
			ty := axisTerm(y, ny)
			for x := 0; x < nx; x++ {
				s[idx] = axisTerm(x, nx) + ty + tz
				idx++
			}
		}
	}
	return s
}

// Gradient computes the periodic forward-difference gradient of src, one
// component per axis, in physical units.
func Gradient(dst [3][]float64, src []float64, dims [3]int, spacing float64) {
	nx, ny, nz := dims[0], dims[1], dims[2]
	inv := 1.0 / spacing
	idx := 0
	for z := 0; z < nz; z++ {
		zn := z + 1
		if zn == nz {
			zn = 0
		}
		for y := 0; y < ny; y++ {
			yn := y + 1
			if yn == ny {
				yn = 0
			}
			for x := 0; x < nx; x++ {
				xn := x + 1
				if xn == nx {
					xn = 0
				}
				v := src[idx]
				dst[0][idx] = (src[z*nx*ny+y*nx+xn] - v) * inv
				dst[1][idx] = (src[z*nx*ny+yn*nx+x] - v) * inv
				dst[2][idx] = (src[zn*nx*ny+y*nx+x] - v) * inv
				idx++
			}
		}
	}
}

// Divergence computes dst = G^T g, the exact adjoint of Gradient (the
// negative periodic divergence).
func Divergence(dst []float64, g [3][]float64, dims [3]int, spacing float64) {
	nx, ny, nz := dims[0], dims[1], dims[2]
	inv := 1.0 / spacing
	idx := 0
	for z := 0; z < nz; z++ {
		zp := z - 1
		if zp < 0 {
			zp = nz - 1
		}
		for y := 0; y < ny; y++ {
			yp := y - 1
			if yp < 0 {
				yp = ny - 1
			}
			for x := 0; x < nx; x++ {
				xp := x - 1
				if xp < 0 {
					xp = nx - 1
				}
				dst[idx] = (g[0][z*nx*ny+y*nx+xp] - g[0][idx] +
					g[1][z*nx*ny+yp*nx+x] - g[1][idx] +
					g[2][zp*nx*ny+y*nx+x] - g[2][idx]) * inv
				idx++
			}
		}
	}
}
