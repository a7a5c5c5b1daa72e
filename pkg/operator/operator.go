// Package operator builds the per-orientation forward operators A_i mapping
// the unknown high-resolution volume to each observed low-resolution
// acquisition: slice-profile blur along the through-plane axis followed by
// decimation to the acquired lattice, restricted to the acquisition's field
// of view. Forward and adjoint application are exact adjoints of one
// another; the least-squares solve silently degrades when they are not, so
// this pairing is a correctness property, not an optimization.
package operator

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/pkg/profile"
)

// LinearOperator is the capability interface the solver works against:
// forward application, adjoint application, and the data-fidelity mask.
// Implementations write into dst and must tolerate dst == src being
// distinct slices of the same length.
type LinearOperator interface {
	// Apply computes dst = A(src). Both span the high-res grid.
	Apply(dst, src []float64)

	// ApplyAdjoint computes dst = A^T(src).
	ApplyAdjoint(dst, src []float64)

	// Mask reports which grid voxels participate in this operator's
	// data-fidelity term. Voxels outside the acquisition's field of view
	// or off the acquired slice lattice are excluded, not treated as zero
	// observations.
	Mask() []bool

	// SpectralDiagonal returns a circulant approximation of the diagonal
	// of A^T A in the frequency domain of the grid, for preconditioning.
	SpectralDiagonal() []float64
}

// Downsampling is the concrete forward operator for one orientation:
// A = M * B, where B is the slice-profile blur along the through-plane axis
// (circular convolution on the padded axis with a real, symmetric response,
// hence self-adjoint) and M is the diagonal sampling mask. The adjoint is
// therefore A^T = B * M.
type Downsampling struct {
	orientation models.Orientation

	nx, ny, nz int

	// axis is the grid axis the slice selection acts along.
	axis int

	// step is the decimation factor: acquired slice spacing in high-res
	// voxels. Only every step-th plane along axis carries an observation.
	step int

	filter *profile.Filter

	mask []bool

	fft     *fourier.CmplxFFT
	line    []complex128
	blurBuf []float64
}

// Params collects what the builder needs for one orientation.
type Params struct {
	Orientation models.Orientation
	Acquisition models.AcquisitionParams

	// Axis is the through-plane axis expressed on the high-res grid,
	// derived from the aligned volume's header rather than the tag.
	Axis int

	// Coverage marks grid voxels inside the acquisition's field of view,
	// as reported by resampling.
	Coverage []bool

	Shape profile.Shape
}

// Build constructs the forward operator for one orientation on the given
// grid, fetching the slice profile through the shared cache.
func Build(grid *models.HighResGrid, p Params, cache *profile.Cache) *Downsampling {
	dims := grid.Dims()
	n := dims[p.Axis]

	f := cache.Get(profile.Key{
		Orientation: p.Orientation,
		Shape:       p.Shape,
		Thickness:   p.Acquisition.SliceThickness,
		Gap:         p.Acquisition.SliceGap,
		AxisLen:     n,
		Spacing:     grid.Spacing,
	})

	step := int(p.Acquisition.SliceSpacing()/grid.Spacing + 0.5)
	if step < 1 {
		step = 1
	}

	op := &Downsampling{
		orientation: p.Orientation,
		nx:          dims[0],
		ny:          dims[1],
		nz:          dims[2],
		axis:        p.Axis,
		step:        step,
		filter:      f,
		fft:         fourier.NewCmplxFFT(f.PaddedLen),
		line:        make([]complex128, f.PaddedLen),
		blurBuf:     make([]float64, dims[0]*dims[1]*dims[2]),
	}
	op.mask = op.buildMask(p.Coverage)
	return op
}

// buildMask intersects the field-of-view coverage with the acquired slice
// lattice along the through-plane axis.
func (op *Downsampling) buildMask(coverage []bool) []bool {
	mask := make([]bool, op.nx*op.ny*op.nz)
	idx := 0
	for z := 0; z < op.nz; z++ {
		for y := 0; y < op.ny; y++ {
			for x := 0; x < op.nx; x++ {
				axisIdx := [3]int{x, y, z}[op.axis]
				onLattice := axisIdx%op.step == 0
				covered := coverage == nil || coverage[idx]
				mask[idx] = onLattice && covered
				idx++
			}
		}
	}
	return mask
}

// Orientation returns the acquisition tag this operator models.
func (op *Downsampling) Orientation() models.Orientation { return op.orientation }

// Step returns the through-plane decimation factor.
func (op *Downsampling) Step() int { return op.step }

// Axis returns the grid axis the slice profile acts along.
func (op *Downsampling) Axis() int { return op.axis }

// Mask implements LinearOperator.
func (op *Downsampling) Mask() []bool { return op.mask }

// Apply computes dst = M * B * src.
func (op *Downsampling) Apply(dst, src []float64) {
	op.blur(op.blurBuf, src)
	for i, m := range op.mask {
		if m {
			dst[i] = op.blurBuf[i]
		} else {
			dst[i] = 0
		}
	}
}

// ApplyAdjoint computes dst = B * M * src. The blur is self-adjoint
// (real symmetric response on the padded axis), so the adjoint reuses it.
func (op *Downsampling) ApplyAdjoint(dst, src []float64) {
	for i, m := range op.mask {
		if m {
			op.blurBuf[i] = src[i]
		} else {
			op.blurBuf[i] = 0
		}
	}
	op.blur(dst, op.blurBuf)
}

// SpectralDiagonal approximates the diagonal of A^T A in the frequency
// domain of the unpadded grid: the squared slice-profile response along the
// through-plane axis, scaled by the fraction of samples the decimation
// keeps. Downsampling itself is not shift-invariant, so this is exact only
// for the blur part; the solver uses it as a circulant preconditioner, for
// which the averaged mask diagonal is sufficient.
func (op *Downsampling) SpectralDiagonal() []float64 {
	diag := make([]float64, op.nx*op.ny*op.nz)
	keep := 1.0 / float64(op.step)

	idx := 0
	for z := 0; z < op.nz; z++ {
		for y := 0; y < op.ny; y++ {
			for x := 0; x < op.nx; x++ {
				k := [3]int{x, y, z}[op.axis]
				// Grid bin k corresponds to padded-axis bin 2k.
				r := op.filter.Response[(2*k)%op.filter.PaddedLen]
				diag[idx] = r * r * keep
				idx++
			}
		}
	}
	return diag
}

// blur convolves src with the slice profile along the through-plane axis:
// each line is zero-extended onto the padded axis, transformed, multiplied
// by the real response, and transformed back. Zero padding keeps the
// profile from wrapping anatomy around the volume edge.
func (op *Downsampling) blur(dst, src []float64) {
	dims := [3]int{op.nx, op.ny, op.nz}
	strides := [3]int{1, op.nx, op.nx * op.ny}

	n := dims[op.axis]
	stride := strides[op.axis]
	padded := op.filter.PaddedLen
	resp := op.filter.Response

	aAxis := (op.axis + 1) % 3
	bAxis := (op.axis + 2) % 3

	for a := 0; a < dims[aAxis]; a++ {
		for b := 0; b < dims[bAxis]; b++ {
			base := a*strides[aAxis] + b*strides[bAxis]

			for i := 0; i < n; i++ {
				op.line[i] = complex(src[base+i*stride], 0)
			}
			for i := n; i < padded; i++ {
				op.line[i] = 0
			}

			op.fft.Coefficients(op.line, op.line)
			for k := 0; k < padded; k++ {
				op.line[k] *= complex(resp[k], 0)
			}
			op.fft.Sequence(op.line, op.line)

			scale := 1.0 / float64(padded)
			for i := 0; i < n; i++ {
				dst[base+i*stride] = real(op.line[i]) * scale
			}
		}
	}
}
