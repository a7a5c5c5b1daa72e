// Package fourier provides the frequency-domain transforms the forward
// operators and the solver run on: a separable 3-D FFT over grid-shaped
// arrays, built from gonum's 1-D complex FFT plans.
package fourier

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT3 holds reusable FFT plans for a fixed grid shape. Arrays are laid out
// row-major with x fastest, matching models.Volume. A single FFT3 is not
// safe for concurrent use; each goroutine should create its own (plans are
// cheap relative to the transforms).
type FFT3 struct {
	nx, ny, nz int

	plans [3]*fourier.CmplxFFT

	scratchIn  []complex128
	scratchOut []complex128
}

// NewFFT3 creates transform plans for an nx * ny * nz grid.
func NewFFT3(nx, ny, nz int) *FFT3 {
	maxN := nx
	if ny > maxN {
		maxN = ny
	}
	if nz > maxN {
		maxN = nz
	}
	return &FFT3{
		nx: nx, ny: ny, nz: nz,
		plans: [3]*fourier.CmplxFFT{
			fourier.NewCmplxFFT(nx),
			fourier.NewCmplxFFT(ny),
			fourier.NewCmplxFFT(nz),
		},
		scratchIn:  make([]complex128, maxN),
		scratchOut: make([]complex128, maxN),
	}
}

// Dims returns the grid shape the plans were created for.
func (f *FFT3) Dims() [3]int {
	return [3]int{f.nx, f.ny, f.nz}
}

// Len returns the total number of samples per transform.
func (f *FFT3) Len() int {
	return f.nx * f.ny * f.nz
}

// Forward computes the unnormalized 3-D DFT of data in place.
func (f *FFT3) Forward(data []complex128) {
	f.transform(data, false)
}

// Inverse computes the inverse 3-D DFT of data in place, including the 1/N
// normalization so that Inverse(Forward(x)) == x up to rounding.
func (f *FFT3) Inverse(data []complex128) {
	f.transform(data, true)
	scale := complex(1.0/float64(f.Len()), 0)
	for i := range data {
		data[i] *= scale
	}
}

// transform applies the 1-D plan along each axis in turn. Lines along axis
// 0 are contiguous; axes 1 and 2 are strided gathers through scratch.
func (f *FFT3) transform(data []complex128, inverse bool) {
	dims := [3]int{f.nx, f.ny, f.nz}
	strides := [3]int{1, f.nx, f.nx * f.ny}

	for axis := 0; axis < 3; axis++ {
		n := dims[axis]
		stride := strides[axis]
		plan := f.plans[axis]
		in := f.scratchIn[:n]
		out := f.scratchOut[:n]

		// Iterate over every line along this axis.
		for a := 0; a < dims[(axis+1)%3]; a++ {
			for b := 0; b < dims[(axis+2)%3]; b++ {
				base := a*strides[(axis+1)%3] + b*strides[(axis+2)%3]
				for i := 0; i < n; i++ {
					in[i] = data[base+i*stride]
				}
				if inverse {
					plan.Sequence(out, in)
				} else {
					plan.Coefficients(out, in)
				}
				for i := 0; i < n; i++ {
					data[base+i*stride] = out[i]
				}
			}
		}
	}
}

// RealToComplex widens a real array into a freshly allocated complex one.
func RealToComplex(src []float64) []complex128 {
	dst := make([]complex128, len(src))
	for i, v := range src {
		dst[i] = complex(v, 0)
	}
	return dst
}

// RealPart writes the real parts of src into dst, discarding the residual
// imaginary parts left by round-tripping a real signal.
func RealPart(dst []float64, src []complex128) {
	for i, v := range src {
		dst[i] = real(v)
	}
}
