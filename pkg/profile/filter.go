// Package profile builds slice-selection-profile filters: the 1-D
// through-plane convolution kernels that model how a thick-slice
// acquisition averages the underlying anatomy, together with their
// frequency responses on the padded reconstruction lattice. Filters are
// pure functions of the acquisition parameters and the target spacing, so
// they are shared across groups through an injectable compute-once cache.
package profile

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// Shape selects the slice profile model.
type Shape string

const (
	// Gaussian approximates the through-plane response with a Gaussian
	// whose FWHM equals the slice thickness.
	Gaussian Shape = "gaussian"

	// Box models an ideal rectangular excitation of the slice thickness.
	Box Shape = "box"
)

// Filter is a through-plane slice profile prepared for one orientation on a
// given reconstruction lattice. Taps hold the unit-sum kernel on the padded
// axis, rolled so the kernel center sits at index 0; Response is its
// magnitude spectrum over the same padded length. The magnitude discards
// the residual linear phase of the roll, matching the original pipeline's
// filter construction.
type Filter struct {
	// Taps is the origin-rolled spatial kernel, length PaddedLen.
	Taps []float64

	// Response is the real, symmetric frequency response, length PaddedLen.
	Response []float64

	// Sigma is the Gaussian standard deviation in high-res voxels
	// (zero for box profiles).
	Sigma float64

	// PaddedLen is the padded axis length (twice the grid extent).
	PaddedLen int
}

// Build constructs the slice profile filter for one acquisition along its
// through-plane axis. n is the high-res grid extent along that axis and
// spacing the grid's isotropic spacing; the kernel is laid out on the
// doubled axis so the later convolution has room to decay instead of
// wrapping into anatomy.
func Build(shape Shape, acq models.AcquisitionParams, n int, spacing float64) *Filter {
	padded := 2 * n
	taps := make([]float64, padded)

	// Width of the excited slice in high-res voxels.
	width := acq.SliceThickness / spacing

	f := &Filter{PaddedLen: padded}
	switch shape {
	case Box:
		half := width / 2
		for i := 0; i < padded; i++ {
			// Signed offset from the kernel center at index 0.
			off := float64(i)
			if i >= n {
				off = float64(i - padded)
			}
			if math.Abs(off) <= half {
				taps[i] = 1
			}
		}
	default:
		// FWHM-to-sigma conversion, as in the original filter builder.
		sigma := width / 2.355
		f.Sigma = sigma
		for i := 0; i < padded; i++ {
			off := float64(i)
			if i >= n {
				off = float64(i - padded)
			}
			taps[i] = math.Exp(-0.5 * (off / sigma) * (off / sigma))
		}
	}

	// Normalize to unit sum so the blur preserves mean intensity.
	sum := 0.0
	for _, v := range taps {
		sum += v
	}
	for i := range taps {
		taps[i] /= sum
	}
	f.Taps = taps
	f.Response = magnitudeResponse(taps)
	return f
}

// magnitudeResponse computes |FFT(taps)| over the full padded length,
// mirroring the real-input half spectrum into a symmetric full one.
func magnitudeResponse(taps []float64) []float64 {
	n := len(taps)
	fft := fourier.NewFFT(n)
	half := fft.Coefficients(nil, taps)

	resp := make([]float64, n)
	for k := 0; k < len(half); k++ {
		resp[k] = math.Hypot(real(half[k]), imag(half[k]))
	}
	for k := len(half); k < n; k++ {
		resp[k] = resp[n-k]
	}
	return resp
}
