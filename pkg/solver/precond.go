package solver

import (
	"gonum.org/v1/gonum/floats"

	"github.com/miltoncamacho/ggr-recon/pkg/fourier"
)

// preconditioner is the circulant surrogate for the normal-equations
// operator. The decimation masks are not shift invariant, so the true
// operator has no diagonal Fourier representation; replacing each mask by
// its average density (1/step) yields a circulant approximation that is
// diagonalized by the 3-D DFT and cheap to invert. In TV mode the
// spatially varying weights are likewise replaced by their flat average,
// which keeps the preconditioner fixed across a reweighting pass.
type preconditioner struct {
	fft *fourier.FFT3
	// inv holds 1/P(k), precomputed over the full frequency grid.
	inv []float64
	buf []complex128
}

// diagFloor keeps the surrogate spectrum strictly positive even where the
// slice profiles and the regularizer both vanish (the DC bin with w == 0).
const diagFloor = 1e-8

func newPreconditioner(p *Problem, weights []float64) *preconditioner {
	dims := p.Grid.Dims()
	n := p.Grid.NumVoxels()

	diag := make([]float64, n)
	for _, op := range p.Operators {
		floats.Add(diag, op.SpectralDiagonal())
	}
	if p.Term.Weight > 0 {
		w := p.Term.Weight
		if weights != nil {
			mean := 0.0
			for _, v := range weights {
				mean += v
			}
			w *= mean / float64(len(weights))
		}
		floats.AddScaled(diag, w, p.Term.Spectrum())
	}

	inv := make([]float64, n)
	for i, v := range diag {
		if v < diagFloor {
			v = diagFloor
		}
		inv[i] = 1 / v
	}

	return &preconditioner{
		fft: fourier.NewFFT3(dims[0], dims[1], dims[2]),
		inv: inv,
		buf: make([]complex128, n),
	}
}

// apply computes dst = P^{-1} src via FFT, diagonal scaling, inverse FFT.
func (pc *preconditioner) apply(dst, src []float64) {
	for i, v := range src {
		pc.buf[i] = complex(v, 0)
	}
	pc.fft.Forward(pc.buf)
	for i := range pc.buf {
		pc.buf[i] *= complex(pc.inv[i], 0)
	}
	pc.fft.Inverse(pc.buf)
	fourier.RealPart(dst, pc.buf)
}
