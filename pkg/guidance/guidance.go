// Package guidance derives the reference gradient field that parameterizes
// gradient-guidance regularization: either analytically, by fusing the
// directional derivatives the three orientations can actually observe, or
// from an externally predicted field validated against the target grid.
package guidance

import (
	"fmt"

	"github.com/kshedden/gonpy"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// Source selects how the guidance field is obtained.
type Source string

const (
	// Analytic fuses in-plane gradients of the aligned acquisitions.
	Analytic Source = "analytic"

	// External accepts a precomputed field from an outside predictor.
	External Source = "external"
)

// Input is one aligned acquisition's contribution to the analytic fusion.
type Input struct {
	// Volume is the acquisition resampled onto the high-res grid.
	Volume *models.Volume

	// ThroughAxis is the slice-selection axis on the grid. Gradients along
	// it are not observed by this acquisition and are excluded from fusion.
	ThroughAxis int

	// InPlaneSpacing is the acquired in-plane spacing in mm; finer spacing
	// means higher observability and a larger fusion weight.
	InPlaneSpacing float64

	// Coverage marks grid voxels inside this acquisition's field of view.
	Coverage []bool
}

// Fuse builds the guidance field from the aligned low-resolution volumes.
//
// Each orientation only resolves gradients along its two in-plane axes;
// its through-plane derivative is dominated by interpolation and is left
// out entirely rather than averaged in. For each grid axis the remaining
// estimates are combined as a weighted mean with weight 1/InPlaneSpacing,
// so with three orthogonal acquisitions every axis is observed by exactly
// two of them. Voxels outside an acquisition's field of view receive no
// contribution from it; voxels observed by nobody stay zero (flat region
// semantics).
func Fuse(grid *models.HighResGrid, inputs []Input) *models.GuidanceField {
	field := models.NewGuidanceField(grid.Nx, grid.Ny, grid.Nz)
	n := grid.NumVoxels()

	num := [3][]float64{
		make([]float64, n), make([]float64, n), make([]float64, n),
	}
	den := [3][]float64{
		make([]float64, n), make([]float64, n), make([]float64, n),
	}

	grad := make([]float64, n)
	for _, in := range inputs {
		w := 1.0 / in.InPlaneSpacing
		for axis := 0; axis < 3; axis++ {
			if axis == in.ThroughAxis {
				continue
			}
			derivative(grad, in.Volume, axis, grid.Spacing)
			for i := 0; i < n; i++ {
				if in.Coverage != nil && !in.Coverage[i] {
					continue
				}
				num[axis][i] += w * grad[i]
				den[axis][i] += w
			}
		}
	}

	comps := [3][]float64{field.X, field.Y, field.Z}
	for axis := 0; axis < 3; axis++ {
		for i := 0; i < n; i++ {
			if den[axis][i] > 0 {
				comps[axis][i] = num[axis][i] / den[axis][i]
			}
		}
	}
	return field
}

// derivative writes the central-difference derivative of v along the given
// axis into dst, in physical units (per mm). Borders use one-sided
// differences.
func derivative(dst []float64, v *models.Volume, axis int, spacing float64) {
	dims := v.Dims()
	strides := [3]int{1, v.Nx, v.Nx * v.Ny}
	n := dims[axis]
	stride := strides[axis]

	aAxis := (axis + 1) % 3
	bAxis := (axis + 2) % 3

	for a := 0; a < dims[aAxis]; a++ {
		for b := 0; b < dims[bAxis]; b++ {
			base := a*strides[aAxis] + b*strides[bAxis]
			for i := 0; i < n; i++ {
				idx := base + i*stride
				switch {
				case n == 1:
					dst[idx] = 0
				case i == 0:
					dst[idx] = (v.Data[idx+stride] - v.Data[idx]) / spacing
				case i == n-1:
					dst[idx] = (v.Data[idx] - v.Data[idx-stride]) / spacing
				default:
					dst[idx] = (v.Data[idx+stride] - v.Data[idx-stride]) / (2 * spacing)
				}
			}
		}
	}
}

// LoadExternal reads a predicted guidance field from an .npy file with
// C-order shape (3, Nz, Ny, Nx): three component blocks, each laid out
// like a volume on the grid. The shape is validated against the grid and a
// GuidanceShapeMismatchError is returned when it differs.
func LoadExternal(path string, grid *models.HighResGrid) (*models.GuidanceField, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open guidance field: %w", err)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("failed to read guidance field: %w", err)
	}

	want := [3]int{grid.Nx, grid.Ny, grid.Nz}
	if len(r.Shape) != 4 || r.Shape[0] != 3 {
		got := [3]int{}
		if len(r.Shape) >= 3 {
			got = [3]int{r.Shape[len(r.Shape)-1], r.Shape[len(r.Shape)-2], r.Shape[len(r.Shape)-3]}
		}
		return nil, &models.GuidanceShapeMismatchError{Want: want, Got: got}
	}
	got := [3]int{r.Shape[3], r.Shape[2], r.Shape[1]}
	if got != want {
		return nil, &models.GuidanceShapeMismatchError{Want: want, Got: got}
	}

	field := models.NewGuidanceField(grid.Nx, grid.Ny, grid.Nz)
	n := grid.NumVoxels()
	copy(field.X, data[0:n])
	copy(field.Y, data[n:2*n])
	copy(field.Z, data[2*n:3*n])
	return field, nil
}
