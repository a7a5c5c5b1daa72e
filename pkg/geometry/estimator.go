// Package geometry computes the target high-resolution grid for a
// reconstruction group: an isotropic, axis-aligned lattice covering the
// union of the three low-resolution acquisitions, or an explicitly
// supplied grid when running in resampling mode.
package geometry

import (
	"math"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// Override supplies an explicit grid instead of estimating one from the
// inputs (resampling mode). Size components must be positive; odd sizes are
// rounded up to even like estimated grids.
type Override struct {
	Origin    [3]float64
	Direction [9]float64
	Spacing   float64
	Size      [3]int
}

// Grid returns the HighResGrid described by the override.
func (o *Override) Grid() *models.HighResGrid {
	return &models.HighResGrid{
		Origin:    o.Origin,
		Direction: o.Direction,
		Spacing:   o.Spacing,
		Nx:        evenUp(o.Size[0]),
		Ny:        evenUp(o.Size[1]),
		Nz:        evenUp(o.Size[2]),
	}
}

// Estimate derives the high-resolution grid from the three orientations'
// headers. The grid inherits the reference orientation's frame, uses the
// minimum in-plane spacing observed across all inputs as its isotropic
// spacing, and extends to the minimal even-sized voxel box bounding the
// union of the acquisitions.
//
// Returns InsufficientInputError when an orientation is missing, or
// DegenerateGeometryError when a header fails validation.
func Estimate(vols map[models.Orientation]*models.Volume, ref models.Orientation) (*models.HighResGrid, error) {
	var missing []models.Orientation
	for _, o := range models.AcqOrder {
		if vols[o] == nil {
			missing = append(missing, o)
		}
	}
	if len(missing) > 0 {
		return nil, &models.InsufficientInputError{Have: len(vols), Missing: missing}
	}

	for _, o := range models.AcqOrder {
		if err := vols[o].CheckHeader(o); err != nil {
			return nil, err
		}
	}

	refVol := vols[ref]

	// Bounding box of all acquisitions, expressed in the reference frame.
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	spacing := math.Inf(1)

	for _, o := range models.AcqOrder {
		v := vols[o]
		if s := v.MinInPlaneSpacing(); s < spacing {
			spacing = s
		}
		for _, c := range physicalCorners(v) {
			// Coordinates in the reference frame, in mm from its origin.
			r := refFrameCoords(refVol, c)
			for a := 0; a < 3; a++ {
				if r[a] < lo[a] {
					lo[a] = r[a]
				}
				if r[a] > hi[a] {
					hi[a] = r[a]
				}
			}
		}
	}

	var size [3]int
	for a := 0; a < 3; a++ {
		size[a] = evenUp(int(math.Ceil((hi[a] - lo[a]) / spacing)))
	}

	// Grid origin: the low corner mapped back to physical space.
	d := &refVol.Direction
	origin := [3]float64{
		refVol.Origin[0] + d[0]*lo[0] + d[1]*lo[1] + d[2]*lo[2],
		refVol.Origin[1] + d[3]*lo[0] + d[4]*lo[1] + d[5]*lo[2],
		refVol.Origin[2] + d[6]*lo[0] + d[7]*lo[1] + d[8]*lo[2],
	}

	return &models.HighResGrid{
		Origin:    origin,
		Direction: refVol.Direction,
		Spacing:   spacing,
		Nx:        size[0],
		Ny:        size[1],
		Nz:        size[2],
	}, nil
}

// EstimateSingle derives an isotropic grid covering one acquisition alone,
// used by resampling mode where only the first input is available.
func EstimateSingle(tag models.Orientation, v *models.Volume) (*models.HighResGrid, error) {
	if err := v.CheckHeader(tag); err != nil {
		return nil, err
	}

	spacing := v.MinInPlaneSpacing()

	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, c := range physicalCorners(v) {
		r := refFrameCoords(v, c)
		for a := 0; a < 3; a++ {
			if r[a] < lo[a] {
				lo[a] = r[a]
			}
			if r[a] > hi[a] {
				hi[a] = r[a]
			}
		}
	}

	var size [3]int
	for a := 0; a < 3; a++ {
		size[a] = evenUp(int(math.Ceil((hi[a] - lo[a]) / spacing)))
	}

	d := &v.Direction
	origin := [3]float64{
		v.Origin[0] + d[0]*lo[0] + d[1]*lo[1] + d[2]*lo[2],
		v.Origin[1] + d[3]*lo[0] + d[4]*lo[1] + d[5]*lo[2],
		v.Origin[2] + d[6]*lo[0] + d[7]*lo[1] + d[8]*lo[2],
	}

	return &models.HighResGrid{
		Origin:    origin,
		Direction: v.Direction,
		Spacing:   spacing,
		Nx:        size[0],
		Ny:        size[1],
		Nz:        size[2],
	}, nil
}

// physicalCorners returns the eight physical-space corners of the volume's
// extent. Corners sit half a voxel beyond the outermost sample centers so
// the box covers whole voxels, not just their centers.
func physicalCorners(v *models.Volume) [8][3]float64 {
	var corners [8][3]float64
	idx := 0
	for _, i := range [2]float64{-0.5, float64(v.Nx) - 0.5} {
		for _, j := range [2]float64{-0.5, float64(v.Ny) - 0.5} {
			for _, k := range [2]float64{-0.5, float64(v.Nz) - 0.5} {
				corners[idx] = v.VoxelToPhysical(i, j, k)
				idx++
			}
		}
	}
	return corners
}

// refFrameCoords expresses physical point p in millimeter coordinates of
// the reference volume's frame.
func refFrameCoords(ref *models.Volume, p [3]float64) [3]float64 {
	dx := p[0] - ref.Origin[0]
	dy := p[1] - ref.Origin[1]
	dz := p[2] - ref.Origin[2]
	d := &ref.Direction
	return [3]float64{
		d[0]*dx + d[3]*dy + d[6]*dz,
		d[1]*dx + d[4]*dy + d[7]*dz,
		d[2]*dx + d[5]*dy + d[8]*dz,
	}
}

// evenUp rounds n up to the next even positive integer. Even extents keep
// the doubled FFT shapes used by the filters well-formed.
func evenUp(n int) int {
	if n < 2 {
		return 2
	}
	if n%2 != 0 {
		return n + 1
	}
	return n
}
