// Package resample moves sample data between physical frames: canonical
// reorientation of input acquisitions, and trilinear resampling of volumes
// onto the high-resolution grid or onto another volume's lattice. Linear
// interpolation is used throughout; nearest-neighbor would alias the thick
// slices the forward model later has to explain.
package resample

import (
	"math"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// Trilinear samples the volume at continuous voxel coordinates. The second
// return value reports whether the point lies inside the volume's sampled
// extent; outside points return zero.
func Trilinear(v *models.Volume, x, y, z float64) (float64, bool) {
	if x < 0 || y < 0 || z < 0 ||
		x > float64(v.Nx-1) || y > float64(v.Ny-1) || z > float64(v.Nz-1) {
		return 0, false
	}

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))
	x1, y1, z1 := x0+1, y0+1, z0+1
	if x1 >= v.Nx {
		x1 = x0
	}
	if y1 >= v.Ny {
		y1 = y0
	}
	if z1 >= v.Nz {
		z1 = z0
	}

	fx := x - float64(x0)
	fy := y - float64(y0)
	fz := z - float64(z0)

	c000 := v.At(x0, y0, z0)
	c100 := v.At(x1, y0, z0)
	c010 := v.At(x0, y1, z0)
	c110 := v.At(x1, y1, z0)
	c001 := v.At(x0, y0, z1)
	c101 := v.At(x1, y0, z1)
	c011 := v.At(x0, y1, z1)
	c111 := v.At(x1, y1, z1)

	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz, true
}

// ToGrid resamples a volume onto the high-resolution grid. The transform
// maps the volume's physical frame into the common reference frame, so each
// grid point is pulled through its inverse. Returns the resampled volume
// and a coverage mask marking grid voxels inside the source field of view.
func ToGrid(v *models.Volume, grid *models.HighResGrid, t models.RigidTransform) (*models.Volume, []bool) {
	out := grid.NewVolume()
	mask := make([]bool, grid.NumVoxels())

	idx := 0
	for k := 0; k < grid.Nz; k++ {
		for j := 0; j < grid.Ny; j++ {
			for i := 0; i < grid.Nx; i++ {
				p := grid.VoxelToPhysical(float64(i), float64(j), float64(k))
				q := t.ApplyInverse(p)
				c := v.PhysicalToVoxel(q)
				val, inside := Trilinear(v, c[0], c[1], c[2])
				out.Data[idx] = val
				mask[idx] = inside
				idx++
			}
		}
	}
	return out, mask
}

// Like resamples a volume onto the lattice of target, keeping target's
// header. Used by resampling mode to express the first acquisition on the
// high-res lattice without solving.
func Like(v, target *models.Volume) *models.Volume {
	out := models.NewVolume(target.Nx, target.Ny, target.Nz)
	out.Origin = target.Origin
	out.Direction = target.Direction
	out.Spacing = target.Spacing

	idx := 0
	for k := 0; k < target.Nz; k++ {
		for j := 0; j < target.Ny; j++ {
			for i := 0; i < target.Nx; i++ {
				p := target.VoxelToPhysical(float64(i), float64(j), float64(k))
				c := v.PhysicalToVoxel(p)
				val, _ := Trilinear(v, c[0], c[1], c[2])
				out.Data[idx] = val
				idx++
			}
		}
	}
	return out
}

// Canonicalize reorders and flips the volume's array axes so that array
// axis a is most closely aligned with physical axis a with positive sign,
// the same normalization the original pipeline applies to every input
// before geometry estimation. The operation is a lossless permutation of
// samples; no interpolation happens and the rotation residual stays in the
// direction matrix.
func Canonicalize(v *models.Volume) *models.Volume {
	// srcAxis[w] is the array axis of v whose direction is dominant along
	// world axis w; flip[w] is true when it points in the negative sense.
	var srcAxis [3]int
	var flip [3]bool
	used := [3]bool{}
	for w := 0; w < 3; w++ {
		best := -1.0
		for a := 0; a < 3; a++ {
			if used[a] {
				continue
			}
			if c := math.Abs(v.Direction[w*3+a]); c > best {
				best = c
				srcAxis[w] = a
			}
		}
		used[srcAxis[w]] = true
		flip[w] = v.Direction[w*3+srcAxis[w]] < 0
	}

	dims := v.Dims()
	out := models.NewVolume(dims[srcAxis[0]], dims[srcAxis[1]], dims[srcAxis[2]])
	for w := 0; w < 3; w++ {
		out.Spacing[w] = v.Spacing[srcAxis[w]]
		for row := 0; row < 3; row++ {
			c := v.Direction[row*3+srcAxis[w]]
			if flip[w] {
				c = -c
			}
			out.Direction[row*3+w] = c
		}
	}

	// New origin: the source voxel that becomes (0,0,0) after the flip.
	var corner [3]float64
	for w := 0; w < 3; w++ {
		if flip[w] {
			corner[srcAxis[w]] = float64(dims[srcAxis[w]] - 1)
		}
	}
	out.Origin = v.VoxelToPhysical(corner[0], corner[1], corner[2])

	outDims := out.Dims()
	var src [3]int
	var dst [3]int
	for dst[2] = 0; dst[2] < outDims[2]; dst[2]++ {
		for dst[1] = 0; dst[1] < outDims[1]; dst[1]++ {
			for dst[0] = 0; dst[0] < outDims[0]; dst[0]++ {
				for w := 0; w < 3; w++ {
					i := dst[w]
					if flip[w] {
						i = dims[srcAxis[w]] - 1 - i
					}
					src[srcAxis[w]] = i
				}
				out.Set(dst[0], dst[1], dst[2], v.At(src[0], src[1], src[2]))
			}
		}
	}
	return out
}
