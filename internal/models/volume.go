// Package models defines the shared data model for the reconstruction
// pipeline: volumes with physical-space headers, the target high-resolution
// grid, rigid transforms, guidance fields, and the structured failure types
// surfaced by the individual stages.
package models

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Orientation tags a low-resolution acquisition as sagittal, coronal or
// axial. The tag identifies the acquisition within a reconstruction group;
// the actual anisotropy direction is always derived from the volume's own
// header, never assumed from the tag.
type Orientation string

const (
	Sagittal Orientation = "sag"
	Coronal  Orientation = "cor"
	Axial    Orientation = "ax"
)

// AcqOrder is the canonical ordering of acquisitions within a group.
// The first entry is the default registration reference.
var AcqOrder = []Orientation{Sagittal, Coronal, Axial}

// AcquisitionParams describes the through-plane response of one acquisition.
type AcquisitionParams struct {
	// SliceThickness is the excited slice thickness in mm.
	SliceThickness float64

	// SliceGap is the inter-slice gap in mm (zero for contiguous slices).
	SliceGap float64

	// InPlaneSpacing is the acquired in-plane pixel spacing in mm.
	InPlaneSpacing float64
}

// SliceSpacing is the center-to-center distance between acquired slices.
func (p AcquisitionParams) SliceSpacing() float64 {
	return p.SliceThickness + p.SliceGap
}

// Volume is a 3-D array of real-valued samples with a physical-space header.
// Samples are stored in row-major order with x fastest: the sample at voxel
// (x,y,z) lives at Data[z*Nx*Ny + y*Nx + x], matching the layout the rest of
// the pipeline and the I/O boundary use.
type Volume struct {
	Data []float64

	// Nx, Ny, Nz are the voxel counts along the three array axes.
	Nx, Ny, Nz int

	// Origin is the physical position of voxel (0,0,0) in mm.
	Origin [3]float64

	// Direction holds the 3x3 direction-cosine matrix in row-major order.
	// Column j is the physical direction of array axis j. Must be
	// orthonormal; validated by CheckHeader.
	Direction [9]float64

	// Spacing is the voxel spacing along each array axis in mm.
	// All components must be strictly positive.
	Spacing [3]float64
}

// NewVolume allocates a zero-filled volume with an identity direction matrix
// and unit spacing.
func NewVolume(nx, ny, nz int) *Volume {
	return &Volume{
		Data:      make([]float64, nx*ny*nz),
		Nx:        nx,
		Ny:        ny,
		Nz:        nz,
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Spacing:   [3]float64{1, 1, 1},
	}
}

// Index returns the flat index of voxel (x,y,z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Nx*v.Ny + y*v.Nx + x
}

// At returns the sample at voxel (x,y,z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Nx*v.Ny+y*v.Nx+x]
}

// Set stores a sample at voxel (x,y,z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[z*v.Nx*v.Ny+y*v.Nx+x] = value
}

// Dims returns the voxel counts along the three axes.
func (v *Volume) Dims() [3]int {
	return [3]int{v.Nx, v.Ny, v.Nz}
}

// Clone returns a deep copy of the volume, header included.
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// VoxelToPhysical maps continuous voxel coordinates to physical space:
// p = origin + R * (spacing .* idx).
func (v *Volume) VoxelToPhysical(i, j, k float64) [3]float64 {
	si, sj, sk := i*v.Spacing[0], j*v.Spacing[1], k*v.Spacing[2]
	d := &v.Direction
	return [3]float64{
		v.Origin[0] + d[0]*si + d[1]*sj + d[2]*sk,
		v.Origin[1] + d[3]*si + d[4]*sj + d[5]*sk,
		v.Origin[2] + d[6]*si + d[7]*sj + d[8]*sk,
	}
}

// PhysicalToVoxel maps a physical point to continuous voxel coordinates.
// Relies on the direction matrix being orthonormal, so its inverse is its
// transpose.
func (v *Volume) PhysicalToVoxel(p [3]float64) [3]float64 {
	dx := p[0] - v.Origin[0]
	dy := p[1] - v.Origin[1]
	dz := p[2] - v.Origin[2]
	d := &v.Direction
	return [3]float64{
		(d[0]*dx + d[3]*dy + d[6]*dz) / v.Spacing[0],
		(d[1]*dx + d[4]*dy + d[7]*dz) / v.Spacing[1],
		(d[2]*dx + d[5]*dy + d[8]*dz) / v.Spacing[2],
	}
}

// ThroughPlaneAxis returns the array axis with the coarsest spacing, which
// for a thick-slice acquisition is the slice-selection direction.
func (v *Volume) ThroughPlaneAxis() int {
	axis := 0
	for a := 1; a < 3; a++ {
		if v.Spacing[a] > v.Spacing[axis] {
			axis = a
		}
	}
	return axis
}

// MinInPlaneSpacing returns the smallest spacing over the two axes that are
// not the through-plane axis.
func (v *Volume) MinInPlaneSpacing() float64 {
	tp := v.ThroughPlaneAxis()
	best := math.Inf(1)
	for a := 0; a < 3; a++ {
		if a == tp {
			continue
		}
		if v.Spacing[a] < best {
			best = v.Spacing[a]
		}
	}
	return best
}

// WorldAxis returns the physical axis (0..2) that array axis a of this
// volume is most closely aligned with.
func (v *Volume) WorldAxis(a int) int {
	d := &v.Direction
	best, world := 0.0, 0
	for row := 0; row < 3; row++ {
		if c := math.Abs(d[row*3+a]); c > best {
			best = c
			world = row
		}
	}
	return world
}

// HeaderTolerance is the allowed deviation from orthonormality for
// direction-cosine matrices.
const HeaderTolerance = 1e-4

// CheckHeader validates the physical-space header: strictly positive
// spacing and an orthonormal direction matrix within HeaderTolerance.
// Returns a DegenerateGeometryError describing the first violation found.
func (v *Volume) CheckHeader(tag Orientation) error {
	for a := 0; a < 3; a++ {
		if !(v.Spacing[a] > 0) || math.IsInf(v.Spacing[a], 0) || math.IsNaN(v.Spacing[a]) {
			return &DegenerateGeometryError{
				Orientation: tag,
				Reason:      "spacing components must be strictly positive",
			}
		}
	}

	d := mat.NewDense(3, 3, v.Direction[:])
	var dtd mat.Dense
	dtd.Mul(d.T(), d)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(dtd.At(i, j)-want) > HeaderTolerance {
				return &DegenerateGeometryError{
					Orientation: tag,
					Reason:      "direction matrix is not orthonormal",
				}
			}
		}
	}
	return nil
}
