package models

import "math"

// GuidanceField is a gradient vector field on the high-resolution grid,
// one vector per voxel, representing the expected edge direction and
// magnitude of the reconstructed anatomy. Components are stored as three
// grid-shaped arrays sharing the Volume sample layout.
type GuidanceField struct {
	X, Y, Z []float64

	Nx, Ny, Nz int
}

// NewGuidanceField allocates a zero field on a grid of the given shape.
func NewGuidanceField(nx, ny, nz int) *GuidanceField {
	n := nx * ny * nz
	return &GuidanceField{
		X:  make([]float64, n),
		Y:  make([]float64, n),
		Z:  make([]float64, n),
		Nx: nx, Ny: ny, Nz: nz,
	}
}

// Dims returns the field's grid shape.
func (f *GuidanceField) Dims() [3]int {
	return [3]int{f.Nx, f.Ny, f.Nz}
}

// NumVoxels returns the number of vectors in the field.
func (f *GuidanceField) NumVoxels() int {
	return f.Nx * f.Ny * f.Nz
}

// Magnitude returns the vector magnitude at flat index i.
func (f *GuidanceField) Magnitude(i int) float64 {
	return math.Sqrt(f.X[i]*f.X[i] + f.Y[i]*f.Y[i] + f.Z[i]*f.Z[i])
}

// Matches reports whether the field is defined on exactly the given grid's
// lattice.
func (f *GuidanceField) Matches(g *HighResGrid) bool {
	return f.Nx == g.Nx && f.Ny == g.Ny && f.Nz == g.Nz
}
