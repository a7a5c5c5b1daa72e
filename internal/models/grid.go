package models

// HighResGrid is the target geometry of a reconstruction: an isotropic,
// axis-aligned voxel lattice covering the union of the aligned inputs.
// It is computed once per reconstruction group and immutable thereafter.
type HighResGrid struct {
	// Origin is the physical position of voxel (0,0,0) in mm.
	Origin [3]float64

	// Direction is the 3x3 direction-cosine matrix in row-major order,
	// inherited from the reference acquisition's canonical frame.
	Direction [9]float64

	// Spacing is the single isotropic voxel spacing in mm, applied to all
	// three axes.
	Spacing float64

	// Nx, Ny, Nz are the voxel counts per axis. They are always even, which
	// keeps the padded frequency-domain shapes friendly.
	Nx, Ny, Nz int
}

// NumVoxels returns the total sample count of the grid.
func (g *HighResGrid) NumVoxels() int {
	return g.Nx * g.Ny * g.Nz
}

// Dims returns the voxel counts along the three axes.
func (g *HighResGrid) Dims() [3]int {
	return [3]int{g.Nx, g.Ny, g.Nz}
}

// NewVolume allocates a zero-filled volume on this grid, carrying the grid's
// header.
func (g *HighResGrid) NewVolume() *Volume {
	v := NewVolume(g.Nx, g.Ny, g.Nz)
	v.Origin = g.Origin
	v.Direction = g.Direction
	v.Spacing = [3]float64{g.Spacing, g.Spacing, g.Spacing}
	return v
}

// VoxelToPhysical maps continuous grid coordinates to physical space.
func (g *HighResGrid) VoxelToPhysical(i, j, k float64) [3]float64 {
	si, sj, sk := i*g.Spacing, j*g.Spacing, k*g.Spacing
	d := &g.Direction
	return [3]float64{
		g.Origin[0] + d[0]*si + d[1]*sj + d[2]*sk,
		g.Origin[1] + d[3]*si + d[4]*sj + d[5]*sk,
		g.Origin[2] + d[6]*si + d[7]*sj + d[8]*sk,
	}
}

// PhysicalToVoxel maps a physical point to continuous grid coordinates.
func (g *HighResGrid) PhysicalToVoxel(p [3]float64) [3]float64 {
	dx := p[0] - g.Origin[0]
	dy := p[1] - g.Origin[1]
	dz := p[2] - g.Origin[2]
	d := &g.Direction
	return [3]float64{
		(d[0]*dx + d[3]*dy + d[6]*dz) / g.Spacing,
		(d[1]*dx + d[4]*dy + d[7]*dz) / g.Spacing,
		(d[2]*dx + d[5]*dy + d[8]*dz) / g.Spacing,
	}
}

// Equal reports whether two grids describe bit-identical geometry.
func (g *HighResGrid) Equal(o *HighResGrid) bool {
	if g.Nx != o.Nx || g.Ny != o.Ny || g.Nz != o.Nz || g.Spacing != o.Spacing {
		return false
	}
	if g.Origin != o.Origin || g.Direction != o.Direction {
		return false
	}
	return true
}
