package resample

import (
	"math"
	"testing"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

func TestTrilinearAtSampleSites(t *testing.T) {
	v := models.NewVolume(4, 4, 4)
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				v.Set(x, y, z, float64(x+10*y+100*z))
			}
		}
	}

	got, inside := Trilinear(v, 2, 3, 1)
	if !inside {
		t.Fatal("sample site reported outside")
	}
	if got != 132 {
		t.Errorf("value at (2,3,1) = %v, want 132", got)
	}
}

func TestTrilinearInterpolatesLinearRamp(t *testing.T) {
	v := models.NewVolume(4, 4, 4)
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				v.Set(x, y, z, float64(x)+2*float64(y)+3*float64(z))
			}
		}
	}

	// Linear functions are reproduced exactly by trilinear interpolation.
	got, _ := Trilinear(v, 1.5, 0.25, 2.75)
	want := 1.5 + 2*0.25 + 3*2.75
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("ramp value = %v, want %v", got, want)
	}
}

func TestTrilinearOutside(t *testing.T) {
	v := models.NewVolume(4, 4, 4)
	if _, inside := Trilinear(v, -0.1, 0, 0); inside {
		t.Error("point before first sample reported inside")
	}
	if _, inside := Trilinear(v, 0, 3.1, 0); inside {
		t.Error("point past last sample reported inside")
	}
}

func TestToGridIdentityPreservesValues(t *testing.T) {
	v := models.NewVolume(6, 6, 6)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	grid := &models.HighResGrid{
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Spacing:   1,
		Nx:        6, Ny: 6, Nz: 6,
	}

	out, mask := ToGrid(v, grid, models.Identity())
	for i := range out.Data {
		if !mask[i] {
			t.Fatalf("voxel %d outside coverage on identical lattice", i)
		}
		if math.Abs(out.Data[i]-v.Data[i]) > 1e-12 {
			t.Fatalf("voxel %d = %v, want %v", i, out.Data[i], v.Data[i])
		}
	}
}

func TestToGridCoverageMask(t *testing.T) {
	v := models.NewVolume(4, 4, 4) // 4mm cube at the grid's low corner
	grid := &models.HighResGrid{
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Spacing:   1,
		Nx:        8, Ny: 8, Nz: 8,
	}

	_, mask := ToGrid(v, grid, models.Identity())
	covered := 0
	for _, in := range mask {
		if in {
			covered++
		}
	}
	if covered != 4*4*4 {
		t.Errorf("covered %d voxels, want 64", covered)
	}
}

func TestToGridTranslationShiftsContent(t *testing.T) {
	v := models.NewVolume(8, 8, 8)
	v.Set(2, 2, 2, 1.0)
	grid := &models.HighResGrid{
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Spacing:   1,
		Nx:        8, Ny: 8, Nz: 8,
	}
	// The transform maps volume frame to reference frame with +3mm in x,
	// so the bright voxel lands at x=5 on the grid.
	tr := models.RigidTransform{Translation: [3]float64{3, 0, 0}}

	out, _ := ToGrid(v, grid, tr)
	if got := out.At(5, 2, 2); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("shifted voxel = %v, want 1.0", got)
	}
	if got := out.At(2, 2, 2); got != 0 {
		t.Errorf("original site = %v, want 0", got)
	}
}

func TestCanonicalizeFlipped(t *testing.T) {
	v := models.NewVolume(3, 4, 5)
	// x axis pointing in the negative physical x direction.
	v.Direction = [9]float64{-1, 0, 0, 0, 1, 0, 0, 0, 1}
	v.Origin = [3]float64{10, 0, 0}
	v.Set(0, 1, 2, 7)

	c := Canonicalize(v)
	if c.Direction != [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1} {
		t.Fatalf("direction = %v, want identity", c.Direction)
	}
	// Sample (0,1,2) sat at physical x=10; after the flip it is array x=2.
	if got := c.At(2, 1, 2); got != 7 {
		t.Errorf("flipped sample = %v, want 7", got)
	}
	// Physical positions must be preserved exactly.
	p := c.VoxelToPhysical(2, 1, 2)
	q := v.VoxelToPhysical(0, 1, 2)
	for a := 0; a < 3; a++ {
		if math.Abs(p[a]-q[a]) > 1e-12 {
			t.Fatalf("physical position changed: %v vs %v", p, q)
		}
	}
}

func TestCanonicalizePermuted(t *testing.T) {
	v := models.NewVolume(3, 4, 5)
	// Array axes (x,y,z) map to physical (y,z,x).
	v.Direction = [9]float64{
		0, 0, 1,
		1, 0, 0,
		0, 1, 0,
	}
	v.Spacing = [3]float64{1, 2, 3}
	v.Set(1, 2, 3, 9)

	c := Canonicalize(v)
	if c.Direction != [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1} {
		t.Fatalf("direction = %v, want identity", c.Direction)
	}
	if c.Nx != 5 || c.Ny != 3 || c.Nz != 4 {
		t.Fatalf("dims = %v, want [5 3 4]", c.Dims())
	}
	if c.Spacing != [3]float64{3, 1, 2} {
		t.Fatalf("spacing = %v, want [3 1 2]", c.Spacing)
	}
	if got := c.At(3, 1, 2); got != 9 {
		t.Errorf("permuted sample = %v, want 9", got)
	}
}
