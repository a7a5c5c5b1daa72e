package guidance

import (
	"errors"
	"math"
	"testing"

	"github.com/kshedden/gonpy"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

func rampVolume(grid *models.HighResGrid, gx, gy, gz float64) *models.Volume {
	v := grid.NewVolume()
	idx := 0
	for z := 0; z < grid.Nz; z++ {
		for y := 0; y < grid.Ny; y++ {
			for x := 0; x < grid.Nx; x++ {
				v.Data[idx] = gx*float64(x) + gy*float64(y) + gz*float64(z)
				idx++
			}
		}
	}
	return v
}

func smallGrid() *models.HighResGrid {
	return &models.HighResGrid{
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Spacing:   1,
		Nx:        8, Ny: 8, Nz: 8,
	}
}

// TestFuseRecoversLinearGradient checks that fusing three orthogonal
// observations of a linear ramp reproduces its exact gradient.
func TestFuseRecoversLinearGradient(t *testing.T) {
	grid := smallGrid()
	ramp := rampVolume(grid, 1, 2, 3)

	inputs := []Input{
		{Volume: ramp, ThroughAxis: 0, InPlaneSpacing: 1},
		{Volume: ramp, ThroughAxis: 1, InPlaneSpacing: 1},
		{Volume: ramp, ThroughAxis: 2, InPlaneSpacing: 1},
	}
	field := Fuse(grid, inputs)

	for i := 0; i < field.NumVoxels(); i++ {
		if math.Abs(field.X[i]-1) > 1e-10 ||
			math.Abs(field.Y[i]-2) > 1e-10 ||
			math.Abs(field.Z[i]-3) > 1e-10 {
			t.Fatalf("voxel %d gradient = (%v,%v,%v), want (1,2,3)",
				i, field.X[i], field.Y[i], field.Z[i])
		}
	}
}

// TestFuseExcludesThroughPlane checks that an orientation's through-plane
// axis never contributes to that axis of the fused field.
func TestFuseExcludesThroughPlane(t *testing.T) {
	grid := smallGrid()
	// A single acquisition whose through-plane axis is z: the fused field
	// must have no z component at all, however strong the ramp.
	ramp := rampVolume(grid, 0, 0, 5)
	field := Fuse(grid, []Input{{Volume: ramp, ThroughAxis: 2, InPlaneSpacing: 1}})

	for i := 0; i < field.NumVoxels(); i++ {
		if field.Z[i] != 0 {
			t.Fatalf("z component = %v at voxel %d, want 0 (unobserved axis)", field.Z[i], i)
		}
	}
}

// TestFuseObservabilityWeights checks the inverse-spacing weighting between
// two orientations observing the same axis with different in-plane spacing.
func TestFuseObservabilityWeights(t *testing.T) {
	grid := smallGrid()
	// Both observe the x axis; their ramps disagree.
	a := rampVolume(grid, 2, 0, 0)
	b := rampVolume(grid, 8, 0, 0)
	field := Fuse(grid, []Input{
		{Volume: a, ThroughAxis: 1, InPlaneSpacing: 1}, // weight 1
		{Volume: b, ThroughAxis: 2, InPlaneSpacing: 2}, // weight 0.5
	})

	// Weighted mean: (1*2 + 0.5*8) / 1.5 = 4.
	i := field.Nx*field.Ny*4 + field.Nx*4 + 4
	if math.Abs(field.X[i]-4) > 1e-10 {
		t.Errorf("fused x gradient = %v, want 4", field.X[i])
	}
}

func TestFuseCoverage(t *testing.T) {
	grid := smallGrid()
	ramp := rampVolume(grid, 1, 0, 0)
	coverage := make([]bool, grid.NumVoxels()) // all false

	field := Fuse(grid, []Input{{Volume: ramp, ThroughAxis: 2, InPlaneSpacing: 1, Coverage: coverage}})
	for i := 0; i < field.NumVoxels(); i++ {
		if field.X[i] != 0 {
			t.Fatalf("uncovered voxel %d received gradient %v", i, field.X[i])
		}
	}
}

func writeField(t *testing.T, path string, shape []int, data []float64) {
	t.Helper()
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		t.Fatalf("failed to create npy writer: %v", err)
	}
	w.Shape = shape
	if err := w.WriteFloat64(data); err != nil {
		t.Fatalf("failed to write npy: %v", err)
	}
}

func TestLoadExternal(t *testing.T) {
	grid := smallGrid()
	n := grid.NumVoxels()
	data := make([]float64, 3*n)
	for i := 0; i < n; i++ {
		data[i] = 1       // x component
		data[n+i] = 2     // y
		data[2*n+i] = 3   // z
	}
	path := t.TempDir() + "/field.npy"
	writeField(t, path, []int{3, grid.Nz, grid.Ny, grid.Nx}, data)

	field, err := LoadExternal(path, grid)
	if err != nil {
		t.Fatalf("LoadExternal failed: %v", err)
	}
	if field.X[0] != 1 || field.Y[0] != 2 || field.Z[0] != 3 {
		t.Errorf("components = (%v,%v,%v), want (1,2,3)", field.X[0], field.Y[0], field.Z[0])
	}
}

func TestLoadExternalShapeMismatch(t *testing.T) {
	grid := smallGrid()
	path := t.TempDir() + "/field.npy"
	writeField(t, path, []int{3, 4, 4, 4}, make([]float64, 3*64))

	_, err := LoadExternal(path, grid)
	var mismatch *models.GuidanceShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want GuidanceShapeMismatchError", err)
	}
	if mismatch.Got != [3]int{4, 4, 4} {
		t.Errorf("got shape = %v, want [4 4 4]", mismatch.Got)
	}
}
