package models

import (
	"errors"
	"math"
	"testing"
)

func TestVoxelPhysicalRoundTrip(t *testing.T) {
	v := NewVolume(4, 4, 4)
	v.Origin = [3]float64{-10, 5, 2}
	// Axes permuted: array x points along world +y, array y along world -z,
	// array z along world +x.
	v.Direction = [9]float64{
		0, 0, 1,
		1, 0, 0,
		0, -1, 0,
	}
	v.Spacing = [3]float64{0.5, 2, 3}

	p := v.VoxelToPhysical(1, 2, 3)
	back := v.PhysicalToVoxel(p)
	want := [3]float64{1, 2, 3}
	for a := 0; a < 3; a++ {
		if math.Abs(back[a]-want[a]) > 1e-12 {
			t.Fatalf("round trip gave %v, want %v", back, want)
		}
	}
}

func TestThroughPlaneAxis(t *testing.T) {
	cases := []struct {
		spacing [3]float64
		want    int
	}{
		{[3]float64{4, 1, 1}, 0},
		{[3]float64{1, 4, 1}, 1},
		{[3]float64{1, 1, 4}, 2},
	}
	for _, tc := range cases {
		v := NewVolume(2, 2, 2)
		v.Spacing = tc.spacing
		if got := v.ThroughPlaneAxis(); got != tc.want {
			t.Errorf("spacing %v: through-plane axis = %d, want %d", tc.spacing, got, tc.want)
		}
		if got := v.MinInPlaneSpacing(); got != 1 {
			t.Errorf("spacing %v: min in-plane spacing = %g, want 1", tc.spacing, got)
		}
	}
}

func TestWorldAxis(t *testing.T) {
	v := NewVolume(2, 2, 2)
	// Array x along world z, array y along world x, array z along world y.
	v.Direction = [9]float64{
		0, 1, 0,
		0, 0, 1,
		1, 0, 0,
	}
	for a, want := range []int{2, 0, 1} {
		if got := v.WorldAxis(a); got != want {
			t.Errorf("WorldAxis(%d) = %d, want %d", a, got, want)
		}
	}
}

func TestCheckHeader(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v := NewVolume(2, 2, 2)
		if err := v.CheckHeader(Sagittal); err != nil {
			t.Errorf("valid header rejected: %v", err)
		}
	})

	t.Run("non-positive spacing", func(t *testing.T) {
		v := NewVolume(2, 2, 2)
		v.Spacing[1] = 0
		var dge *DegenerateGeometryError
		if err := v.CheckHeader(Coronal); !errors.As(err, &dge) {
			t.Fatalf("expected DegenerateGeometryError, got %v", err)
		} else if dge.Orientation != Coronal {
			t.Errorf("error orientation = %s, want cor", dge.Orientation)
		}
	})

	t.Run("sheared direction", func(t *testing.T) {
		v := NewVolume(2, 2, 2)
		v.Direction = [9]float64{1, 0.1, 0, 0, 1, 0, 0, 0, 1}
		var dge *DegenerateGeometryError
		if err := v.CheckHeader(Axial); !errors.As(err, &dge) {
			t.Fatalf("expected DegenerateGeometryError, got %v", err)
		}
	})

	t.Run("tolerates tiny drift", func(t *testing.T) {
		v := NewVolume(2, 2, 2)
		v.Direction[0] = 1 + HeaderTolerance/10
		if err := v.CheckHeader(Sagittal); err != nil {
			t.Errorf("near-orthonormal header rejected: %v", err)
		}
	})
}

func TestProvenanceDegraded(t *testing.T) {
	p := Provenance{Group: "g1", Converged: true}
	if p.Degraded() {
		t.Error("clean run reported degraded")
	}

	p.AlignmentFallbacks = append(p.AlignmentFallbacks, Coronal)
	p.Warn("alignment fallback for %s", Coronal)
	if !p.Degraded() {
		t.Error("alignment fallback not reported as degraded")
	}
	if len(p.Warnings) != 1 {
		t.Errorf("warnings = %v", p.Warnings)
	}

	q := Provenance{Group: "g2", Converged: false}
	if !q.Degraded() {
		t.Error("non-converged run not reported as degraded")
	}
}

func TestSliceSpacing(t *testing.T) {
	p := AcquisitionParams{SliceThickness: 3, SliceGap: 1}
	if got := p.SliceSpacing(); got != 4 {
		t.Errorf("SliceSpacing = %g, want 4", got)
	}
}
