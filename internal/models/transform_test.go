package models

import (
	"math"
	"testing"
)

func TestTransformRoundTrip(t *testing.T) {
	tr := RigidTransform{
		Rotation:    [3]float64{0.1, -0.2, 0.3},
		Translation: [3]float64{5, -3, 1.5},
		Center:      [3]float64{10, 20, 30},
	}

	points := [][3]float64{
		{0, 0, 0},
		{10, 20, 30},
		{-5, 7, 100},
	}
	for _, p := range points {
		q := tr.Apply(p)
		back := tr.ApplyInverse(q)
		for a := 0; a < 3; a++ {
			if math.Abs(back[a]-p[a]) > 1e-10 {
				t.Errorf("round trip of %v drifted: got %v", p, back)
				break
			}
		}
	}
}

func TestTransformPreservesDistances(t *testing.T) {
	tr := RigidTransform{
		Rotation:    [3]float64{0.4, 0.1, -0.25},
		Translation: [3]float64{-2, 8, 3},
		Center:      [3]float64{1, 2, 3},
	}

	a := [3]float64{0, 0, 0}
	b := [3]float64{3, 4, 12}
	qa, qb := tr.Apply(a), tr.Apply(b)

	want := 13.0
	got := math.Sqrt(sq(qb[0]-qa[0]) + sq(qb[1]-qa[1]) + sq(qb[2]-qa[2]))
	if math.Abs(got-want) > 1e-10 {
		t.Errorf("rigid transform changed a distance: %g != %g", got, want)
	}
}

func sq(v float64) float64 { return v * v }

func TestIdentityFixedPoint(t *testing.T) {
	id := Identity()
	if !id.IsIdentity() {
		t.Fatal("Identity() is not the identity")
	}
	p := [3]float64{1.5, -2.5, 3.5}
	if got := id.Apply(p); got != p {
		t.Errorf("identity moved %v to %v", p, got)
	}
}

func TestParamsRoundTrip(t *testing.T) {
	tr := RigidTransform{
		Rotation:    [3]float64{0.05, 0.1, -0.02},
		Translation: [3]float64{1, 2, 3},
		Center:      [3]float64{4, 5, 6},
	}
	back := FromParams(tr.Params(), tr.Center)
	if back != tr {
		t.Errorf("params round trip: %+v != %+v", back, tr)
	}
}

func TestRotationAboutCenter(t *testing.T) {
	// Rotating about a center leaves the center fixed when there is no
	// translation.
	tr := RigidTransform{
		Rotation: [3]float64{0, 0, math.Pi / 2},
		Center:   [3]float64{5, 5, 0},
	}
	if got := tr.Apply(tr.Center); got != tr.Center {
		t.Errorf("rotation moved its own center to %v", got)
	}

	// A point 1mm along +x from the center maps 1mm along +y.
	got := tr.Apply([3]float64{6, 5, 0})
	want := [3]float64{5, 6, 0}
	for a := 0; a < 3; a++ {
		if math.Abs(got[a]-want[a]) > 1e-12 {
			t.Errorf("rotated point = %v, want %v", got, want)
			break
		}
	}
}
