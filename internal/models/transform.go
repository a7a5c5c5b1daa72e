package models

import "math"

// RigidTransform is a 6-degree-of-freedom mapping from one volume's physical
// frame into the common reference frame: three Euler rotation angles in
// radians followed by a translation in mm. Transforms are estimated once by
// the alignment stage and applied by resampling; the source volume is never
// mutated.
type RigidTransform struct {
	// Rotation holds the Euler angles (rx, ry, rz) in radians, applied in
	// Z*Y*X order about the rotation center.
	Rotation [3]float64

	// Translation is the offset in mm, applied after rotation.
	Translation [3]float64

	// Center is the physical rotation center in mm, conventionally the
	// center of the reference volume.
	Center [3]float64
}

// Identity returns the do-nothing transform, used as reference convention
// and as the alignment fallback.
func Identity() RigidTransform {
	return RigidTransform{}
}

// IsIdentity reports whether all six parameters are exactly zero.
func (t RigidTransform) IsIdentity() bool {
	return t.Rotation == [3]float64{} && t.Translation == [3]float64{}
}

// Params returns the transform as a flat 6-vector (rx, ry, rz, tx, ty, tz),
// the parameterization the alignment optimizer works on.
func (t RigidTransform) Params() [6]float64 {
	return [6]float64{
		t.Rotation[0], t.Rotation[1], t.Rotation[2],
		t.Translation[0], t.Translation[1], t.Translation[2],
	}
}

// FromParams builds a transform from the optimizer's 6-vector, keeping the
// given rotation center.
func FromParams(p [6]float64, center [3]float64) RigidTransform {
	return RigidTransform{
		Rotation:    [3]float64{p[0], p[1], p[2]},
		Translation: [3]float64{p[3], p[4], p[5]},
		Center:      center,
	}
}

// matrix returns the composed rotation matrix Rz*Ry*Rx in row-major order.
func (t RigidTransform) matrix() [9]float64 {
	cx, sx := math.Cos(t.Rotation[0]), math.Sin(t.Rotation[0])
	cy, sy := math.Cos(t.Rotation[1]), math.Sin(t.Rotation[1])
	cz, sz := math.Cos(t.Rotation[2]), math.Sin(t.Rotation[2])
	return [9]float64{
		cy * cz, sx*sy*cz - cx*sz, cx*sy*cz + sx*sz,
		cy * sz, sx*sy*sz + cx*cz, cx*sy*sz - sx*cz,
		-sy, sx * cy, cx * cy,
	}
}

// Apply maps a physical point through the transform:
// q = R*(p - c) + c + translation.
func (t RigidTransform) Apply(p [3]float64) [3]float64 {
	m := t.matrix()
	dx := p[0] - t.Center[0]
	dy := p[1] - t.Center[1]
	dz := p[2] - t.Center[2]
	return [3]float64{
		m[0]*dx + m[1]*dy + m[2]*dz + t.Center[0] + t.Translation[0],
		m[3]*dx + m[4]*dy + m[5]*dz + t.Center[1] + t.Translation[1],
		m[6]*dx + m[7]*dy + m[8]*dz + t.Center[2] + t.Translation[2],
	}
}

// ApplyInverse maps a physical point through the inverse transform:
// p = R^T*(q - c - translation) + c. Used when resampling, where the output
// lattice is traversed and each target point is pulled from the source.
func (t RigidTransform) ApplyInverse(q [3]float64) [3]float64 {
	m := t.matrix()
	dx := q[0] - t.Center[0] - t.Translation[0]
	dy := q[1] - t.Center[1] - t.Translation[1]
	dz := q[2] - t.Center[2] - t.Translation[2]
	return [3]float64{
		m[0]*dx + m[3]*dy + m[6]*dz + t.Center[0],
		m[1]*dx + m[4]*dy + m[7]*dz + t.Center[1],
		m[2]*dx + m[5]*dy + m[8]*dz + t.Center[2],
	}
}
