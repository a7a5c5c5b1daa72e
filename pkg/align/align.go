// Package align estimates the rigid transform bringing each acquisition
// into the reference acquisition's physical frame. Registration maximizes
// normalized cross-correlation over a random subsample of reference voxels
// with a derivative-free simplex search; header geometry has already placed
// the inputs approximately, so the search only has to absorb inter-scan
// motion of a few millimeters and degrees.
package align

import (
	"math"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/optimize"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/pkg/resample"
)

// Options bounds the registration search.
type Options struct {
	// Samples is the number of reference voxels the similarity metric
	// evaluates. Drawn once per registration so every candidate transform
	// is scored on the same point set.
	Samples int

	// MaxEvaluations caps metric evaluations inside the simplex search.
	MaxEvaluations int

	// MinOverlap is the minimum fraction of sampled points that must land
	// inside the moving volume for the metric to be trusted.
	MinOverlap float64
}

// DefaultOptions returns the search bounds used by the pipeline.
func DefaultOptions() Options {
	return Options{
		Samples:        8192,
		MaxEvaluations: 2000,
		MinOverlap:     0.25,
	}
}

// samplePoint is one metric sample: a reference-frame physical position and
// the reference intensity there.
type samplePoint struct {
	pos [3]float64
	val float64
}

// Register estimates the rigid transform mapping moving-frame positions to
// the reference frame, with rotation about the reference volume's physical
// center. On failure the identity transform is returned together with an
// AlignmentFailure; the caller records the fallback and continues.
func Register(tag models.Orientation, moving, reference *models.Volume, opt Options) (models.RigidTransform, error) {
	if opt.Samples <= 0 || opt.MaxEvaluations <= 0 {
		opt = DefaultOptions()
	}

	center := volumeCenter(reference)
	identity := models.Identity()
	identity.Center = center

	points := drawSamples(reference, opt.Samples)
	if len(points) == 0 {
		return identity, &models.AlignmentFailure{Orientation: tag, Reason: "reference volume has no foreground samples"}
	}

	cost := func(x []float64) float64 {
		var p [6]float64
		copy(p[:], x)
		return negNCC(points, moving, models.FromParams(p, center), opt.MinOverlap)
	}

	x0 := identity.Params()
	base := cost(x0[:])
	if !isFinite(base) {
		return identity, &models.AlignmentFailure{Orientation: tag, Reason: "insufficient overlap at header alignment"}
	}

	problem := optimize.Problem{Func: cost}
	settings := &optimize.Settings{FuncEvaluations: opt.MaxEvaluations}
	result, err := optimize.Minimize(problem, x0[:], settings, &optimize.NelderMead{})
	if err != nil {
		return identity, &models.AlignmentFailure{Orientation: tag, Reason: err.Error()}
	}

	if !isFinite(result.F) || result.F > base {
		// The search wandered out of overlap or did not beat the header
		// placement.
		return identity, &models.AlignmentFailure{Orientation: tag, Reason: "search did not improve on header alignment"}
	}

	var p [6]float64
	copy(p[:], result.X)
	return models.FromParams(p, center), nil
}

// negNCC scores a candidate transform: negative normalized cross-correlation
// between the sampled reference intensities and the moving volume sampled at
// the transform's preimage of each point. +Inf when overlap or contrast is
// insufficient, which steers the simplex back toward valid poses.
func negNCC(points []samplePoint, moving *models.Volume, t models.RigidTransform, minOverlap float64) float64 {
	var sumR, sumM, sumRR, sumMM, sumRM float64
	n := 0
	for _, s := range points {
		q := t.ApplyInverse(s.pos)
		v := moving.PhysicalToVoxel(q)
		m, ok := resample.Trilinear(moving, v[0], v[1], v[2])
		if !ok {
			continue
		}
		sumR += s.val
		sumM += m
		sumRR += s.val * s.val
		sumMM += m * m
		sumRM += s.val * m
		n++
	}
	if float64(n) < minOverlap*float64(len(points)) {
		return math.Inf(1)
	}
	fn := float64(n)
	varR := sumRR - sumR*sumR/fn
	varM := sumMM - sumM*sumM/fn
	if varR <= 0 || varM <= 0 {
		return math.Inf(1)
	}
	cov := sumRM - sumR*sumM/fn
	return -cov / math.Sqrt(varR*varM)
}

// drawSamples subsamples reference voxels for the metric, skipping
// background so the correlation is driven by anatomy rather than air.
func drawSamples(reference *models.Volume, count int) []samplePoint {
	total := reference.Nx * reference.Ny * reference.Nz
	if count > total {
		count = total
	}

	rng := fastrand.RNG{}
	points := make([]samplePoint, 0, count)
	attempts := 0
	for len(points) < count && attempts < count*4 {
		attempts++
		idx := int(rng.Uint32n(uint32(total)))
		val := reference.Data[idx]
		if val == 0 {
			continue
		}
		x := idx % reference.Nx
		y := (idx / reference.Nx) % reference.Ny
		z := idx / (reference.Nx * reference.Ny)
		points = append(points, samplePoint{
			pos: reference.VoxelToPhysical(float64(x), float64(y), float64(z)),
			val: val,
		})
	}
	return points
}

// volumeCenter returns the physical position of the volume's lattice center.
func volumeCenter(v *models.Volume) [3]float64 {
	return v.VoxelToPhysical(
		float64(v.Nx-1)/2,
		float64(v.Ny-1)/2,
		float64(v.Nz-1)/2,
	)
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
