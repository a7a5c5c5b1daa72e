// Package recon orchestrates one reconstruction: canonicalize the three
// orthogonal acquisitions, estimate the common high-resolution grid, align
// and resample, build the forward operators and the regularization term,
// and run the solver. Recoverable stage failures degrade the run and are
// recorded in the output's provenance; fatal ones abort it.
package recon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/internal/nii"
	"github.com/miltoncamacho/ggr-recon/pkg/align"
	"github.com/miltoncamacho/ggr-recon/pkg/config"
	"github.com/miltoncamacho/ggr-recon/pkg/geometry"
	"github.com/miltoncamacho/ggr-recon/pkg/guidance"
	"github.com/miltoncamacho/ggr-recon/pkg/operator"
	"github.com/miltoncamacho/ggr-recon/pkg/profile"
	"github.com/miltoncamacho/ggr-recon/pkg/regularize"
	"github.com/miltoncamacho/ggr-recon/pkg/resample"
	"github.com/miltoncamacho/ggr-recon/pkg/solver"
)

// Outcome is the result of one group's reconstruction.
type Outcome struct {
	Volume     *models.Volume
	Provenance models.Provenance
	Metrics    Metrics
}

// Pipeline runs reconstructions under one configuration, sharing the slice
// profile cache across groups.
type Pipeline struct {
	cfg   *config.Config
	cache *profile.Cache
}

// NewPipeline creates a pipeline for the given configuration.
func NewPipeline(cfg *config.Config) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		cache: profile.NewCache(),
	}
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.cfg.Output.Verbose {
		fmt.Printf(format, args...)
	}
}

// Reconstruct runs the full pipeline for one group of acquisitions and
// returns the isotropic high-resolution volume with its provenance.
func (p *Pipeline) Reconstruct(ctx context.Context, group string, inputs map[models.Orientation]*models.Volume) (*Outcome, error) {
	prov := models.Provenance{Group: group}

	// Step 1: canonical reorientation, so every input's lattice axes line
	// up with the world axes before any geometry is derived.
	p.logf("Step 1: Reorienting acquisitions into the canonical frame...\n")
	vols := make(map[models.Orientation]*models.Volume, len(inputs))
	for tag, v := range inputs {
		vols[tag] = resample.Canonicalize(v)
	}

	// Step 2: the common high-resolution grid.
	p.logf("Step 2: Estimating the high-resolution grid...\n")
	grid, err := p.buildGrid(vols)
	if err != nil {
		return nil, err
	}
	p.logf("Grid: %dx%dx%d at %.3f mm isotropic\n", grid.Nx, grid.Ny, grid.Nz, grid.Spacing)

	// Step 3: rigid alignment to the reference orientation.
	ref := p.reference(vols)
	transforms := make(map[models.Orientation]models.RigidTransform, len(vols))
	if p.cfg.Processing.SkipAlignment {
		p.logf("Step 3: Skipping rigid alignment (headers trusted)...\n")
		for tag := range vols {
			transforms[tag] = models.Identity()
		}
	} else {
		p.logf("Step 3: Aligning acquisitions to the %s reference...\n", ref)
		for tag, v := range vols {
			if tag == ref {
				transforms[tag] = models.Identity()
				continue
			}
			t, err := align.Register(tag, v, vols[ref], align.DefaultOptions())
			var af *models.AlignmentFailure
			if errors.As(err, &af) {
				prov.AlignmentFallbacks = append(prov.AlignmentFallbacks, tag)
				prov.Warn("alignment fallback for %s: %s", tag, af.Reason)
			} else if err != nil {
				return nil, fmt.Errorf("failed to align %s acquisition: %w", tag, err)
			}
			transforms[tag] = t
		}
	}

	// Step 4: resample everything onto the grid.
	p.logf("Step 4: Resampling acquisitions onto the grid...\n")
	aligned := make(map[models.Orientation]*models.Volume, len(vols))
	coverage := make(map[models.Orientation][]bool, len(vols))
	for tag, v := range vols {
		aligned[tag], coverage[tag] = resample.ToGrid(v, grid, transforms[tag])
	}

	// Step 5: forward operators, one per acquisition.
	p.logf("Step 5: Building forward operators...\n")
	var tags []models.Orientation
	for _, tag := range models.AcqOrder {
		if _, ok := vols[tag]; ok {
			tags = append(tags, tag)
		}
	}
	ops := make([]operator.LinearOperator, 0, len(tags))
	observed := make([][]float64, 0, len(tags))
	axes := make(map[models.Orientation]int, len(tags))
	for _, tag := range tags {
		v := vols[tag]
		axes[tag] = v.WorldAxis(v.ThroughPlaneAxis())
		ops = append(ops, operator.Build(grid, operator.Params{
			Orientation: tag,
			Acquisition: p.acquisition(v),
			Axis:        axes[tag],
			Coverage:    coverage[tag],
			Shape:       profile.Shape(p.cfg.Acquisition.ProfileShape),
		}, p.cache))
		observed = append(observed, aligned[tag].Data)
	}

	// Step 6: coverage-weighted mean fusion as the solver's start.
	p.logf("Step 6: Fusing aligned acquisitions into the initial estimate...\n")
	init := fuseMean(grid, tags, aligned, coverage)

	if p.cfg.Output.SaveIntermediaryResults {
		p.saveArtifacts(group, grid, tags, axes, aligned, init)
	}

	// Step 7: the regularization term.
	p.logf("Step 7: Building the %s regularization term...\n", p.cfg.Solver.Mode)
	term, err := p.buildTerm(grid, tags, vols, aligned, coverage)
	if err != nil {
		return nil, err
	}

	// Step 8: the regularized least-squares solve.
	p.logf("Step 8: Solving the reconstruction problem...\n")
	opts := solver.Options{
		MaxIterations: p.cfg.Solver.MaxIterations,
		Tolerance:     p.cfg.Solver.Tolerance,
		IRLSPasses:    p.cfg.Solver.IRLSPasses,
		IRLSEpsilon:   p.cfg.Solver.IRLSEpsilon,
	}
	res, err := solver.Solve(ctx, &solver.Problem{
		Grid:      grid,
		Operators: ops,
		Observed:  observed,
		Term:      term,
		Init:      init,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("solver failed: %w", err)
	}

	prov.Converged = res.Converged
	prov.Iterations = res.Iterations
	prov.FinalChange = res.FinalChange
	if ncErr := res.NonConvergenceError(opts); ncErr != nil {
		prov.Warn("%v", ncErr)
	}

	p.logf("Step 9: Computing summary metrics...\n")
	metrics := computeMetrics(res, tags, ops, observed)

	return &Outcome{
		Volume:     res.Volume,
		Provenance: prov,
		Metrics:    metrics,
	}, nil
}

// ResampleOnly resamples a single acquisition onto the high-resolution grid
// and returns it, without alignment or deconvolution. Used to preview or
// pin down an explicit grid.
func (p *Pipeline) ResampleOnly(tag models.Orientation, v *models.Volume) (*models.Volume, error) {
	canon := resample.Canonicalize(v)

	var grid *models.HighResGrid
	if g := p.cfg.Grid; g.Spacing > 0 && len(g.Size) == 3 {
		built, err := p.buildGrid(map[models.Orientation]*models.Volume{tag: canon})
		if err != nil {
			return nil, err
		}
		grid = built
	} else {
		est, err := geometry.EstimateSingle(tag, canon)
		if err != nil {
			return nil, err
		}
		grid = est
	}

	out, _ := resample.ToGrid(canon, grid, models.Identity())
	return out, nil
}

// buildGrid returns the configured override grid if one is given, otherwise
// estimates the grid from the three headers.
func (p *Pipeline) buildGrid(vols map[models.Orientation]*models.Volume) (*models.HighResGrid, error) {
	g := p.cfg.Grid
	if g.Spacing > 0 && len(g.Size) == 3 {
		for tag, v := range vols {
			if err := v.CheckHeader(tag); err != nil {
				return nil, err
			}
		}
		if len(vols) == 0 {
			return nil, &models.InsufficientInputError{Have: 0, Missing: models.AcqOrder}
		}
		ov := geometry.Override{
			Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
			Spacing:   g.Spacing,
			Size:      [3]int{g.Size[0], g.Size[1], g.Size[2]},
		}
		if len(g.Direction) == 9 {
			copy(ov.Direction[:], g.Direction)
		}
		if len(g.Origin) == 3 {
			ov.Origin = [3]float64{g.Origin[0], g.Origin[1], g.Origin[2]}
		}
		return ov.Grid(), nil
	}
	return geometry.Estimate(vols, p.reference(vols))
}

// reference returns the configured reference orientation, falling back to
// the first present acquisition when the configured one is absent.
func (p *Pipeline) reference(vols map[models.Orientation]*models.Volume) models.Orientation {
	ref := models.Orientation(p.cfg.Acquisition.Reference)
	if vols == nil {
		return ref
	}
	if _, ok := vols[ref]; ok {
		return ref
	}
	for _, tag := range models.AcqOrder {
		if _, ok := vols[tag]; ok {
			return tag
		}
	}
	return ref
}

// acquisition builds the acquisition parameters for one canonicalized input.
func (p *Pipeline) acquisition(v *models.Volume) models.AcquisitionParams {
	return models.AcquisitionParams{
		SliceThickness: p.cfg.Acquisition.SliceThickness,
		SliceGap:       p.cfg.Acquisition.SliceGap,
		InPlaneSpacing: v.MinInPlaneSpacing(),
	}
}

// buildTerm constructs the regularization term for the configured mode.
func (p *Pipeline) buildTerm(grid *models.HighResGrid, tags []models.Orientation,
	vols, aligned map[models.Orientation]*models.Volume,
	coverage map[models.Orientation][]bool) (*regularize.Term, error) {

	switch regularize.Mode(p.cfg.Solver.Mode) {
	case regularize.GGR:
		var field *models.GuidanceField
		if guidance.Source(p.cfg.Guidance.Source) == guidance.External {
			loaded, err := guidance.LoadExternal(p.cfg.Guidance.Path, grid)
			if err != nil {
				return nil, err
			}
			field = loaded
		} else {
			ins := make([]guidance.Input, 0, len(tags))
			for _, tag := range tags {
				v := vols[tag]
				ins = append(ins, guidance.Input{
					Volume:         aligned[tag],
					ThroughAxis:    v.WorldAxis(v.ThroughPlaneAxis()),
					InPlaneSpacing: v.MinInPlaneSpacing(),
					Coverage:       coverage[tag],
				})
			}
			field = guidance.Fuse(grid, ins)
		}
		return regularize.NewGGR(grid, field, p.cfg.Solver.Weight)
	case regularize.TV:
		return regularize.NewBaseline(grid, regularize.TV, p.cfg.Solver.Weight), nil
	default:
		return regularize.NewBaseline(grid, regularize.Tikhonov, p.cfg.Solver.Weight), nil
	}
}

// fuseMean computes the coverage-weighted mean of the aligned acquisitions:
// per voxel, the mean of the nonzero covered contributions.
func fuseMean(grid *models.HighResGrid, tags []models.Orientation,
	aligned map[models.Orientation]*models.Volume,
	coverage map[models.Orientation][]bool) []float64 {

	n := grid.NumVoxels()
	sum := make([]float64, n)
	count := make([]int, n)
	for _, tag := range tags {
		data := aligned[tag].Data
		cov := coverage[tag]
		for i := 0; i < n; i++ {
			if cov[i] && data[i] != 0 {
				sum[i] += data[i]
				count[i]++
			}
		}
	}
	for i := 0; i < n; i++ {
		if count[i] > 0 {
			sum[i] /= float64(count[i])
		}
	}
	return sum
}

// saveArtifacts dumps intermediate stage outputs into the working directory.
// Failures here only warn; they never abort a reconstruction.
func (p *Pipeline) saveArtifacts(group string, grid *models.HighResGrid,
	tags []models.Orientation, axes map[models.Orientation]int,
	aligned map[models.Orientation]*models.Volume, init []float64) {

	dir := filepath.Join(p.cfg.Output.WorkDir, group)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Printf("Warning: Failed to create working directory: %v\n", err)
		return
	}

	for _, tag := range tags {
		path := filepath.Join(dir, fmt.Sprintf("01_aligned_%s.npy", tag))
		if err := nii.SaveVolume(path, aligned[tag]); err != nil {
			fmt.Printf("Warning: Failed to save aligned %s volume: %v\n", tag, err)
		}
	}

	fused := grid.NewVolume()
	copy(fused.Data, init)
	if err := nii.SaveVolume(filepath.Join(dir, "02_fused_init.npy"), fused); err != nil {
		fmt.Printf("Warning: Failed to save fused initializer: %v\n", err)
	}

	dims := grid.Dims()
	for _, tag := range tags {
		key := profile.Key{
			Orientation: tag,
			Shape:       profile.Shape(p.cfg.Acquisition.ProfileShape),
			Thickness:   p.cfg.Acquisition.SliceThickness,
			Gap:         p.cfg.Acquisition.SliceGap,
			AxisLen:     dims[axes[tag]],
			Spacing:     grid.Spacing,
		}
		if err := profile.SaveResponse(dir, key, p.cache.Get(key)); err != nil {
			fmt.Printf("Warning: Failed to save %s slice profile: %v\n", tag, err)
		}
	}
}
