package recon

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pbnjay/memory"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/internal/nii"
	"github.com/miltoncamacho/ggr-recon/pkg/visualization"
)

// Group names one reconstruction unit: a subject/session token and the
// input path per orientation.
type Group struct {
	Name string

	// Paths maps each orientation to its acquisition file.
	Paths map[models.Orientation]string

	// OutputPath is where the reconstructed volume is written.
	OutputPath string
}

// GroupResult is the outcome of one group in a batch run.
type GroupResult struct {
	Group   string
	Outcome *Outcome
	Err     error
}

// perGroupBytes is the assumed peak working set of one reconstruction,
// used to bound concurrency on small machines. A 256^3 grid costs about
// 128 MB per float64 volume and a solve holds roughly a dozen of them.
const perGroupBytes = 2 << 30

// Runner executes reconstruction groups concurrently. One group's failure
// is recorded in its result and never aborts the siblings.
type Runner struct {
	pipeline *Pipeline
}

// NewRunner creates a batch runner sharing one pipeline (and therefore one
// slice-profile cache) across groups.
func NewRunner(p *Pipeline) *Runner {
	return &Runner{pipeline: p}
}

// Workers returns the number of concurrent groups: the configured count, or
// a default bounded by both the core budget and physical memory.
func (r *Runner) Workers() int {
	if w := r.pipeline.cfg.Processing.Workers; w > 0 {
		return w
	}
	byMemory := int(memory.TotalMemory() / perGroupBytes)
	if byMemory < 1 {
		byMemory = 1
	}
	cores := r.pipeline.cfg.Processing.NumCores
	if cores <= 0 || cores > runtime.NumCPU() {
		cores = runtime.NumCPU()
	}
	if byMemory > cores {
		return cores
	}
	return byMemory
}

// Run reconstructs all groups and returns one result per group, in input
// order.
func (r *Runner) Run(ctx context.Context, groups []Group) []GroupResult {
	workers := r.Workers()
	if workers > len(groups) {
		workers = len(groups)
	}
	r.pipeline.logf("Physical memory is %d MB, running %d group(s) with %d worker(s)\n",
		memory.TotalMemory()/1024/1024, len(groups), workers)

	results := make([]GroupResult, len(groups))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.runGroup(ctx, groups[i])
			}
		}()
	}

	for i := range groups {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// runGroup loads one group's inputs, reconstructs, and writes the output.
func (r *Runner) runGroup(ctx context.Context, g Group) GroupResult {
	res := GroupResult{Group: g.Name}

	inputs := make(map[models.Orientation]*models.Volume, len(g.Paths))
	for tag, path := range g.Paths {
		v, err := nii.LoadVolume(path)
		if err != nil {
			res.Err = fmt.Errorf("group %s: failed to load %s input: %w", g.Name, tag, err)
			return res
		}
		inputs[tag] = v
	}

	outcome, err := r.pipeline.Reconstruct(ctx, g.Name, inputs)
	if err != nil {
		res.Err = fmt.Errorf("group %s: %w", g.Name, err)
		return res
	}
	res.Outcome = outcome

	if g.OutputPath != "" {
		if err := nii.SaveVolume(g.OutputPath, outcome.Volume); err != nil {
			res.Err = fmt.Errorf("group %s: failed to save output: %w", g.Name, err)
			return res
		}
	}

	if r.pipeline.cfg.Output.ExtractSlices && g.OutputPath != "" {
		viewer := visualization.NewViewer(outcome.Volume)
		dir := filepath.Join(filepath.Dir(g.OutputPath), g.Name+"_slices")
		if err := viewer.SaveSliceSequence("z", dir); err != nil {
			fmt.Printf("Warning: Failed to export slices for group %s: %v\n", g.Name, err)
		}
	}

	return res
}
