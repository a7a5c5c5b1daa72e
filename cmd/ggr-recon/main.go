package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/miltoncamacho/ggr-recon/internal/models"
	"github.com/miltoncamacho/ggr-recon/internal/nii"
	"github.com/miltoncamacho/ggr-recon/pkg/config"
	"github.com/miltoncamacho/ggr-recon/pkg/recon"
	"github.com/miltoncamacho/ggr-recon/pkg/visualization"
)

func main() {
	// Parse command line arguments
	sagPath := flag.String("sag", "", "Sagittal acquisition (.nii, .nii.gz or .npy)")
	corPath := flag.String("cor", "", "Coronal acquisition")
	axPath := flag.String("ax", "", "Axial acquisition")
	groupFile := flag.String("groups", "", "Batch file: one group per line as name,sag,cor,ax,output")
	outputName := flag.String("output", "recon.npy", "Output volume filename")
	configPath := flag.String("config", "ggr-recon.yaml", "Configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration file and exit")
	mode := flag.String("mode", "", "Regularization mode: ggr, tv or tikhonov (overrides config)")
	weight := flag.Float64("weight", -1, "Regularization weight (overrides config)")
	iterations := flag.Int("iterations", 0, "Solver iteration cap (overrides config)")
	resampleOnly := flag.Bool("resample", false, "Only resample the first input onto the isotropic grid and exit")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save reconstructed slices along all axes")
	slicesDir := flag.String("slices-dir", "reconstructed_slices", "Directory to save extracted slices")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *mode != "" {
		cfg.Solver.Mode = *mode
	}
	if *weight >= 0 {
		cfg.Solver.Weight = *weight
	}
	if *iterations > 0 {
		cfg.Solver.MaxIterations = *iterations
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("GGR-RECON: ISOTROPIC VOLUME RECONSTRUCTION FROM ORTHOGONAL THICK-SLICE MRI")
	fmt.Println("================================")

	pipeline := recon.NewPipeline(cfg)

	if *resampleOnly {
		runResampleOnly(pipeline, *sagPath, *corPath, *axPath, *outputName)
		return
	}

	groups, err := collectGroups(*sagPath, *corPath, *axPath, *groupFile, *outputName)
	if err != nil {
		flag.Usage()
		log.Fatalf("%v", err)
	}

	fmt.Printf("Starting reconstruction of %d group(s) in %s mode...\n", len(groups), cfg.Solver.Mode)
	startTime := time.Now()

	runner := recon.NewRunner(pipeline)
	results := runner.Run(context.Background(), groups)

	processingTime := time.Since(startTime)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			log.Printf("Group %s failed: %v", res.Group, res.Err)
			continue
		}

		fmt.Printf("\nGroup %s completed.\n", res.Group)
		fmt.Printf("=======================================\n")
		fmt.Print(res.Outcome.Metrics.String())
		if res.Outcome.Provenance.Degraded() {
			fmt.Println("Output is DEGRADED:")
			for _, w := range res.Outcome.Provenance.Warnings {
				fmt.Printf("- %s\n", w)
			}
		}
	}

	fmt.Printf("\nProcessed %d group(s) in %.2f seconds (%d failed).\n",
		len(results), processingTime.Seconds(), failed)
	if failed > 0 {
		os.Exit(1)
	}

	if *extractSlices && len(results) == 1 && results[0].Err == nil {
		fmt.Println("\nExtracting reconstructed slices along all axes...")
		viewer := visualization.NewViewer(results[0].Outcome.Volume)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}
		fmt.Println("Slice extraction completed!")
	}
}

// runResampleOnly resamples the first provided input onto the isotropic
// grid and writes it, without reconstruction.
func runResampleOnly(pipeline *recon.Pipeline, sagPath, corPath, axPath, output string) {
	tag := models.Sagittal
	path := sagPath
	switch {
	case sagPath != "":
	case corPath != "":
		tag, path = models.Coronal, corPath
	case axPath != "":
		tag, path = models.Axial, axPath
	default:
		log.Fatal("Resampling mode requires one input acquisition")
	}

	vol, err := nii.LoadVolume(path)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", path, err)
	}
	out, err := pipeline.ResampleOnly(tag, vol)
	if err != nil {
		log.Fatalf("Resampling failed: %v", err)
	}
	if err := nii.SaveVolume(output, out); err != nil {
		log.Fatalf("Failed to save output: %v", err)
	}
	fmt.Printf("Resampled %s onto a %dx%dx%d grid at %.3f mm, saved to %s\n",
		path, out.Nx, out.Ny, out.Nz, out.Spacing[0], output)
}

// collectGroups builds the batch from either the single-group flags or a
// groups file with lines of the form: name,sag,cor,ax,output
func collectGroups(sagPath, corPath, axPath, groupFile, output string) ([]recon.Group, error) {
	if groupFile == "" {
		paths := map[models.Orientation]string{}
		if sagPath != "" {
			paths[models.Sagittal] = sagPath
		}
		if corPath != "" {
			paths[models.Coronal] = corPath
		}
		if axPath != "" {
			paths[models.Axial] = axPath
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no input acquisitions given")
		}
		return []recon.Group{{Name: "group", Paths: paths, OutputPath: output}}, nil
	}

	data, err := os.ReadFile(groupFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read groups file: %w", err)
	}

	var groups []recon.Group
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 5 {
			return nil, fmt.Errorf("groups file line %d: want name,sag,cor,ax,output", lineNo+1)
		}
		groups = append(groups, recon.Group{
			Name: strings.TrimSpace(fields[0]),
			Paths: map[models.Orientation]string{
				models.Sagittal: strings.TrimSpace(fields[1]),
				models.Coronal:  strings.TrimSpace(fields[2]),
				models.Axial:    strings.TrimSpace(fields[3]),
			},
			OutputPath: strings.TrimSpace(fields[4]),
		})
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("groups file %s contains no groups", groupFile)
	}
	return groups, nil
}
