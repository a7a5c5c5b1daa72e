// Package config provides configuration loading and management for ggr-recon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Acquisition parameters shared by the three input scans
	Acquisition struct {
		// SliceThickness is the excited slice thickness in mm
		SliceThickness float64 `yaml:"sliceThickness"`

		// SliceGap is the physical gap between consecutive slices in mm
		SliceGap float64 `yaml:"sliceGap"`

		// ProfileShape selects the slice profile model: "gaussian" or "box"
		ProfileShape string `yaml:"profileShape"`

		// Reference is the orientation the other acquisitions are rigidly
		// aligned to: "sag", "cor" or "ax"
		Reference string `yaml:"reference"`
	} `yaml:"acquisition"`

	// Grid optionally overrides the estimated reconstruction lattice
	Grid struct {
		// Spacing is the isotropic voxel size in mm; zero means estimate
		// from the inputs
		Spacing float64 `yaml:"spacing"`

		// Size is the voxel count per axis; empty means estimate
		Size []int `yaml:"size"`

		// Origin is the physical position of voxel (0,0,0) in mm
		Origin []float64 `yaml:"origin"`

		// Direction holds the lattice orientation as 9 row-major direction
		// cosines; empty means axis-aligned
		Direction []float64 `yaml:"direction"`
	} `yaml:"grid"`

	// Solver parameters
	Solver struct {
		// Mode selects the regularizer: "ggr", "tv" or "tikhonov"
		Mode string `yaml:"mode"`

		// Weight is the regularization weight
		Weight float64 `yaml:"weight"`

		// MaxIterations caps the conjugate-gradient iteration count
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the relative-change convergence threshold
		Tolerance float64 `yaml:"tolerance"`

		// IRLSPasses is the number of reweighting passes in TV mode
		IRLSPasses int `yaml:"irlsPasses"`

		// IRLSEpsilon smooths the TV reweighting
		IRLSEpsilon float64 `yaml:"irlsEpsilon"`
	} `yaml:"solver"`

	// Guidance parameters for GGR mode
	Guidance struct {
		// Source is "analytic" (fused from the inputs) or "external"
		Source string `yaml:"source"`

		// Path is the .npy file holding an external guidance field
		Path string `yaml:"path"`
	} `yaml:"guidance"`

	// Processing parameters
	Processing struct {
		// Workers caps concurrent group reconstructions; zero picks a
		// memory-aware default
		Workers int `yaml:"workers"`

		// NumCores caps the CPU cores the batch runner may occupy; the
		// default is all of them
		NumCores int `yaml:"numCores"`

		// SkipAlignment trusts the headers and skips rigid registration
		SkipAlignment bool `yaml:"skipAlignment"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// WorkDir is where intermediate artifacts are written
		WorkDir string `yaml:"workDir"`

		// SaveIntermediaryResults determines whether to save intermediary
		// processing results (filters, fused initializer)
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// ExtractSlices enables JPEG slice export of the result
		ExtractSlices bool `yaml:"extractSlices"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Acquisition.SliceThickness = 5.0
	cfg.Acquisition.SliceGap = 0.0
	cfg.Acquisition.ProfileShape = "gaussian"
	cfg.Acquisition.Reference = "sag"

	cfg.Solver.Mode = "ggr"
	cfg.Solver.Weight = 0.03
	cfg.Solver.MaxIterations = 50
	cfg.Solver.Tolerance = 1e-4
	cfg.Solver.IRLSPasses = 4
	cfg.Solver.IRLSEpsilon = 1e-3

	cfg.Guidance.Source = "analytic"

	cfg.Processing.Workers = 0 // memory-aware default
	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Output.WorkDir = "ggr-work"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.ExtractSlices = false
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks the enumerated fields for values the pipeline understands
func (cfg *Config) Validate() error {
	switch cfg.Acquisition.ProfileShape {
	case "gaussian", "box":
	default:
		return fmt.Errorf("invalid profile shape %q (want gaussian or box)", cfg.Acquisition.ProfileShape)
	}
	switch cfg.Acquisition.Reference {
	case "sag", "cor", "ax":
	default:
		return fmt.Errorf("invalid reference orientation %q (want sag, cor or ax)", cfg.Acquisition.Reference)
	}
	switch cfg.Solver.Mode {
	case "ggr", "tv", "tikhonov":
	default:
		return fmt.Errorf("invalid solver mode %q (want ggr, tv or tikhonov)", cfg.Solver.Mode)
	}
	switch cfg.Guidance.Source {
	case "analytic", "external":
	default:
		return fmt.Errorf("invalid guidance source %q (want analytic or external)", cfg.Guidance.Source)
	}
	if cfg.Guidance.Source == "external" && cfg.Guidance.Path == "" {
		return fmt.Errorf("external guidance requires guidance.path")
	}
	if cfg.Solver.Weight < 0 {
		return fmt.Errorf("solver weight must be non-negative, got %g", cfg.Solver.Weight)
	}
	if cfg.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver maxIterations must be positive, got %d", cfg.Solver.MaxIterations)
	}
	if cfg.Solver.Tolerance <= 0 {
		return fmt.Errorf("solver tolerance must be positive, got %g", cfg.Solver.Tolerance)
	}
	if cfg.Processing.Workers < 0 {
		return fmt.Errorf("processing workers must be non-negative, got %d", cfg.Processing.Workers)
	}
	if cfg.Processing.NumCores < 0 {
		return fmt.Errorf("processing numCores must be non-negative, got %d", cfg.Processing.NumCores)
	}
	if len(cfg.Grid.Size) != 0 && len(cfg.Grid.Size) != 3 {
		return fmt.Errorf("grid size must have 3 entries, got %d", len(cfg.Grid.Size))
	}
	if len(cfg.Grid.Origin) != 0 && len(cfg.Grid.Origin) != 3 {
		return fmt.Errorf("grid origin must have 3 entries, got %d", len(cfg.Grid.Origin))
	}
	if len(cfg.Grid.Direction) != 0 && len(cfg.Grid.Direction) != 9 {
		return fmt.Errorf("grid direction must have 9 entries, got %d", len(cfg.Grid.Direction))
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
