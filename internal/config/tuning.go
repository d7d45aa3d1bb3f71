package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for landmark extraction.
// Every field is optional: nil fields fall back to the Get* defaults, so a
// partial JSON file only overrides what it names.
type TuningConfig struct {
	// Scan bounds, applied when a capture carries none (CSV input)
	MinRange *float64 `json:"min_range,omitempty"`
	MaxRange *float64 `json:"max_range,omitempty"`

	// Clustering params
	GapThreshold     *float64 `json:"gap_threshold,omitempty"`
	MinClusterPoints *int     `json:"min_cluster_points,omitempty"`
	WrapAround       *bool    `json:"wrap_around,omitempty"`

	// Circle fit params
	SingularThreshold *float64 `json:"singular_threshold,omitempty"`

	// Landmark gate (0 disables a bound)
	MinRadius      *float64 `json:"min_radius,omitempty"`
	MaxRadius      *float64 `json:"max_radius,omitempty"`
	MaxRMSResidual *float64 `json:"max_rms_residual,omitempty"`

	// Parallel fits per scan (0 = one per CPU)
	Workers *int `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the Get* defaults.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	return &TuningConfig{
		MinRange:          ptrFloat64(empty.GetMinRange()),
		MaxRange:          ptrFloat64(empty.GetMaxRange()),
		GapThreshold:      ptrFloat64(empty.GetGapThreshold()),
		MinClusterPoints:  ptrInt(empty.GetMinClusterPoints()),
		WrapAround:        ptrBool(empty.GetWrapAround()),
		SingularThreshold: ptrFloat64(empty.GetSingularThreshold()),
		MinRadius:         ptrFloat64(empty.GetMinRadius()),
		MaxRadius:         ptrFloat64(empty.GetMaxRadius()),
		MaxRMSResidual:    ptrFloat64(empty.GetMaxRMSResidual()),
		Workers:           ptrInt(empty.GetWorkers()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/lidar/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func badFloat(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	floats := []struct {
		name string
		v    *float64
	}{
		{"min_range", c.MinRange},
		{"max_range", c.MaxRange},
		{"gap_threshold", c.GapThreshold},
		{"singular_threshold", c.SingularThreshold},
		{"min_radius", c.MinRadius},
		{"max_radius", c.MaxRadius},
		{"max_rms_residual", c.MaxRMSResidual},
	}
	for _, f := range floats {
		if f.v == nil {
			continue
		}
		if badFloat(*f.v) {
			return fmt.Errorf("%s must be finite, got %f", f.name, *f.v)
		}
		if *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", f.name, *f.v)
		}
	}

	if c.GetMaxRange() < c.GetMinRange() {
		return fmt.Errorf("max_range (%f) must not be below min_range (%f)", c.GetMaxRange(), c.GetMinRange())
	}

	if c.GapThreshold != nil && *c.GapThreshold == 0 {
		return fmt.Errorf("gap_threshold must be positive")
	}

	if c.SingularThreshold != nil && *c.SingularThreshold == 0 {
		return fmt.Errorf("singular_threshold must be positive")
	}

	if c.MinClusterPoints != nil && *c.MinClusterPoints < 3 {
		return fmt.Errorf("min_cluster_points must be at least 3, got %d", *c.MinClusterPoints)
	}

	if c.GetMaxRadius() > 0 && c.GetMinRadius() > c.GetMaxRadius() {
		return fmt.Errorf("min_radius (%f) exceeds max_radius (%f)", c.GetMinRadius(), c.GetMaxRadius())
	}

	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	return nil
}

// GetMinRange returns the min_range value or the default.
func (c *TuningConfig) GetMinRange() float64 {
	if c.MinRange == nil {
		return 0.12
	}
	return *c.MinRange
}

// GetMaxRange returns the max_range value or the default.
func (c *TuningConfig) GetMaxRange() float64 {
	if c.MaxRange == nil {
		return 3.5
	}
	return *c.MaxRange
}

// GetGapThreshold returns the gap_threshold value or the default.
func (c *TuningConfig) GetGapThreshold() float64 {
	if c.GapThreshold == nil {
		return 0.025
	}
	return *c.GapThreshold
}

// GetMinClusterPoints returns the min_cluster_points value or the default.
func (c *TuningConfig) GetMinClusterPoints() int {
	if c.MinClusterPoints == nil {
		return 3
	}
	return *c.MinClusterPoints
}

// GetWrapAround returns the wrap_around value or the default.
func (c *TuningConfig) GetWrapAround() bool {
	if c.WrapAround == nil {
		return false // default: last→first transition not evaluated
	}
	return *c.WrapAround
}

// GetSingularThreshold returns the singular_threshold value or the default.
func (c *TuningConfig) GetSingularThreshold() float64 {
	if c.SingularThreshold == nil {
		return 1e-12
	}
	return *c.SingularThreshold
}

// GetMinRadius returns the min_radius value or the default.
func (c *TuningConfig) GetMinRadius() float64 {
	if c.MinRadius == nil {
		return 0 // default: disabled
	}
	return *c.MinRadius
}

// GetMaxRadius returns the max_radius value or the default.
func (c *TuningConfig) GetMaxRadius() float64 {
	if c.MaxRadius == nil {
		return 0 // default: disabled
	}
	return *c.MaxRadius
}

// GetMaxRMSResidual returns the max_rms_residual value or the default.
func (c *TuningConfig) GetMaxRMSResidual() float64 {
	if c.MaxRMSResidual == nil {
		return 0 // default: disabled
	}
	return *c.MaxRMSResidual
}

// GetWorkers returns the workers value or the default. Zero means one
// worker per CPU and is resolved by the extractor, not here.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}
