package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyTuningConfig_Defaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetMinRange() != 0.12 {
		t.Errorf("GetMinRange() = %f, want 0.12", cfg.GetMinRange())
	}
	if cfg.GetMaxRange() != 3.5 {
		t.Errorf("GetMaxRange() = %f, want 3.5", cfg.GetMaxRange())
	}
	if cfg.GetGapThreshold() != 0.025 {
		t.Errorf("GetGapThreshold() = %f, want 0.025", cfg.GetGapThreshold())
	}
	if cfg.GetMinClusterPoints() != 3 {
		t.Errorf("GetMinClusterPoints() = %d, want 3", cfg.GetMinClusterPoints())
	}
	if cfg.GetWrapAround() {
		t.Error("GetWrapAround() = true, want false")
	}
	if cfg.GetSingularThreshold() != 1e-12 {
		t.Errorf("GetSingularThreshold() = %g, want 1e-12", cfg.GetSingularThreshold())
	}
	if cfg.GetMinRadius() != 0 || cfg.GetMaxRadius() != 0 || cfg.GetMaxRMSResidual() != 0 {
		t.Error("radius gate should be disabled by default")
	}
	if cfg.GetWorkers() != 0 {
		t.Errorf("GetWorkers() = %d, want 0", cfg.GetWorkers())
	}
}

func TestDefaultTuningConfig_AllFieldsSet(t *testing.T) {
	cfg := DefaultTuningConfig()
	if cfg.MinRange == nil || cfg.MaxRange == nil || cfg.GapThreshold == nil ||
		cfg.MinClusterPoints == nil || cfg.WrapAround == nil || cfg.SingularThreshold == nil ||
		cfg.MinRadius == nil || cfg.MaxRadius == nil || cfg.MaxRMSResidual == nil || cfg.Workers == nil {
		t.Fatalf("DefaultTuningConfig left a field nil: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults failed validation: %v", err)
	}
}

// Persisted run parameters must not depend on the host's CPU count.
func TestDefaultTuningConfig_WorkersMatchDefaultsFile(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	defaults := DefaultTuningConfig()
	if *defaults.Workers != 0 || *fromFile.Workers != 0 {
		t.Errorf("workers = %d (built in), %d (file), want 0", *defaults.Workers, *fromFile.Workers)
	}

	data, err := json.Marshal(defaults)
	if err != nil {
		t.Fatalf("marshal defaults: %v", err)
	}
	if !strings.Contains(string(data), `"workers":0`) {
		t.Errorf("encoded defaults = %s, want workers 0", data)
	}
}

func TestValidate_FirstInvalidFieldIsStable(t *testing.T) {
	neg := -1.0
	cfg := &TuningConfig{
		MinRange:       &neg,
		GapThreshold:   &neg,
		MinRadius:      &neg,
		MaxRMSResidual: &neg,
	}
	for i := 0; i < 50; i++ {
		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.HasPrefix(err.Error(), "min_range must be non-negative") {
			t.Fatalf("attempt %d: error = %q, want min_range reported first", i, err)
		}
	}
}

func TestLoadTuningConfig_PartialOverride(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{
  "gap_threshold": 0.05,
  "wrap_around": true,
  "min_radius": 0.02,
  "max_radius": 0.1
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetGapThreshold() != 0.05 {
		t.Errorf("GetGapThreshold() = %f, want 0.05", cfg.GetGapThreshold())
	}
	if !cfg.GetWrapAround() {
		t.Error("GetWrapAround() = false, want true")
	}
	if cfg.GetMinRadius() != 0.02 || cfg.GetMaxRadius() != 0.1 {
		t.Errorf("radius gate = [%f, %f], want [0.02, 0.1]", cfg.GetMinRadius(), cfg.GetMaxRadius())
	}
	// Unspecified fields keep their defaults.
	if cfg.GetMaxRange() != 3.5 {
		t.Errorf("GetMaxRange() = %f, want default 3.5", cfg.GetMaxRange())
	}
	if cfg.MinClusterPoints != nil {
		t.Errorf("MinClusterPoints should stay nil, got %v", *cfg.MinClusterPoints)
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "tuning.yaml", `{}`, ".json extension"},
		{"bad json", "tuning.json", `{"gap_threshold": }`, "parse config JSON"},
		{"min cluster too small", "tuning.json", `{"min_cluster_points": 2}`, "min_cluster_points"},
		{"negative gap", "tuning.json", `{"gap_threshold": -1}`, "gap_threshold"},
		{"zero gap", "tuning.json", `{"gap_threshold": 0}`, "gap_threshold must be positive"},
		{"inverted ranges", "tuning.json", `{"min_range": 4, "max_range": 1}`, "max_range"},
		{"inverted radius gate", "tuning.json", `{"min_radius": 1, "max_radius": 0.5}`, "min_radius"},
		{"negative workers", "tuning.json", `{"workers": -2}`, "workers"},
		{"zero singular threshold", "tuning.json", `{"singular_threshold": 0}`, "singular_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfig_MissingFile(t *testing.T) {
	_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "stat config file") {
		t.Errorf("expected stat error, got %v", err)
	}
}

func TestLoadTuningConfig_TooLarge(t *testing.T) {
	big := `{"gap_threshold": 0.025` + strings.Repeat(" ", 1024*1024+1) + `}`
	path := writeConfig(t, "big.json", big)
	_, err := LoadTuningConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetGapThreshold() != 0.025 {
		t.Errorf("defaults file gap_threshold = %f, want 0.025", cfg.GetGapThreshold())
	}
	if cfg.GetMinClusterPoints() != 3 {
		t.Errorf("defaults file min_cluster_points = %d, want 3", cfg.GetMinClusterPoints())
	}
}
