package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/observer/internal/logging"
	"github.com/nvandessel/observer/internal/scoring"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Scoring.Lookback != 20 {
		t.Errorf("expected Lookback 20, got %d", config.Scoring.Lookback)
	}
	if config.Scoring.TrainSize != 15000 || config.Scoring.PredictSize != 15000 {
		t.Errorf("expected train/predict size 15000, got %d/%d", config.Scoring.TrainSize, config.Scoring.PredictSize)
	}
	if config.Scoring.TrainEpochs != 50 {
		t.Errorf("expected TrainEpochs 50, got %d", config.Scoring.TrainEpochs)
	}
	if config.Scoring.ObserverWidth != 128 {
		t.Errorf("expected ObserverWidth 128, got %d", config.Scoring.ObserverWidth)
	}
	if config.Scoring.LearningRate != 0.01 || config.Scoring.WeightDecay != 1e-5 {
		t.Errorf("expected lr 0.01 and weight decay 1e-5, got %g/%g", config.Scoring.LearningRate, config.Scoring.WeightDecay)
	}
	if config.Scoring.CausalNormalization {
		t.Error("expected CausalNormalization to be false by default")
	}
	if config.Compute.Workers != 1 {
		t.Errorf("expected Workers 1, got %d", config.Compute.Workers)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
scoring:
  lookback: 8
  train_size: 500
  observer_width: 32
  causal_normalization: true
compute:
  workers: 4
experiment:
  samples: 3
  margin: 100
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Scoring.Lookback != 8 {
		t.Errorf("expected Lookback 8, got %d", config.Scoring.Lookback)
	}
	if config.Scoring.TrainSize != 500 {
		t.Errorf("expected TrainSize 500, got %d", config.Scoring.TrainSize)
	}
	if config.Scoring.PredictSize != 15000 {
		t.Errorf("expected PredictSize to keep default 15000, got %d", config.Scoring.PredictSize)
	}
	if !config.Scoring.CausalNormalization {
		t.Error("expected CausalNormalization to be true")
	}
	if config.Compute.Workers != 4 {
		t.Errorf("expected Workers 4, got %d", config.Compute.Workers)
	}
	if config.Experiment.Samples != 3 || config.Experiment.Margin != 100 {
		t.Errorf("expected samples 3 margin 100, got %d/%d", config.Experiment.Samples, config.Experiment.Margin)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", config.Logging.Level)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("scoring: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "observer.yaml")
	if err := os.WriteFile(path, []byte("scoring:\n  lookback: 4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Scoring.Lookback != 4 {
		t.Errorf("expected Lookback 4, got %d", config.Scoring.Lookback)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config path")
	}
}

func TestLoad_NoDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Scoring.Lookback != Default().Scoring.Lookback {
		t.Errorf("expected default lookback, got %d", config.Scoring.Lookback)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OBSERVER_LOOKBACK", "16")
	t.Setenv("OBSERVER_WIDTH", "64")
	t.Setenv("OBSERVER_LEARNING_RATE", "0.001")
	t.Setenv("OBSERVER_SEED", "42")
	t.Setenv("OBSERVER_CAUSAL_NORMALIZATION", "1")
	t.Setenv("OBSERVER_STRICT_FEATURES", "true")
	t.Setenv("OBSERVER_WORKERS", "3")
	t.Setenv("OBSERVER_LOG_LEVEL", "TRACE")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Scoring.Lookback != 16 {
		t.Errorf("expected Lookback 16, got %d", config.Scoring.Lookback)
	}
	if config.Scoring.ObserverWidth != 64 {
		t.Errorf("expected ObserverWidth 64, got %d", config.Scoring.ObserverWidth)
	}
	if config.Scoring.LearningRate != 0.001 {
		t.Errorf("expected LearningRate 0.001, got %g", config.Scoring.LearningRate)
	}
	if config.Scoring.Seed != 42 {
		t.Errorf("expected Seed 42, got %d", config.Scoring.Seed)
	}
	if !config.Scoring.CausalNormalization || !config.Scoring.StrictFeatures {
		t.Error("expected causal normalization and strict features to be enabled")
	}
	if config.Compute.Workers != 3 {
		t.Errorf("expected Workers 3, got %d", config.Compute.Workers)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected level trace, got %s", config.Logging.Level)
	}
}

func TestEnvOverrides_QuietLevels(t *testing.T) {
	for _, level := range []string{"WARN", "error"} {
		t.Run(level, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			t.Setenv("OBSERVER_LOG_LEVEL", level)

			config, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("Validate() with OBSERVER_LOG_LEVEL=%s error = %v", level, err)
			}
			if got := logging.ParseLevel(config.Logging.Level); got < slog.LevelWarn {
				t.Errorf("ParseLevel(%q) = %v, want warn or above", config.Logging.Level, got)
			}
		})
	}
}

func TestEnvOverrides_Malformed(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OBSERVER_TRAIN_SIZE", "lots")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for malformed OBSERVER_TRAIN_SIZE")
	}
	if !strings.Contains(err.Error(), "OBSERVER_TRAIN_SIZE") {
		t.Errorf("error should name the variable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ObserverConfig)
		wantErr bool
	}{
		{"defaults", func(*ObserverConfig) {}, false},
		{"zero lookback", func(c *ObserverConfig) { c.Scoring.Lookback = 0 }, true},
		{"zero predict size", func(c *ObserverConfig) { c.Scoring.PredictSize = 0 }, true},
		{"negative learning rate", func(c *ObserverConfig) { c.Scoring.LearningRate = -1 }, true},
		{"negative weight decay", func(c *ObserverConfig) { c.Scoring.WeightDecay = -1e-5 }, true},
		{"gpu device", func(c *ObserverConfig) { c.Compute.Device = "cuda" }, true},
		{"zero workers", func(c *ObserverConfig) { c.Compute.Workers = 0 }, true},
		{"zero samples", func(c *ObserverConfig) { c.Experiment.Samples = 0 }, true},
		{"small max width", func(c *ObserverConfig) { c.Experiment.MaxWidth = 4 }, true},
		{"bad level", func(c *ObserverConfig) { c.Logging.Level = "verbose" }, true},
		{"empty level", func(c *ObserverConfig) { c.Logging.Level = "" }, false},
		{"warn level", func(c *ObserverConfig) { c.Logging.Level = "warn" }, false},
		{"error level", func(c *ObserverConfig) { c.Logging.Level = "error" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScoringParams(t *testing.T) {
	config := Default()
	config.Scoring.StrictFeatures = true

	got := config.ScoringParams()
	want := scoring.DefaultConfig()
	want.StrictFeatures = true
	if got != want {
		t.Errorf("ScoringParams() = %+v, want %+v", got, want)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	config := Default()
	config.Scoring.Lookback = 7

	text, err := config.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(text, "lookback: 7") {
		t.Errorf("Marshal() output missing lookback:\n%s", text)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if *loaded != *config {
		t.Errorf("round trip = %+v, want %+v", loaded, config)
	}
}
