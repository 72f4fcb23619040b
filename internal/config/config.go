// Package config provides unified configuration loading for observer.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/observer/internal/compute"
	"github.com/nvandessel/observer/internal/scoring"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OBSERVER_"

// ObserverConfig contains all observer configuration settings.
type ObserverConfig struct {
	// Scoring holds the learnability and novelty parameters.
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// Compute selects the numeric backend and its parallelism.
	Compute ComputeConfig `json:"compute" yaml:"compute"`

	// Experiment controls sampled runs and width sweeps.
	Experiment ExperimentConfig `json:"experiment" yaml:"experiment"`

	// Logging contains settings for operational logging and the score journal.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ScoringConfig mirrors scoring.Config in file form.
type ScoringConfig struct {
	Lookback      int     `json:"lookback" yaml:"lookback"`
	TrainSize     int     `json:"train_size" yaml:"train_size"`
	PredictSize   int     `json:"predict_size" yaml:"predict_size"`
	TrainEpochs   int     `json:"train_epochs" yaml:"train_epochs"`
	ObserverWidth int     `json:"observer_width" yaml:"observer_width"`
	Layers        int     `json:"layers" yaml:"layers"`
	LearningRate  float64 `json:"learning_rate" yaml:"learning_rate"`
	WeightDecay   float64 `json:"weight_decay" yaml:"weight_decay"`
	Seed          uint64  `json:"seed" yaml:"seed"`

	// CausalNormalization fits feature statistics on artifacts before t only.
	CausalNormalization bool `json:"causal_normalization" yaml:"causal_normalization"`

	// StrictFeatures rejects zero-variance features instead of using unit scale.
	StrictFeatures bool `json:"strict_features" yaml:"strict_features"`
}

// ComputeConfig selects where model math runs.
type ComputeConfig struct {
	Device    string `json:"device" yaml:"device"`
	Backend   string `json:"backend" yaml:"backend"`
	Workers   int    `json:"workers" yaml:"workers"`
	ShardSize int    `json:"shard_size" yaml:"shard_size"`
}

// ExperimentConfig controls the sampled-run and width-sweep drivers.
type ExperimentConfig struct {
	// Samples is the number of timesteps scored by a run.
	Samples int `json:"samples" yaml:"samples"`

	// Margin keeps samples away from both ends of the sequence.
	Margin int `json:"margin" yaml:"margin"`

	// Concurrency bounds how many scorer invocations run at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxWidth is the largest observer width a sweep tries.
	MaxWidth int `json:"max_width" yaml:"max_width"`
}

// LoggingConfig configures observer's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "error", "warn", "info" (default),
	// "debug" or "trace".
	// "debug" also appends every score to scores.jsonl in the data directory.
	// "trace" additionally logs every training epoch.
	Level string `json:"level" yaml:"level"`
}

// Default returns an ObserverConfig with the pipeline's defaults.
func Default() *ObserverConfig {
	sc := scoring.DefaultConfig()
	return &ObserverConfig{
		Scoring: ScoringConfig{
			Lookback:      sc.Lookback,
			TrainSize:     sc.TrainSize,
			PredictSize:   sc.PredictSize,
			TrainEpochs:   sc.TrainEpochs,
			ObserverWidth: sc.ObserverWidth,
			Layers:        sc.Layers,
			LearningRate:  sc.LearningRate,
			WeightDecay:   sc.WeightDecay,
			Seed:          sc.Seed,
		},
		Compute: ComputeConfig{
			Device:    compute.DeviceCPU,
			Backend:   compute.BackendGonum,
			Workers:   1,
			ShardSize: compute.DefaultShardSize,
		},
		Experiment: ExperimentConfig{
			Samples:     10,
			Margin:      15000,
			Concurrency: 1,
			MaxWidth:    256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.observer/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".observer", "config.yaml"), nil
}

// Load loads configuration from path, or from DefaultPath when path is
// empty, and applies environment variable overrides.
// Order: defaults -> config file -> environment variables.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*ObserverConfig, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		_, statErr := os.Stat(path)
		if statErr == nil || explicit {
			fileConfig, err := LoadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys the
// file leaves out keep their defaults.
func LoadFromFile(path string) (*ObserverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is valid.
func (c *ObserverConfig) Validate() error {
	if err := c.ScoringParams().Validate(); err != nil {
		return err
	}
	if c.Scoring.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", c.Scoring.LearningRate)
	}
	if c.Scoring.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be non-negative, got %g", c.Scoring.WeightDecay)
	}

	if _, err := c.ComputeContext(); err != nil {
		return err
	}

	if c.Experiment.Samples < 1 {
		return fmt.Errorf("samples must be at least 1, got %d", c.Experiment.Samples)
	}
	if c.Experiment.Margin < 0 {
		return fmt.Errorf("margin must be non-negative, got %d", c.Experiment.Margin)
	}
	if c.Experiment.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Experiment.Concurrency)
	}
	if c.Experiment.MaxWidth < 8 {
		return fmt.Errorf("max_width must be at least 8, got %d", c.Experiment.MaxWidth)
	}

	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// ScoringParams converts the scoring section into scoring.Config.
func (c *ObserverConfig) ScoringParams() scoring.Config {
	s := c.Scoring
	return scoring.Config{
		Lookback:            s.Lookback,
		TrainSize:           s.TrainSize,
		PredictSize:         s.PredictSize,
		TrainEpochs:         s.TrainEpochs,
		ObserverWidth:       s.ObserverWidth,
		Layers:              s.Layers,
		LearningRate:        s.LearningRate,
		WeightDecay:         s.WeightDecay,
		Seed:                s.Seed,
		CausalNormalization: s.CausalNormalization,
		StrictFeatures:      s.StrictFeatures,
	}
}

// ComputeContext builds the compute context described by the compute section.
func (c *ObserverConfig) ComputeContext() (compute.Context, error) {
	return compute.New(c.Compute.Device, c.Compute.Backend, c.Compute.Workers, c.Compute.ShardSize)
}

// Marshal renders the configuration as YAML.
func (c *ObserverConfig) Marshal() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(data), nil
}

// applyEnvOverrides applies OBSERVER_* environment variable overrides.
// Malformed numbers are reported rather than ignored.
func applyEnvOverrides(config *ObserverConfig) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"LOOKBACK", &config.Scoring.Lookback},
		{"TRAIN_SIZE", &config.Scoring.TrainSize},
		{"PREDICT_SIZE", &config.Scoring.PredictSize},
		{"TRAIN_EPOCHS", &config.Scoring.TrainEpochs},
		{"WIDTH", &config.Scoring.ObserverWidth},
		{"LAYERS", &config.Scoring.Layers},
		{"WORKERS", &config.Compute.Workers},
		{"SAMPLES", &config.Experiment.Samples},
		{"MARGIN", &config.Experiment.Margin},
		{"CONCURRENCY", &config.Experiment.Concurrency},
	}
	for _, o := range ints {
		v := os.Getenv(EnvPrefix + o.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, o.name, v, err)
		}
		*o.dst = n
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"LEARNING_RATE", &config.Scoring.LearningRate},
		{"WEIGHT_DECAY", &config.Scoring.WeightDecay},
	}
	for _, o := range floats {
		v := os.Getenv(EnvPrefix + o.name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, o.name, v, err)
		}
		*o.dst = f
	}

	if v := os.Getenv(EnvPrefix + "SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sSEED=%q: %w", EnvPrefix, v, err)
		}
		config.Scoring.Seed = seed
	}

	if v := os.Getenv(EnvPrefix + "CAUSAL_NORMALIZATION"); v != "" {
		config.Scoring.CausalNormalization = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "STRICT_FEATURES"); v != "" {
		config.Scoring.StrictFeatures = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}
