// Package scoring computes the learnability and novelty diagnostics of an
// artifact sequence at a given timestep.
//
// Learnability trains one fresh forecaster per doubling lookback candidate
// and measures how often a longer history produced a new lowest one-step
// prediction loss at t. Novelty trains a single forecaster on the data just
// before t and measures how often the prediction loss walking forward from t
// reaches a new maximum. Both scores lie in [0, 1].
//
// Each invocation normalizes the sequence, builds its windows, trains and
// evaluates its own models, and only then commits the diagnostics group to
// the sink. An invocation either returns a complete Record or an error and
// leaves the sink untouched.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/compute"
	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/logging"
	"github.com/nvandessel/observer/internal/model"
	"github.com/nvandessel/observer/internal/normalize"
	"github.com/nvandessel/observer/internal/train"
	"github.com/nvandessel/observer/internal/window"
)

var (
	// ErrInsufficientData is returned when the clamped training or prediction
	// size is zero.
	ErrInsufficientData = errors.New("scoring: insufficient data")

	// ErrInvalidConfig is returned for non-positive sizes.
	ErrInvalidConfig = errors.New("scoring: invalid config")
)

// Config holds the scoring parameters.
type Config struct {
	Lookback      int     // maximum history length
	TrainSize     int     // requested training windows, clamped to available data
	PredictSize   int     // requested novelty evaluation windows, clamped likewise
	TrainEpochs   int     // epochs per trained model
	ObserverWidth int     // hidden width of the recurrent layers
	Layers        int     // recurrent depth
	LearningRate  float64 // Adam learning rate
	WeightDecay   float64 // L2 coefficient
	Seed          uint64  // base seed; each model derives its own stream

	// CausalNormalization fits the normalizer on artifacts before t only.
	// The default fits on the whole sequence, which leaks statistics from
	// t onwards into the inputs.
	CausalNormalization bool

	// StrictFeatures fails on zero-variance features instead of using unit scale.
	StrictFeatures bool
}

// DefaultConfig returns the parameters used by the processing pipeline.
func DefaultConfig() Config {
	return Config{
		Lookback:      20,
		TrainSize:     15000,
		PredictSize:   15000,
		TrainEpochs:   50,
		ObserverWidth: 128,
		Layers:        model.DefaultLayers,
		LearningRate:  0.01,
		WeightDecay:   1e-5,
		Seed:          1,
	}
}

// Validate checks that every size is positive.
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"lookback", c.Lookback},
		{"train_size", c.TrainSize},
		{"predict_size", c.PredictSize},
		{"train_epochs", c.TrainEpochs},
		{"observer_width", c.ObserverWidth},
		{"layers", c.Layers},
	}
	for _, ch := range checks {
		if ch.value < 1 {
			return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidConfig, ch.name, ch.value)
		}
	}
	return nil
}

// Scorer runs learnability and novelty scoring. A Scorer holds no
// per-invocation state; concurrent invocations are independent.
type Scorer struct {
	cfg     Config
	cc      compute.Context
	trainer *train.Trainer
	logger  *slog.Logger
	events  *logging.EventLogger
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) { s.logger = l }
}

// WithEvents sets the score event journal.
func WithEvents(e *logging.EventLogger) Option {
	return func(s *Scorer) { s.events = e }
}

// WithCompute sets the compute context models run under.
func WithCompute(cc compute.Context) Option {
	return func(s *Scorer) { s.cc = cc }
}

// New validates cfg and returns a Scorer.
func New(cfg Config, opts ...Option) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scorer{cfg: cfg, cc: compute.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	tcfg := train.DefaultConfig()
	tcfg.Epochs = cfg.TrainEpochs
	tcfg.LearningRate = cfg.LearningRate
	tcfg.WeightDecay = cfg.WeightDecay
	trainer, err := train.New(tcfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.trainer = trainer
	return s, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

func checkT(t, n int) error {
	if t < 0 || t >= n {
		return fmt.Errorf("%w: t=%d with %d artifacts", window.ErrOutOfRange, t, n)
	}
	return nil
}

// normalized returns a standardized copy of the sequence.
func (s *Scorer) normalized(seq *artifact.Sequence, t int) ([][]float64, error) {
	ref := seq.Vectors
	if s.cfg.CausalNormalization {
		ref = seq.Vectors[:t]
	}

	var opts []normalize.Option
	if s.cfg.StrictFeatures {
		opts = append(opts, normalize.WithStrict())
	}
	n, err := normalize.Fit(ref, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to fit normalizer: %w", err)
	}
	if d := n.DegenerateFeatures(); len(d) > 0 {
		s.logger.Debug("zero-variance features use unit scale", "t", t, "features", d)
	}
	return n.TransformAll(seq.Vectors)
}

// streamFor derives a PRNG stream unique to one model of one invocation.
func streamFor(kind Kind, t, lookback int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d/%d", kind, t, lookback)
	return h.Sum64()
}

func (s *Scorer) newModel(dim int, kind Kind, t, lookback int) (*model.Model, error) {
	return model.New(model.Config{
		InputDim: dim,
		Hidden:   s.cfg.ObserverWidth,
		Layers:   s.cfg.Layers,
		Seed:     s.cfg.Seed,
		Stream:   streamFor(kind, t, lookback),
	}, s.cc)
}

// commit hands the finished record to the sink and the event journal.
// RecordSink is a diagnostics.Sink that also persists the record itself.
// Scorers call CommitRecord instead of Commit when the sink supports it; the
// record and its group must become visible together or not at all.
type RecordSink interface {
	diagnostics.Sink
	CommitRecord(ctx context.Context, rec *Record, g *diagnostics.Group) error
}

func (s *Scorer) commit(ctx context.Context, sink diagnostics.Sink, rec *Record) error {
	if sink != nil {
		g, err := rec.Group()
		if err != nil {
			return fmt.Errorf("failed to build diagnostics: %w", err)
		}
		if rs, ok := sink.(RecordSink); ok {
			err = rs.CommitRecord(ctx, rec, g)
		} else {
			err = sink.Commit(ctx, g)
		}
		if err != nil {
			return fmt.Errorf("failed to commit diagnostics %s: %w", g.Name(), err)
		}
	}

	s.events.Log(map[string]any{
		"kind":         string(rec.Kind),
		"t":            rec.T,
		"real_time":    rec.RealTime,
		"score":        rec.Score,
		"count":        rec.Count,
		"train_size":   rec.TrainSize,
		"predict_size": rec.PredictSize,
		"lookback":     rec.Lookback,
	})
	s.logger.Info("scored", "kind", rec.Kind, "t", rec.T, "score", rec.Score)
	return nil
}
