// Package train fits a forecasting model to a fixed training set with
// full-batch gradient descent.
//
// Every epoch evaluates the mean squared error over the whole training set,
// back-propagates it and applies one Adam step with weight decay. There is
// no early stopping and no validation split; the per-epoch loss curve is
// returned in full.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/nvandessel/observer/internal/logging"
	"github.com/nvandessel/observer/internal/model"
	"github.com/nvandessel/observer/internal/window"
)

var (
	// ErrTrainingDiverged is returned when the loss or the weights stop being finite.
	ErrTrainingDiverged = errors.New("train: training diverged")

	// ErrInvalidConfig is returned for unusable trainer settings.
	ErrInvalidConfig = errors.New("train: invalid config")
)

// Config holds optimizer and schedule settings.
type Config struct {
	LearningRate float64
	WeightDecay  float64
	Epochs       int
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	// LogEvery controls how often progress is logged at debug level.
	LogEvery int
}

// DefaultConfig returns the settings the scorers train with.
func DefaultConfig() Config {
	return Config{
		LearningRate: 0.01,
		WeightDecay:  1e-5,
		Epochs:       200,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		LogEvery:     100,
	}
}

// Validate reports whether the settings can be trained with.
func (c Config) Validate() error {
	switch {
	case c.Epochs < 1:
		return fmt.Errorf("%w: epochs must be at least 1, got %d", ErrInvalidConfig, c.Epochs)
	case !(c.LearningRate > 0):
		return fmt.Errorf("%w: learning rate must be positive, got %v", ErrInvalidConfig, c.LearningRate)
	case c.WeightDecay < 0:
		return fmt.Errorf("%w: weight decay must be non-negative, got %v", ErrInvalidConfig, c.WeightDecay)
	case c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1:
		return fmt.Errorf("%w: betas must be in [0, 1), got %v, %v", ErrInvalidConfig, c.Beta1, c.Beta2)
	case !(c.Epsilon > 0):
		return fmt.Errorf("%w: epsilon must be positive, got %v", ErrInvalidConfig, c.Epsilon)
	}
	return nil
}

// Trainer runs the training loop. It holds no per-model state and may be
// shared between goroutines.
type Trainer struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Trainer. A nil logger discards output.
func New(cfg Config, logger *slog.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Trainer{cfg: cfg, logger: logger}, nil
}

// Config returns the trainer settings.
func (t *Trainer) Config() Config {
	return t.cfg
}

// Run trains m on windows for the configured number of epochs and returns
// the loss measured at the start of every epoch, before that epoch's update.
// Cancelling ctx aborts the run with the context's error.
func (t *Trainer) Run(ctx context.Context, m *model.Model, windows []window.Window) ([]float64, error) {
	params := m.Params()
	grad := params.ZerosLike()
	opt := NewAdam(params, t.cfg)

	losses := make([]float64, t.cfg.Epochs)
	for epoch := range losses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		loss, err := m.Gradients(ctx, windows, grad)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, fmt.Errorf("%w: loss %v at epoch %d", ErrTrainingDiverged, loss, epoch+1)
		}
		losses[epoch] = loss

		opt.Step(params, grad)

		t.logger.Log(ctx, logging.LevelTrace, "epoch", "epoch", epoch+1, "loss", loss)
		if t.cfg.LogEvery > 0 && (epoch+1)%t.cfg.LogEvery == 0 {
			t.logger.Debug("training progress",
				"epoch", epoch+1,
				"epochs", t.cfg.Epochs,
				"loss", fmt.Sprintf("%.3f", loss))
		}
	}

	if !params.Finite() {
		return nil, fmt.Errorf("%w: non-finite weights after %d epochs", ErrTrainingDiverged, t.cfg.Epochs)
	}
	return losses, nil
}
