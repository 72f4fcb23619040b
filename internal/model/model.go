// Package model implements the forecasting model used by the scorers: a
// stacked LSTM that reads a window of artifact vectors and predicts the next
// one by projecting its final hidden state through a linear head.
//
// A Model is built fresh for every scoring call and is discarded afterwards.
// Every forward pass starts from zero hidden and cell state; nothing is
// carried between windows or between calls.
package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/nvandessel/observer/internal/compute"
	"github.com/nvandessel/observer/internal/window"
)

// DefaultLayers is the depth of the recurrent stack.
const DefaultLayers = 2

var (
	// ErrInvalidConfig is returned for non-positive dimensions.
	ErrInvalidConfig = errors.New("model: invalid config")

	// ErrDimensionMismatch is returned when a window's vectors do not match
	// the model's input dimension.
	ErrDimensionMismatch = errors.New("model: dimension mismatch")

	// ErrEmptyBatch is returned when no windows are supplied.
	ErrEmptyBatch = errors.New("model: empty batch")
)

// Config describes a model's shape and the randomness stream its weights are
// drawn from.
type Config struct {
	InputDim int    // feature dimension D
	Hidden   int    // hidden width of every recurrent layer
	Layers   int    // recurrent depth; 0 selects DefaultLayers
	Seed     uint64 // PRNG seed for weight initialization
	Stream   uint64 // PRNG stream, distinct per model sharing a seed
}

// Model is a stacked LSTM forecaster. It is not safe for concurrent use.
type Model struct {
	cfg    Config
	cc     compute.Context
	params *Params

	slotGrads []*Params
	slotLoss  []float64
}

// New builds a model with freshly initialized weights.
func New(cfg Config, cc compute.Context) (*Model, error) {
	if cfg.Layers == 0 {
		cfg.Layers = DefaultLayers
	}
	if cfg.InputDim < 1 || cfg.Hidden < 1 || cfg.Layers < 1 {
		return nil, fmt.Errorf("%w: input=%d hidden=%d layers=%d", ErrInvalidConfig, cfg.InputDim, cfg.Hidden, cfg.Layers)
	}

	p := newParams(cfg.InputDim, cfg.Hidden, cfg.Layers)
	p.randomize(rand.New(rand.NewPCG(cfg.Seed, cfg.Stream)), cfg.Hidden)

	return &Model{cfg: cfg, cc: cc, params: p}, nil
}

// Config returns the model's configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// Params returns the live parameters. The trainer updates them in place.
func (m *Model) Params() *Params {
	return m.params
}

func (m *Model) check(windows []window.Window) error {
	if len(windows) == 0 {
		return ErrEmptyBatch
	}
	for i, w := range windows {
		if len(w.Target) != m.cfg.InputDim {
			return fmt.Errorf("%w: window %d target has %d features, want %d", ErrDimensionMismatch, i, len(w.Target), m.cfg.InputDim)
		}
		if len(w.History) == 0 {
			return fmt.Errorf("%w: window %d has no history", ErrDimensionMismatch, i)
		}
		for _, v := range w.History {
			if len(v) != m.cfg.InputDim {
				return fmt.Errorf("%w: window %d history has %d features, want %d", ErrDimensionMismatch, i, len(v), m.cfg.InputDim)
			}
		}
	}
	return nil
}

// squaredError returns mean((y - target)^2) over features.
func squaredError(y, target []float64) float64 {
	var sum float64
	for k := range y {
		d := y[k] - target[k]
		sum += d * d
	}
	return sum / float64(len(y))
}

// Predict runs inference over windows and returns one prediction and one
// loss per window. Each loss is the mean over features of the squared error
// against the window's target.
func (m *Model) Predict(ctx context.Context, windows []window.Window) ([][]float64, []float64, error) {
	if err := m.check(windows); err != nil {
		return nil, nil, err
	}

	preds := make([][]float64, len(windows))
	losses := make([]float64, len(windows))
	err := m.cc.Run(ctx, len(windows), func(_, lo, hi int) error {
		for i := lo; i < hi; i++ {
			tr := m.params.forward(windows[i].History, m.cfg.Hidden)
			preds[i] = tr.y
			losses[i] = squaredError(tr.y, windows[i].Target)
		}
		return nil
	}, func(int) error { return nil })
	if err != nil {
		return nil, nil, err
	}
	return preds, losses, nil
}

// Loss returns the mean squared error over all windows and features.
func (m *Model) Loss(ctx context.Context, windows []window.Window) (float64, error) {
	_, losses, err := m.Predict(ctx, windows)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, l := range losses {
		sum += l
	}
	return sum / float64(len(losses)), nil
}

// Gradients computes the full-batch mean squared error over windows and
// writes its gradient with respect to every parameter into grad, which must
// have the model's shapes (see Params.ZerosLike).
func (m *Model) Gradients(ctx context.Context, windows []window.Window, grad *Params) (float64, error) {
	if err := m.check(windows); err != nil {
		return 0, err
	}

	slots := min(m.cc.Workers(), m.cc.Shards(len(windows)))
	for len(m.slotGrads) < slots {
		m.slotGrads = append(m.slotGrads, m.params.ZerosLike())
		m.slotLoss = append(m.slotLoss, 0)
	}

	scale := 2 / float64(len(windows)*m.cfg.InputDim)
	grad.Zero()
	var total float64

	err := m.cc.Run(ctx, len(windows), func(slot, lo, hi int) error {
		g := m.slotGrads[slot]
		g.Zero()
		m.slotLoss[slot] = 0

		dy := make([]float64, m.cfg.InputDim)
		for i := lo; i < hi; i++ {
			w := windows[i]
			tr := m.params.forward(w.History, m.cfg.Hidden)
			m.slotLoss[slot] += squaredError(tr.y, w.Target)
			for k := range dy {
				dy[k] = scale * (tr.y[k] - w.Target[k])
			}
			m.params.backward(tr, dy, g, m.cfg.Hidden)
		}
		return nil
	}, func(slot int) error {
		grad.Add(m.slotGrads[slot])
		total += m.slotLoss[slot]
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total / float64(len(windows)), nil
}
