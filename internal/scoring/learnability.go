package scoring

import (
	"context"
	"fmt"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/window"
)

// Learnability scores how consistently a longer history improves one-step
// prediction of the artifact at t. For every lookback candidate a fresh
// model is trained on train_size windows starting at t - train_size and
// asked to predict artifact t from the candidate-length history before it.
// The score is the fraction of candidates that set a new lowest loss.
//
// The diagnostics group "learnability_<t>_meta" is committed to sink (if
// non-nil) once every candidate has been evaluated.
func (s *Scorer) Learnability(ctx context.Context, seq *artifact.Sequence, t int, sink diagnostics.Sink) (*Record, error) {
	n := seq.Len()
	if err := checkT(t, n); err != nil {
		return nil, err
	}

	trainSize := min(s.cfg.TrainSize, n, t)
	if trainSize == 0 {
		return nil, fmt.Errorf("%w: learnability at t=%d has no training data", ErrInsufficientData, t)
	}

	norm, err := s.normalized(seq, t)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Kind:      KindLearnability,
		T:         t,
		RealTime:  seq.TimeAt(t),
		Lookback:  s.cfg.Lookback,
		TrainSize: trainSize,
	}

	start := max(0, t-trainSize)
	for l := range Lookbacks(s.cfg.Lookback) {
		trainSet, err := window.Build(norm, start, trainSize, l)
		if err != nil {
			return nil, fmt.Errorf("learnability training set at t=%d lookback %d: %w", t, l, err)
		}
		evalSet, err := window.Preceding(norm, t, 1, l)
		if err != nil {
			return nil, fmt.Errorf("learnability evaluation window at t=%d lookback %d: %w", t, l, err)
		}

		m, err := s.newModel(seq.Dim(), KindLearnability, t, l)
		if err != nil {
			return nil, err
		}
		curve, err := s.trainer.Run(ctx, m, trainSet)
		if err != nil {
			return nil, fmt.Errorf("learnability training at t=%d lookback %d: %w", t, l, err)
		}
		_, losses, err := m.Predict(ctx, evalSet)
		if err != nil {
			return nil, fmt.Errorf("learnability prediction at t=%d lookback %d: %w", t, l, err)
		}

		rec.Horizons = append(rec.Horizons, l)
		rec.Losses = append(rec.Losses, losses[0])
		rec.Curves = append(rec.Curves, Curve{
			Label:  fmt.Sprintf("time %d lookback %d", t, l),
			Losses: curve,
		})
		s.logger.Debug("lookback evaluated", "t", t, "lookback", l, "loss", losses[0], "final_train_loss", curve[len(curve)-1])
	}

	rec.Count = CountNewMinima(rec.Losses)
	if rec.Score, err = LearnabilityScore(rec.Losses); err != nil {
		return nil, err
	}

	if err := s.commit(ctx, sink, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
