package scoring

import (
	"context"
	"fmt"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/window"
)

// Novelty scores how consistently prediction error grows when walking
// forward from t. One model is trained on train_size windows starting at
// t - train_size; it then predicts artifacts t, t+1, ..., each from the
// lookback artifacts before it. The score is the fraction of those steps
// whose loss exceeded every earlier loss (starting from zero).
//
// The diagnostics group "novelty_<t>_meta" is committed to sink (if non-nil)
// after the evaluation pass.
func (s *Scorer) Novelty(ctx context.Context, seq *artifact.Sequence, t int, sink diagnostics.Sink) (*Record, error) {
	n := seq.Len()
	if err := checkT(t, n); err != nil {
		return nil, err
	}

	trainSize := min(s.cfg.TrainSize, n, t)
	predictSize := min(s.cfg.PredictSize, n-trainSize)
	if trainSize == 0 || predictSize <= 0 {
		return nil, fmt.Errorf("%w: novelty at t=%d has train_size=%d predict_size=%d", ErrInsufficientData, t, trainSize, max(predictSize, 0))
	}

	norm, err := s.normalized(seq, t)
	if err != nil {
		return nil, err
	}

	lookback := s.cfg.Lookback
	trainSet, err := window.Build(norm, t-trainSize, trainSize, lookback)
	if err != nil {
		return nil, fmt.Errorf("novelty training set at t=%d: %w", t, err)
	}
	evalSet, err := window.Preceding(norm, t, predictSize, lookback)
	if err != nil {
		return nil, fmt.Errorf("novelty evaluation set at t=%d: %w", t, err)
	}

	m, err := s.newModel(seq.Dim(), KindNovelty, t, lookback)
	if err != nil {
		return nil, err
	}
	curve, err := s.trainer.Run(ctx, m, trainSet)
	if err != nil {
		return nil, fmt.Errorf("novelty training at t=%d: %w", t, err)
	}
	_, losses, err := m.Predict(ctx, evalSet)
	if err != nil {
		return nil, fmt.Errorf("novelty prediction at t=%d: %w", t, err)
	}

	rec := &Record{
		Kind:        KindNovelty,
		T:           t,
		RealTime:    seq.TimeAt(t),
		Losses:      losses,
		Curves:      []Curve{{Label: "training loss v epoch", Losses: curve}},
		Lookback:    lookback,
		TrainSize:   trainSize,
		PredictSize: predictSize,
	}
	rec.Horizons = make([]int, predictSize)
	for i := range rec.Horizons {
		rec.Horizons[i] = i
	}

	rec.Count = CountNewMaxima(losses)
	if rec.Score, err = NoveltyScore(losses); err != nil {
		return nil, err
	}
	s.logger.Debug("novelty evaluated", "t", t, "steps", predictSize, "new_maxima", rec.Count, "final_train_loss", curve[len(curve)-1])

	if err := s.commit(ctx, sink, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
