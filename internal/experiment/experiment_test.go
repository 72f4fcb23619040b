package experiment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/scoring"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testSequence(t *testing.T) *artifact.Sequence {
	t.Helper()
	cfg := artifact.DefaultSynthConfig()
	cfg.Steps = 40
	cfg.Dim = 3
	cfg.Agents = 16
	cfg.Period = 8
	seq, err := artifact.Synthesize(cfg)
	require.NoError(t, err)
	return seq
}

func testScoringConfig() scoring.Config {
	return scoring.Config{
		Lookback:      2,
		TrainSize:     8,
		PredictSize:   8,
		TrainEpochs:   2,
		ObserverWidth: 4,
		Layers:        2,
		LearningRate:  0.01,
		WeightDecay:   1e-5,
		Seed:          3,
	}
}

func newScorer(t *testing.T) *scoring.Scorer {
	t.Helper()
	s, err := scoring.New(testScoringConfig())
	require.NoError(t, err)
	return s
}

func TestSampleIndices(t *testing.T) {
	tests := []struct {
		n, samples, margin int
		want               []int
	}{
		{100, 4, 10, []int{10, 30, 50, 70}},
		{10, 3, 0, []int{0, 3, 6}},
		{40, 3, 10, []int{10, 16, 23}},
		{5, 1, 2, []int{2}},
	}
	for _, tt := range tests {
		got, err := SampleIndices(tt.n, tt.samples, tt.margin)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "n=%d samples=%d margin=%d", tt.n, tt.samples, tt.margin)
	}

	_, err := SampleIndices(100, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidSampling)
	_, err = SampleIndices(20, 5, 10)
	assert.ErrorIs(t, err, ErrInvalidSampling)
	_, err = SampleIndices(20, 5, -1)
	assert.ErrorIs(t, err, ErrInvalidSampling)
}

func TestSampleIndicesDistinct(t *testing.T) {
	_, err := SampleIndices(30, 40, 10)
	assert.ErrorIs(t, err, ErrInvalidSampling)
	_, err = SampleIndices(30, 11, 10)
	assert.ErrorIs(t, err, ErrInvalidSampling)

	got, err := SampleIndices(30, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, got)

	got, err = SampleIndices(37, 9, 5)
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
}

func TestWidths(t *testing.T) {
	assert.Equal(t, []int{8, 16, 32}, Widths(32))
	assert.Equal(t, []int{8, 16, 32}, Widths(63))
	assert.Empty(t, Widths(7))
}

func TestRun(t *testing.T) {
	seq := testSequence(t)
	sink := diagnostics.NewMemorySink()

	var (
		mu   sync.Mutex
		seen []string
	)
	hook := func(ctx context.Context, rec *scoring.Record) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, rec.GroupName())
		return nil
	}

	res, err := Run(context.Background(), newScorer(t), seq,
		Config{Samples: 3, Margin: 10, Concurrency: 2}, sink, WithRecordHook(hook))
	require.NoError(t, err)

	assert.Equal(t, []int{10, 16, 23}, res.Indices)
	assert.Equal(t, []float64{seq.TimeAt(10), seq.TimeAt(16), seq.TimeAt(23)}, res.Times)
	require.Len(t, res.Records, 6)
	for i, t0 := range res.Indices {
		assert.Equal(t, scoring.KindNovelty, res.Records[2*i].Kind)
		assert.Equal(t, t0, res.Records[2*i].T)
		assert.Equal(t, scoring.KindLearnability, res.Records[2*i+1].Kind)
		assert.Equal(t, res.Records[2*i].Score, res.Novelty[i])
		assert.Equal(t, res.Records[2*i+1].Score, res.Learnability[i])
	}
	assert.Len(t, seen, 6)

	summary := sink.Group(SummaryGroup)
	require.NotNil(t, summary)
	novelty, ok := summary.Array("novelty")
	require.True(t, ok)
	assert.Equal(t, res.Novelty, novelty)
	times, ok := summary.Array("time")
	require.True(t, ok)
	assert.Equal(t, res.Times, times)
	assert.NotNil(t, sink.Group("novelty_16_meta"))
	assert.NotNil(t, sink.Group("learnability_23_meta"))
}

func TestRunIndependentOfConcurrency(t *testing.T) {
	seq := testSequence(t)
	cfg := Config{Samples: 3, Margin: 10}

	cfg.Concurrency = 1
	serial, err := Run(context.Background(), newScorer(t), seq, cfg, nil)
	require.NoError(t, err)
	cfg.Concurrency = 3
	parallel, err := Run(context.Background(), newScorer(t), seq, cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, serial.Novelty, parallel.Novelty)
	assert.Equal(t, serial.Learnability, parallel.Learnability)
}

func TestRunStopsOnHookError(t *testing.T) {
	seq := testSequence(t)
	sink := diagnostics.NewMemorySink()
	boom := errors.New("disk full")

	_, err := Run(context.Background(), newScorer(t), seq,
		Config{Samples: 3, Margin: 10, Concurrency: 2}, sink,
		WithRecordHook(func(context.Context, *scoring.Record) error { return boom }))
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, sink.Group(SummaryGroup))
}

func TestRunCancelled(t *testing.T) {
	seq := testSequence(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, newScorer(t), seq, Config{Samples: 2, Margin: 10}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunInvalidSampling(t *testing.T) {
	seq := testSequence(t)
	_, err := Run(context.Background(), newScorer(t), seq, Config{Samples: 2, Margin: 30}, nil)
	assert.ErrorIs(t, err, ErrInvalidSampling)
}

func TestWidthSweep(t *testing.T) {
	seq := testSequence(t)
	sink := diagnostics.NewMemorySink()

	res, err := WidthSweep(context.Background(), testScoringConfig(), seq,
		SweepConfig{Samples: 2, Margin: 10, Concurrency: 2, MaxWidth: 16}, sink)
	require.NoError(t, err)

	assert.Equal(t, []int{8, 16}, res.Widths)
	require.Len(t, res.AverageLoss, 2)
	require.Len(t, res.SecondsPerSample, 2)
	for _, l := range res.AverageLoss {
		assert.Greater(t, l, 0.0)
	}

	for _, width := range []string{"8", "16"} {
		g := sink.Group(width)
		require.NotNil(t, g, "width group %s", width)
		_, ok := g.Lookup("novelty_10_meta")
		assert.True(t, ok)
		_, ok = g.Lookup("novelty_20_meta")
		assert.True(t, ok)
	}

	summary := sink.Group(SummaryGroup)
	require.NotNil(t, summary)
	widths, _ := summary.Array("observer width")
	assert.Equal(t, []float64{8, 16}, widths)
	_, ok := summary.Array("average loss over all samples vs width")
	assert.True(t, ok)
	_, ok = summary.Array("average sample processing time over all samples vs width")
	assert.True(t, ok)
}

func TestWidthSweepRejectsSmallMaxWidth(t *testing.T) {
	_, err := WidthSweep(context.Background(), testScoringConfig(), testSequence(t),
		SweepConfig{Samples: 1, Margin: 10, MaxWidth: 4}, nil)
	assert.ErrorIs(t, err, ErrInvalidSampling)
}
