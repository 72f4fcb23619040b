package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/compute"
	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/window"
)

func testSequence(t *testing.T, steps int) *artifact.Sequence {
	t.Helper()
	cfg := artifact.DefaultSynthConfig()
	cfg.Steps = steps
	cfg.Dim = 3
	cfg.Agents = 16
	cfg.Period = 8
	seq, err := artifact.Synthesize(cfg)
	require.NoError(t, err)
	return seq
}

func testConfig() Config {
	return Config{
		Lookback:      4,
		TrainSize:     12,
		PredictSize:   12,
		TrainEpochs:   3,
		ObserverWidth: 4,
		Layers:        2,
		LearningRate:  0.01,
		WeightDecay:   1e-5,
		Seed:          7,
	}
}

func newScorer(t *testing.T, cfg Config, opts ...Option) *Scorer {
	t.Helper()
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestLookbacks(t *testing.T) {
	tests := []struct {
		max  int
		want []int
	}{
		{0, nil},
		{1, []int{1}},
		{2, []int{1, 2}},
		{3, []int{1, 2}},
		{5, []int{1, 2, 4}},
		{8, []int{1, 2, 4, 8}},
		{20, []int{1, 2, 4, 8, 16}},
	}
	for _, tt := range tests {
		got := LookbackCandidates(tt.max)
		assert.Equal(t, tt.want, got, "max=%d", tt.max)
	}
}

func TestLookbacksProperties(t *testing.T) {
	for max := 1; max <= 300; max++ {
		got := LookbackCandidates(max)
		require.NotEmpty(t, got)
		assert.Equal(t, 1, got[0])
		for i := 1; i < len(got); i++ {
			assert.Equal(t, 2*got[i-1], got[i])
		}
		last := got[len(got)-1]
		assert.LessOrEqual(t, last, max)
		assert.Greater(t, 2*last, max, "next candidate must exceed max=%d", max)
	}
}

func TestLookbacksLargeMax(t *testing.T) {
	got := LookbackCandidates(math.MaxInt)
	require.NotEmpty(t, got)
	assert.Equal(t, 1<<62, got[len(got)-1])
}

func TestMonotonicCounting(t *testing.T) {
	increasing := []float64{0.1, 0.2, 0.2, 0.5, 0.9}
	decreasing := []float64{0.9, 0.5, 0.5, 0.2, 0.1}

	score, err := NoveltyScore(increasing)
	require.NoError(t, err)
	assert.Equal(t, 0.8, score, "ties do not count as new maxima")

	score, err = NoveltyScore([]float64{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	score, err = NoveltyScore(decreasing)
	require.NoError(t, err)
	assert.Equal(t, 1.0/float64(len(decreasing)), score)

	score, err = LearnabilityScore(decreasing)
	require.NoError(t, err)
	assert.Equal(t, 0.8, score)

	score, err = LearnabilityScore(increasing)
	require.NoError(t, err)
	assert.Equal(t, 0.2, score)

	assert.Equal(t, 0, CountNewMaxima([]float64{0, 0, 0}))
	assert.Equal(t, 3, CountNewMinima([]float64{3, 2, 1}))
}

func TestScoresRejectEmpty(t *testing.T) {
	_, err := LearnabilityScore(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
	_, err = NoveltyScore(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := testConfig()
	cfg.PredictSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = testConfig()
	cfg.ObserverWidth = -1
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLearnability(t *testing.T) {
	seq := testSequence(t, 24)
	sink := diagnostics.NewMemorySink()
	s := newScorer(t, testConfig())

	rec, err := s.Learnability(context.Background(), seq, 12, sink)
	require.NoError(t, err)

	assert.Equal(t, KindLearnability, rec.Kind)
	assert.Equal(t, 12, rec.T)
	assert.Equal(t, seq.TimeAt(12), rec.RealTime)
	assert.Equal(t, []int{1, 2, 4}, rec.Horizons)
	require.Len(t, rec.Losses, 3)
	require.Len(t, rec.Curves, 3)
	for _, c := range rec.Curves {
		assert.Len(t, c.Losses, 3)
	}
	assert.GreaterOrEqual(t, rec.Score, 1.0/3)
	assert.LessOrEqual(t, rec.Score, 1.0)
	assert.Equal(t, float64(rec.Count)/3, rec.Score)

	g := sink.Group("learnability_12_meta")
	require.NotNil(t, g)
	lookbacks, ok := g.Array("lookbacks")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 4}, lookbacks)
	losses, ok := g.Array("prediction loss")
	require.True(t, ok)
	assert.Equal(t, rec.Losses, losses)
	curves, ok := g.Lookup("training loss")
	require.True(t, ok)
	_, ok = curves.Array("time 12 lookback 4")
	assert.True(t, ok)
}

func TestNovelty(t *testing.T) {
	seq := testSequence(t, 24)
	sink := diagnostics.NewMemorySink()
	cfg := testConfig()
	cfg.Lookback = 2
	s := newScorer(t, cfg)

	rec, err := s.Novelty(context.Background(), seq, 12, sink)
	require.NoError(t, err)

	assert.Equal(t, KindNovelty, rec.Kind)
	assert.Equal(t, 12, rec.TrainSize)
	assert.Equal(t, 12, rec.PredictSize)
	require.Len(t, rec.Losses, 12)
	assert.Equal(t, float64(rec.Count)/12, rec.Score)
	assert.GreaterOrEqual(t, rec.Score, 0.0)
	assert.LessOrEqual(t, rec.Score, 1.0)
	for _, l := range rec.Losses {
		assert.GreaterOrEqual(t, l, 0.0)
	}

	g := sink.Group("novelty_12_meta")
	require.NotNil(t, g)
	for _, name := range []string{"training loss v epoch", "prediction loss", "lookback", "train size", "predict size", "score"} {
		_, ok := g.Array(name)
		assert.True(t, ok, "missing array %q", name)
	}
	size, _ := g.Array("predict size")
	assert.Equal(t, []float64{12}, size)
}

func TestClampEquivalence(t *testing.T) {
	seq := testSequence(t, 24)
	ctx := context.Background()

	small := testConfig()
	small.Lookback = 2
	small.TrainSize = seq.Len()
	small.PredictSize = seq.Len()
	large := small
	large.TrainSize = 10 * seq.Len()
	large.PredictSize = 10 * seq.Len()

	a := newScorer(t, small)
	b := newScorer(t, large)

	la, err := a.Learnability(ctx, seq, 12, nil)
	require.NoError(t, err)
	lb, err := b.Learnability(ctx, seq, 12, nil)
	require.NoError(t, err)
	assert.Equal(t, la, lb)

	na, err := a.Novelty(ctx, seq, 12, nil)
	require.NoError(t, err)
	nb, err := b.Novelty(ctx, seq, 12, nil)
	require.NoError(t, err)
	assert.Equal(t, na, nb)
}

func TestInsufficientDataWritesNothing(t *testing.T) {
	seq := testSequence(t, 24)
	sink := diagnostics.NewMemorySink()
	s := newScorer(t, testConfig())

	_, err := s.Learnability(context.Background(), seq, 0, sink)
	assert.ErrorIs(t, err, ErrInsufficientData)
	_, err = s.Novelty(context.Background(), seq, 0, sink)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Empty(t, sink.Names())
}

func TestOutOfRange(t *testing.T) {
	seq := testSequence(t, 24)
	sink := diagnostics.NewMemorySink()
	s := newScorer(t, testConfig())

	_, err := s.Learnability(context.Background(), seq, 24, sink)
	assert.ErrorIs(t, err, window.ErrOutOfRange)
	_, err = s.Novelty(context.Background(), seq, -1, sink)
	assert.ErrorIs(t, err, window.ErrOutOfRange)

	// Lookback 4 does not fit in front of t=2.
	_, err = s.Learnability(context.Background(), seq, 2, sink)
	assert.ErrorIs(t, err, window.ErrOutOfRange)
	assert.Empty(t, sink.Names())
}

func TestScoringIndependentOfWorkers(t *testing.T) {
	seq := testSequence(t, 24)
	cfg := testConfig()
	cfg.Lookback = 2

	serial, err := compute.New(compute.DeviceCPU, compute.BackendGonum, 1, 2)
	require.NoError(t, err)
	parallel, err := compute.New(compute.DeviceCPU, compute.BackendGonum, 4, 2)
	require.NoError(t, err)

	a, err := newScorer(t, cfg, WithCompute(serial)).Novelty(context.Background(), seq, 12, nil)
	require.NoError(t, err)
	b, err := newScorer(t, cfg, WithCompute(parallel)).Novelty(context.Background(), seq, 12, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Losses, b.Losses)
	assert.Equal(t, a.Curves, b.Curves)
}

func TestCausalNormalizationChangesInputs(t *testing.T) {
	seq := testSequence(t, 24)
	cfg := testConfig()
	cfg.Lookback = 2

	full, err := newScorer(t, cfg).Novelty(context.Background(), seq, 12, nil)
	require.NoError(t, err)
	cfg.CausalNormalization = true
	causal, err := newScorer(t, cfg).Novelty(context.Background(), seq, 12, nil)
	require.NoError(t, err)
	assert.NotEqual(t, full.Losses, causal.Losses)
}

func TestCancelledContext(t *testing.T) {
	seq := testSequence(t, 24)
	sink := diagnostics.NewMemorySink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newScorer(t, testConfig()).Learnability(ctx, seq, 12, sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.Names())
}

func TestRecordGroupUnknownKind(t *testing.T) {
	rec := &Record{Kind: "other", T: 1}
	_, err := rec.Group()
	assert.Error(t, err)
}

type recordingSink struct {
	*diagnostics.MemorySink
	records []*Record
	commits int
}

func (r *recordingSink) Commit(ctx context.Context, g *diagnostics.Group) error {
	r.commits++
	return r.MemorySink.Commit(ctx, g)
}

func (r *recordingSink) CommitRecord(ctx context.Context, rec *Record, g *diagnostics.Group) error {
	r.records = append(r.records, rec)
	return r.MemorySink.Commit(ctx, g)
}

func TestRecordSinkReceivesRecord(t *testing.T) {
	seq := testSequence(t, 24)
	cfg := testConfig()
	cfg.Lookback = 2
	sink := &recordingSink{MemorySink: diagnostics.NewMemorySink()}

	rec, err := newScorer(t, cfg).Novelty(context.Background(), seq, 12, sink)
	require.NoError(t, err)

	require.Len(t, sink.records, 1)
	assert.Same(t, rec, sink.records[0])
	assert.Zero(t, sink.commits)
	assert.NotNil(t, sink.Group(rec.GroupName()))
}
