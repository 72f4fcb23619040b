package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/config"
	"github.com/nvandessel/observer/internal/logging"
	"github.com/nvandessel/observer/internal/scoring"
	"github.com/nvandessel/observer/internal/store"
	"github.com/spf13/cobra"
)

// scoreOutput is the JSON form of one score.
type scoreOutput struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	T           int       `json:"t"`
	RealTime    float64   `json:"real_time"`
	Score       float64   `json:"score"`
	Count       int       `json:"count"`
	Horizons    []int     `json:"horizons"`
	Losses      []float64 `json:"losses"`
	Lookback    int       `json:"lookback"`
	TrainSize   int       `json:"train_size"`
	PredictSize int       `json:"predict_size,omitempty"`
	Group       string    `json:"group"`
}

func newScoreOutput(runID string, rec *scoring.Record) scoreOutput {
	return scoreOutput{
		RunID:       runID,
		Kind:        string(rec.Kind),
		T:           rec.T,
		RealTime:    rec.RealTime,
		Score:       rec.Score,
		Count:       rec.Count,
		Horizons:    rec.Horizons,
		Losses:      rec.Losses,
		Lookback:    rec.Lookback,
		TrainSize:   rec.TrainSize,
		PredictSize: rec.PredictSize,
		Group:       rec.GroupName(),
	}
}

// addScoringFlags registers the flags that override the scoring section of
// the config.
func addScoringFlags(cmd *cobra.Command) {
	cmd.Flags().Int("lookback", 0, "Window length for novelty, largest candidate for learnability")
	cmd.Flags().Int("train-size", 0, "Number of training windows")
	cmd.Flags().Int("predict-size", 0, "Number of forward steps novelty evaluates")
	cmd.Flags().Int("epochs", 0, "Training epochs per model")
	cmd.Flags().Int("width", 0, "Hidden units per LSTM layer")
	cmd.Flags().Uint64("seed", 0, "Seed for model initialization")
	cmd.Flags().Bool("causal", false, "Fit normalization on the data before t only")
	cmd.Flags().Int("workers", 0, "Goroutines per gradient evaluation")
}

// applyScoringFlags copies every scoring flag the user set into cfg.
func applyScoringFlags(cmd *cobra.Command, cfg *config.ObserverConfig) {
	flags := cmd.Flags()
	ints := []struct {
		name string
		dst  *int
	}{
		{"lookback", &cfg.Scoring.Lookback},
		{"train-size", &cfg.Scoring.TrainSize},
		{"predict-size", &cfg.Scoring.PredictSize},
		{"epochs", &cfg.Scoring.TrainEpochs},
		{"width", &cfg.Scoring.ObserverWidth},
		{"workers", &cfg.Compute.Workers},
	}
	for _, f := range ints {
		if flags.Changed(f.name) {
			*f.dst, _ = flags.GetInt(f.name)
		}
	}
	if flags.Changed("seed") {
		cfg.Scoring.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("causal") {
		cfg.Scoring.CausalNormalization, _ = flags.GetBool("causal")
	}
}

// session bundles what a scoring command needs: the validated config, the
// artifact sequence, a scorer, the result store and the run row.
type session struct {
	cfg    *config.ObserverConfig
	seq    *artifact.Sequence
	scorer *scoring.Scorer
	store  *store.SQLiteStore
	events *logging.EventLogger
	run    store.Run
}

// openSession loads everything a scoring command needs and records a new
// run of the given kind. The caller must call finish.
func openSession(ctx context.Context, cmd *cobra.Command, kind, artifactPath string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	applyScoringFlags(cmd, cfg)
	applyExperimentFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	seq, err := artifact.ReadFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	cc, err := cfg.ComputeContext()
	if err != nil {
		return nil, err
	}

	resultStore, err := openStore(cmd)
	if err != nil {
		return nil, err
	}

	events := logging.NewEventLogger(dataDir(cmd), cfg.Logging.Level)
	scorer, err := scoring.New(cfg.ScoringParams(),
		scoring.WithLogger(newLogger(cmd, cfg)),
		scoring.WithEvents(events),
		scoring.WithCompute(cc))
	if err != nil {
		events.Close()
		resultStore.Close()
		return nil, err
	}

	snapshot, err := cfg.Marshal()
	if err != nil {
		events.Close()
		resultStore.Close()
		return nil, err
	}

	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		abs = artifactPath
	}
	run, err := resultStore.CreateRun(ctx, store.Run{Kind: kind, Artifact: abs, Config: snapshot})
	if err != nil {
		events.Close()
		resultStore.Close()
		return nil, err
	}

	return &session{
		cfg:    cfg,
		seq:    seq,
		scorer: scorer,
		store:  resultStore,
		events: events,
		run:    run,
	}, nil
}

// finish marks the run complete or failed and closes the store. It returns
// runErr, or the first error finishing produced.
func (s *session) finish(ctx context.Context, runErr error) error {
	err := s.store.FinishRun(context.WithoutCancel(ctx), s.run.ID, runErr)
	s.events.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	if runErr != nil {
		return runErr
	}
	return err
}

func newLearnabilityCmd() *cobra.Command {
	return newScoreCmd(scoring.KindLearnability,
		"Score how learnable the history before timestep t is",
		`Train one forecaster per lookback 1, 2, 4, ... up to --lookback on the
windows before t and count how often a longer lookback reached a new
lowest one-step prediction loss at t. The score is that count divided by
the number of candidates.`)
}

func newNoveltyCmd() *cobra.Command {
	return newScoreCmd(scoring.KindNovelty,
		"Score how novel the artifacts after timestep t are",
		`Train one forecaster on the windows before t, predict forward from t,
and count how often the prediction loss reached a new maximum. The score
is that count divided by the number of steps predicted.`)
}

func newScoreCmd(kind scoring.Kind, short, long string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(kind) + " <artifact>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			t, _ := cmd.Flags().GetInt("t")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			sess, err := openSession(ctx, cmd, string(kind), args[0])
			if err != nil {
				return err
			}

			rec, err := scoreOnce(ctx, sess, kind, t)
			if err := sess.finish(ctx, err); err != nil {
				return err
			}

			out := newScoreOutput(sess.run.ID, rec)
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
			}
			printScore(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().Int("t", 0, "Timestep (artifact index) to score")
	cmd.MarkFlagRequired("t")
	addScoringFlags(cmd)
	return cmd
}

// scoreOnce runs one scorer against the run's store sink, which stores the
// score row together with its diagnostics.
func scoreOnce(ctx context.Context, sess *session, kind scoring.Kind, t int) (*scoring.Record, error) {
	sink := sess.store.Sink(sess.run.ID)

	var (
		rec *scoring.Record
		err error
	)
	switch kind {
	case scoring.KindLearnability:
		rec, err = sess.scorer.Learnability(ctx, sess.seq, t, sink)
	default:
		rec, err = sess.scorer.Novelty(ctx, sess.seq, t, sink)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func printScore(w io.Writer, out scoreOutput) {
	fmt.Fprintf(w, "%s at t=%d (time %g): %.4f (%d/%d)\n",
		out.Kind, out.T, out.RealTime, out.Score, out.Count, len(out.Horizons))
	label := "lookback"
	if out.Kind == string(scoring.KindNovelty) {
		label = "step"
	}
	for i, h := range out.Horizons {
		fmt.Fprintf(w, "  %s %-6d loss %.6g\n", label, h, out.Losses[i])
	}
	fmt.Fprintf(w, "Run: %s\n", out.RunID)
}
