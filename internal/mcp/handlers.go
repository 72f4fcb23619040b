package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/pathutil"
	"github.com/nvandessel/observer/internal/scoring"
	"github.com/nvandessel/observer/internal/store"
)

const defaultScoresLimit = 100

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "observer_learnability",
		Description: "Score how much a longer history improves next-step prediction of the artifact at timestep t (0 to 1)",
	}, s.handleLearnability)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "observer_novelty",
		Description: "Score how consistently prediction error grows when forecasting forward from timestep t (0 to 1)",
	}, s.handleNovelty)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "observer_scores",
		Description: "List stored learnability and novelty scores, optionally filtered by run or kind",
	}, s.handleScores)
}

func (s *Server) handleLearnability(ctx context.Context, req *sdk.CallToolRequest, args ScoreInput) (*sdk.CallToolResult, ScoreOutput, error) {
	out, err := s.score(ctx, "observer_learnability", scoring.KindLearnability, args)
	return nil, out, err
}

func (s *Server) handleNovelty(ctx context.Context, req *sdk.CallToolRequest, args ScoreInput) (*sdk.CallToolResult, ScoreOutput, error) {
	out, err := s.score(ctx, "observer_novelty", scoring.KindNovelty, args)
	return nil, out, err
}

// scoringConfig overlays the non-zero fields of args on the server config.
func (s *Server) scoringConfig(args ScoreInput) scoring.Config {
	cfg := s.cfg.ScoringParams()
	if args.Lookback > 0 {
		cfg.Lookback = args.Lookback
	}
	if args.TrainSize > 0 {
		cfg.TrainSize = args.TrainSize
	}
	if args.PredictSize > 0 {
		cfg.PredictSize = args.PredictSize
	}
	if args.TrainEpochs > 0 {
		cfg.TrainEpochs = args.TrainEpochs
	}
	if args.Width > 0 {
		cfg.ObserverWidth = args.Width
	}
	return cfg
}

func (s *Server) score(ctx context.Context, tool string, kind scoring.Kind, args ScoreInput) (_ ScoreOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(tool, start, retErr, sanitizeToolParams(map[string]any{
			"artifact": args.Artifact, "t": args.T, "lookback": args.Lookback,
			"train_size": args.TrainSize, "predict_size": args.PredictSize,
			"train_epochs": args.TrainEpochs, "observer_width": args.Width,
		}))
	}()

	release, err := s.guard.Acquire(tool)
	if err != nil {
		return ScoreOutput{}, err
	}
	defer release()

	if args.Artifact == "" {
		return ScoreOutput{}, fmt.Errorf("artifact is required")
	}
	artifactPath, err := pathutil.Resolve(args.Artifact, s.artifactDirs)
	if err != nil {
		return ScoreOutput{}, err
	}
	seq, err := artifact.ReadFile(artifactPath)
	if err != nil {
		return ScoreOutput{}, err
	}

	cc, err := s.cfg.ComputeContext()
	if err != nil {
		return ScoreOutput{}, err
	}
	scfg := s.scoringConfig(args)
	scorer, err := scoring.New(scfg,
		scoring.WithLogger(s.logger),
		scoring.WithEvents(s.events),
		scoring.WithCompute(cc))
	if err != nil {
		return ScoreOutput{}, err
	}

	snapshot := *s.cfg
	snapshot.Scoring.Lookback = scfg.Lookback
	snapshot.Scoring.TrainSize = scfg.TrainSize
	snapshot.Scoring.PredictSize = scfg.PredictSize
	snapshot.Scoring.TrainEpochs = scfg.TrainEpochs
	snapshot.Scoring.ObserverWidth = scfg.ObserverWidth
	cfgText, err := snapshot.Marshal()
	if err != nil {
		return ScoreOutput{}, err
	}

	run, err := s.store.CreateRun(ctx, store.Run{Kind: string(kind), Artifact: artifactPath, Config: cfgText})
	if err != nil {
		return ScoreOutput{}, err
	}

	rec, err := s.runScorer(ctx, scorer, kind, seq, args.T, run.ID)
	if ferr := s.store.FinishRun(context.WithoutCancel(ctx), run.ID, err); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return ScoreOutput{}, err
	}

	return ScoreOutput{
		RunID:       run.ID,
		Kind:        string(rec.Kind),
		T:           rec.T,
		RealTime:    rec.RealTime,
		Score:       rec.Score,
		Count:       rec.Count,
		Horizons:    rec.Horizons,
		Losses:      rec.Losses,
		TrainSize:   rec.TrainSize,
		PredictSize: rec.PredictSize,
		Group:       rec.GroupName(),
	}, nil
}

func (s *Server) runScorer(ctx context.Context, scorer *scoring.Scorer, kind scoring.Kind, seq *artifact.Sequence, t int, runID string) (*scoring.Record, error) {
	sink := s.store.Sink(runID)

	var (
		rec *scoring.Record
		err error
	)
	switch kind {
	case scoring.KindLearnability:
		rec, err = scorer.Learnability(ctx, seq, t, sink)
	default:
		rec, err = scorer.Novelty(ctx, seq, t, sink)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Server) handleScores(ctx context.Context, req *sdk.CallToolRequest, args ScoresInput) (_ *sdk.CallToolResult, _ ScoresOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("observer_scores", start, retErr, sanitizeToolParams(map[string]any{
			"run_id": args.RunID, "kind": args.Kind, "limit": args.Limit,
		}))
	}()

	release, err := s.guard.Acquire("observer_scores")
	if err != nil {
		return nil, ScoresOutput{}, err
	}
	defer release()

	switch scoring.Kind(args.Kind) {
	case "", scoring.KindLearnability, scoring.KindNovelty:
	default:
		return nil, ScoresOutput{}, fmt.Errorf("invalid kind %q (valid: learnability, novelty)", args.Kind)
	}

	filter := store.ScoreFilter{Kind: args.Kind, Limit: args.Limit}
	if filter.Limit <= 0 {
		filter.Limit = defaultScoresLimit
	}
	if args.RunID != "" {
		run, err := s.store.GetRun(ctx, args.RunID)
		if err != nil {
			return nil, ScoresOutput{}, err
		}
		filter.RunID = run.ID
	}

	scores, err := s.store.ListScores(ctx, filter)
	if err != nil {
		return nil, ScoresOutput{}, err
	}

	items := make([]ScoreItem, 0, len(scores))
	for _, sc := range scores {
		items = append(items, ScoreItem{
			RunID:     sc.RunID,
			Kind:      sc.Kind,
			T:         sc.T,
			RealTime:  sc.RealTime,
			Score:     sc.Score,
			CreatedAt: sc.CreatedAt,
		})
	}
	return nil, ScoresOutput{Scores: items, Count: len(items)}, nil
}
