// Package experiment drives the scorers over many timesteps of one
// sequence: a sampled run that scores novelty and learnability at evenly
// spaced timesteps, and a sweep over observer widths.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/nvandessel/observer/internal/diagnostics"
	"github.com/nvandessel/observer/internal/scoring"
)

// SummaryGroup holds a run's or sweep's top-level arrays.
const SummaryGroup = "summary"

// ErrInvalidSampling is returned when no timestep can be sampled.
var ErrInvalidSampling = errors.New("experiment: invalid sampling")

// SampleIndices returns samples distinct timesteps evenly spaced over
// [margin, n-margin), endpoint excluded, truncated to integers. Asking for
// more samples than the range holds is an error.
func SampleIndices(n, samples, margin int) ([]int, error) {
	if samples < 1 {
		return nil, fmt.Errorf("%w: samples must be at least 1, got %d", ErrInvalidSampling, samples)
	}
	if margin < 0 || n-2*margin <= 0 {
		return nil, fmt.Errorf("%w: margin %d leaves no timesteps in %d artifacts", ErrInvalidSampling, margin, n)
	}
	if span := n - 2*margin; samples > span {
		return nil, fmt.Errorf("%w: %d samples exceed the %d timesteps between margins", ErrInvalidSampling, samples, span)
	}

	start, stop := float64(margin), float64(n-margin)
	step := (stop - start) / float64(samples)
	out := make([]int, samples)
	for i := range out {
		out[i] = int(start + float64(i)*step)
	}
	return out, nil
}

// Config controls a sampled run.
type Config struct {
	Samples     int
	Margin      int
	Concurrency int // scorer invocations in flight; < 1 means 1
}

// RecordFunc observes every completed record. It may be called from
// several goroutines at once.
type RecordFunc func(ctx context.Context, rec *scoring.Record) error

type options struct {
	logger   *slog.Logger
	onRecord RecordFunc
	scoring  []scoring.Option
}

// Option customizes Run and WidthSweep.
type Option func(*options)

// WithLogger sets the progress logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecordHook calls fn after every scorer invocation succeeds.
func WithRecordHook(fn RecordFunc) Option {
	return func(o *options) { o.onRecord = fn }
}

// WithScorerOptions passes opts to the scorers WidthSweep builds.
func WithScorerOptions(opts ...scoring.Option) Option {
	return func(o *options) { o.scoring = append(o.scoring, opts...) }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Result holds the scores of a sampled run in sample order.
type Result struct {
	Indices      []int
	Times        []float64
	Novelty      []float64
	Learnability []float64
	Records      []*scoring.Record // novelty and learnability per sample, interleaved
}

// Run scores novelty and learnability at every sampled timestep, with up to
// cfg.Concurrency invocations in flight. Per-sample diagnostics go to sink
// as they finish; the summary arrays "novelty", "learnability" and "time"
// are committed under SummaryGroup once every sample succeeded. The first
// failure cancels the remaining work.
func Run(ctx context.Context, s *scoring.Scorer, seq *artifact.Sequence, cfg Config, sink diagnostics.Sink, opts ...Option) (*Result, error) {
	o := buildOptions(opts)

	indices, err := SampleIndices(seq.Len(), cfg.Samples, cfg.Margin)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Indices:      indices,
		Times:        make([]float64, len(indices)),
		Novelty:      make([]float64, len(indices)),
		Learnability: make([]float64, len(indices)),
		Records:      make([]*scoring.Record, 2*len(indices)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Concurrency, 1))
	for i, t := range indices {
		res.Times[i] = seq.TimeAt(t)
		g.Go(func() error {
			nov, err := s.Novelty(gctx, seq, t, sink)
			if err != nil {
				return fmt.Errorf("novelty at t=%d: %w", t, err)
			}
			if err := o.record(gctx, nov); err != nil {
				return err
			}
			learn, err := s.Learnability(gctx, seq, t, sink)
			if err != nil {
				return fmt.Errorf("learnability at t=%d: %w", t, err)
			}
			if err := o.record(gctx, learn); err != nil {
				return err
			}

			res.Novelty[i] = nov.Score
			res.Learnability[i] = learn.Score
			res.Records[2*i] = nov
			res.Records[2*i+1] = learn
			o.logger.Info("sample scored", "t", t, "novelty", nov.Score, "learnability", learn.Score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if sink != nil {
		summary, err := diagnostics.NewGroup(SummaryGroup)
		if err != nil {
			return nil, err
		}
		for _, a := range []diagnostics.Array{
			{Name: "novelty", Data: res.Novelty},
			{Name: "learnability", Data: res.Learnability},
			{Name: "time", Data: res.Times},
			{Name: "t", Data: floats(indices)},
		} {
			if err := summary.WriteArray(a.Name, a.Data); err != nil {
				return nil, err
			}
		}
		if err := sink.Commit(ctx, summary); err != nil {
			return nil, fmt.Errorf("failed to commit run summary: %w", err)
		}
	}
	return res, nil
}

func (o *options) record(ctx context.Context, rec *scoring.Record) error {
	if o.onRecord == nil {
		return nil
	}
	if err := o.onRecord(ctx, rec); err != nil {
		return fmt.Errorf("recording %s at t=%d: %w", rec.Kind, rec.T, err)
	}
	return nil
}

// SweepConfig controls a width sweep.
type SweepConfig struct {
	Samples     int
	Margin      int
	Concurrency int
	MaxWidth    int
}

// MinWidth is the first observer width a sweep tries.
const MinWidth = 8

// Widths returns MinWidth, 2*MinWidth, ... up to and including maxWidth.
func Widths(maxWidth int) []int {
	var out []int
	for w := MinWidth; w > 0 && w <= maxWidth; w *= 2 {
		out = append(out, w)
	}
	return out
}

// SweepResult holds one entry per width.
type SweepResult struct {
	Widths           []int
	AverageLoss      []float64 // mean final training loss over samples
	SecondsPerSample []float64
}

// WidthSweep runs novelty at every sampled timestep once per observer width
// and reports how the final training loss and the per-sample wall time
// change with width. Each width's records are committed under a group
// named after the width.
func WidthSweep(ctx context.Context, base scoring.Config, seq *artifact.Sequence, cfg SweepConfig, sink diagnostics.Sink, opts ...Option) (*SweepResult, error) {
	o := buildOptions(opts)

	widths := Widths(cfg.MaxWidth)
	if len(widths) == 0 {
		return nil, fmt.Errorf("%w: max width %d is below %d", ErrInvalidSampling, cfg.MaxWidth, MinWidth)
	}
	indices, err := SampleIndices(seq.Len(), cfg.Samples, cfg.Margin)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Widths: widths}
	for _, width := range widths {
		scfg := base
		scfg.ObserverWidth = width
		s, err := scoring.New(scfg, o.scoring...)
		if err != nil {
			return nil, err
		}

		var wsink diagnostics.Sink
		if sink != nil {
			if wsink, err = diagnostics.Prefix(sink, fmt.Sprint(width)); err != nil {
				return nil, err
			}
		}

		finals := make([]float64, len(indices))
		started := time.Now()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(cfg.Concurrency, 1))
		for i, t := range indices {
			g.Go(func() error {
				rec, err := s.Novelty(gctx, seq, t, wsink)
				if err != nil {
					return fmt.Errorf("width %d novelty at t=%d: %w", width, t, err)
				}
				if err := o.record(gctx, rec); err != nil {
					return err
				}
				curve := rec.Curves[0].Losses
				finals[i] = curve[len(curve)-1]
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		elapsed := time.Since(started)

		var total float64
		for _, l := range finals {
			total += l
		}
		res.AverageLoss = append(res.AverageLoss, total/float64(len(finals)))
		res.SecondsPerSample = append(res.SecondsPerSample, elapsed.Seconds()/float64(len(indices)))
		o.logger.Info("width evaluated", "width", width, "average_loss", total/float64(len(finals)), "elapsed", elapsed)
	}

	if sink != nil {
		summary, err := diagnostics.NewGroup(SummaryGroup)
		if err != nil {
			return nil, err
		}
		for _, a := range []diagnostics.Array{
			{Name: "observer width", Data: floats(res.Widths)},
			{Name: "average loss over all samples vs width", Data: res.AverageLoss},
			{Name: "average sample processing time over all samples vs width", Data: res.SecondsPerSample},
		} {
			if err := summary.WriteArray(a.Name, a.Data); err != nil {
				return nil, err
			}
		}
		if err := sink.Commit(ctx, summary); err != nil {
			return nil, fmt.Errorf("failed to commit sweep summary: %w", err)
		}
	}
	return res, nil
}

func floats(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
