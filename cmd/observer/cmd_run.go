package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/nvandessel/observer/internal/config"
	"github.com/nvandessel/observer/internal/experiment"
	"github.com/nvandessel/observer/internal/scoring"
	"github.com/spf13/cobra"
)

// addExperimentFlags registers the sampling flags shared by run and
// sweep-width.
func addExperimentFlags(cmd *cobra.Command) {
	cmd.Flags().Int("samples", 0, "Number of timesteps to score")
	cmd.Flags().Int("margin", 0, "Timesteps skipped at both ends of the sequence")
	cmd.Flags().Int("concurrency", 0, "Scorer invocations in flight")
}

// applyExperimentFlags copies every experiment flag the command has and the
// user set into cfg.
func applyExperimentFlags(cmd *cobra.Command, cfg *config.ObserverConfig) {
	flags := cmd.Flags()
	for name, dst := range map[string]*int{
		"samples":     &cfg.Experiment.Samples,
		"margin":      &cfg.Experiment.Margin,
		"concurrency": &cfg.Experiment.Concurrency,
		"max-width":   &cfg.Experiment.MaxWidth,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <artifact>",
		Short: "Score novelty and learnability at evenly spaced timesteps",
		Long: `Pick --samples timesteps evenly spaced between --margin and
len - --margin, score novelty and learnability at each, and store the
per-sample diagnostics plus the summary arrays "novelty", "learnability"
and "time" under the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			sess, err := openSession(ctx, cmd, "run", args[0])
			if err != nil {
				return err
			}

			res, err := runExperiment(ctx, cmd, sess)
			if err := sess.finish(ctx, err); err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run_id":       sess.run.ID,
					"t":            res.Indices,
					"time":         res.Times,
					"novelty":      res.Novelty,
					"learnability": res.Learnability,
				})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "T\tTIME\tNOVELTY\tLEARNABILITY")
			for i, t := range res.Indices {
				fmt.Fprintf(w, "%d\t%g\t%.4f\t%.4f\n", t, res.Times[i], res.Novelty[i], res.Learnability[i])
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "Run: %s\n", sess.run.ID)
			return nil
		},
	}
	addScoringFlags(cmd)
	addExperimentFlags(cmd)
	return cmd
}

func runExperiment(ctx context.Context, cmd *cobra.Command, sess *session) (*experiment.Result, error) {
	exp := sess.cfg.Experiment
	return experiment.Run(ctx, sess.scorer, sess.seq,
		experiment.Config{Samples: exp.Samples, Margin: exp.Margin, Concurrency: exp.Concurrency},
		sess.store.Sink(sess.run.ID),
		experiment.WithLogger(newLogger(cmd, sess.cfg)))
}

func newSweepWidthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep-width <artifact>",
		Short: "Measure novelty training loss and cost across observer widths",
		Long: `Run novelty at the sampled timesteps once per observer width 8, 16, 32,
... up to --max-width, and report the average final training loss and the
average wall time per sample for each width.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			sess, err := openSession(ctx, cmd, "sweep-width", args[0])
			if err != nil {
				return err
			}

			res, err := sweepWidths(ctx, cmd, sess)
			if err := sess.finish(ctx, err); err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run_id":             sess.run.ID,
					"widths":             res.Widths,
					"average_loss":       res.AverageLoss,
					"seconds_per_sample": res.SecondsPerSample,
				})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WIDTH\tAVG LOSS\tSEC/SAMPLE")
			for i, width := range res.Widths {
				fmt.Fprintf(w, "%d\t%.6g\t%.3f\n", width, res.AverageLoss[i], res.SecondsPerSample[i])
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "Run: %s\n", sess.run.ID)
			return nil
		},
	}
	addScoringFlags(cmd)
	addExperimentFlags(cmd)
	cmd.Flags().Int("max-width", 0, "Largest observer width to try")
	return cmd
}

func sweepWidths(ctx context.Context, cmd *cobra.Command, sess *session) (*experiment.SweepResult, error) {
	cc, err := sess.cfg.ComputeContext()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, sess.cfg)
	exp := sess.cfg.Experiment
	return experiment.WidthSweep(ctx, sess.cfg.ScoringParams(), sess.seq,
		experiment.SweepConfig{
			Samples:     exp.Samples,
			Margin:      exp.Margin,
			Concurrency: exp.Concurrency,
			MaxWidth:    exp.MaxWidth,
		},
		sess.store.Sink(sess.run.ID),
		experiment.WithLogger(logger),
		experiment.WithScorerOptions(
			scoring.WithLogger(logger),
			scoring.WithEvents(sess.events),
			scoring.WithCompute(cc)))
}
