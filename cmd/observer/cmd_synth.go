package main

import (
	"encoding/json"
	"fmt"

	"github.com/nvandessel/observer/internal/artifact"
	"github.com/spf13/cobra"
)

func newSynthCmd() *cobra.Command {
	def := artifact.DefaultSynthConfig()
	cmd := &cobra.Command{
		Use:   "synth <output.arrow>",
		Short: "Write a synthetic artifact sequence",
		Long: `Generate a deterministic cluster-count sequence (agents spread over
clusters by a periodic, drifting distribution) and write it as an Arrow
IPC file that the scoring commands can read.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg := artifact.SynthConfig{}
			cfg.Steps, _ = cmd.Flags().GetInt("steps")
			cfg.Dim, _ = cmd.Flags().GetInt("dim")
			cfg.Agents, _ = cmd.Flags().GetInt("agents")
			cfg.Period, _ = cmd.Flags().GetFloat64("period")
			cfg.Amplitude, _ = cmd.Flags().GetFloat64("amplitude")
			cfg.Drift, _ = cmd.Flags().GetFloat64("drift")
			cfg.TimeStep, _ = cmd.Flags().GetFloat64("time-step")
			cfg.Seed, _ = cmd.Flags().GetUint64("seed")

			seq, err := artifact.Synthesize(cfg)
			if err != nil {
				return err
			}
			if err := artifact.WriteFile(args[0], seq); err != nil {
				return fmt.Errorf("failed to write artifact: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":  args[0],
					"steps": seq.Len(),
					"dim":   seq.Dim(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d artifacts of dimension %d to %s\n", seq.Len(), seq.Dim(), args[0])
			return nil
		},
	}
	cmd.Flags().Int("steps", def.Steps, "Number of artifacts")
	cmd.Flags().Int("dim", def.Dim, "Feature dimension (number of clusters)")
	cmd.Flags().Int("agents", def.Agents, "Agents assigned per step")
	cmd.Flags().Float64("period", def.Period, "Steps per cycle of the periodic component")
	cmd.Flags().Float64("amplitude", def.Amplitude, "Strength of the periodic component")
	cmd.Flags().Float64("drift", def.Drift, "Random-walk standard deviation per step")
	cmd.Flags().Float64("time-step", def.TimeStep, "Real time between artifacts")
	cmd.Flags().Uint64("seed", def.Seed, "Random seed")
	return cmd
}
