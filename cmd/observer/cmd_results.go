package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/nvandessel/observer/internal/scoring"
	"github.com/nvandessel/observer/internal/store"
	"github.com/spf13/cobra"
)

const timeFormat = "2006-01-02 15:04:05"

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List scoring runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tARTIFACT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(r.ID), r.Kind, r.Status, r.StartedAt.Local().Format(timeFormat), r.Artifact)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func newScoresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "List stored learnability and novelty scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			runID, _ := cmd.Flags().GetString("run")
			kind, _ := cmd.Flags().GetString("kind")
			limit, _ := cmd.Flags().GetInt("limit")

			switch scoring.Kind(kind) {
			case "", scoring.KindLearnability, scoring.KindNovelty:
			default:
				return fmt.Errorf("invalid kind %q (valid: learnability, novelty)", kind)
			}

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			filter := store.ScoreFilter{Kind: kind, Limit: limit}
			if runID != "" {
				run, err := s.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				filter.RunID = run.ID
			}

			scores, err := s.ListScores(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if jsonOut {
				if scores == nil {
					scores = []store.Score{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"scores": scores,
					"count":  len(scores),
				})
			}

			if len(scores) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scores recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tKIND\tT\tTIME\tSCORE\tCOUNT")
			for _, sc := range scores {
				fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%.4f\t%d\n",
					shortID(sc.RunID), sc.Kind, sc.T, sc.RealTime, sc.Score, sc.Count)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("run", "", "Only scores of this run (ID or unique prefix)")
	cmd.Flags().String("kind", "", "Only this kind: learnability or novelty")
	cmd.Flags().Int("limit", 100, "Maximum number of scores (0 for all)")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id> [group-path] [array-name]",
		Short: "List or print the diagnostic arrays of a run",
		Long: `With only a run ID, list every diagnostic array of the run. With a
group path, list the arrays at and below that group. With an array name
as well, print the array's values.

Group paths join nested groups with "/", e.g. "16/novelty_120_meta".`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var path string
			if len(args) > 1 {
				path = args[1]
			}

			if len(args) == 3 {
				data, err := s.ReadArray(cmd.Context(), run.ID, path, args[2])
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
						"run_id": run.ID,
						"path":   path,
						"name":   args[2],
						"data":   data,
					})
				}
				for i, v := range data {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%.8g\n", i, v)
				}
				return nil
			}

			arrays, err := s.ListArrays(cmd.Context(), run.ID, path)
			if err != nil {
				return err
			}

			if jsonOut {
				if arrays == nil {
					arrays = []store.ArrayInfo{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run":    run,
					"arrays": arrays,
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s, %s)\n", run.ID, run.Kind, run.Status)
			if run.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Error: %s\n", run.Error)
			}
			if len(arrays) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No arrays.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tARRAY\tLENGTH")
			for _, a := range arrays {
				fmt.Fprintf(w, "%s\t%s\t%d\n", a.Path, a.Name, a.Length)
			}
			return w.Flush()
		},
	}
	return cmd
}

// shortID returns the first block of a UUID, enough to address a run by
// prefix in most stores.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
