package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nvandessel/observer/internal/config"
	"github.com/nvandessel/observer/internal/logging"
	"github.com/nvandessel/observer/internal/store"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "observer",
		Short: "Observer - learnability and novelty scoring for simulation artifacts",
		Long: `observer trains small forecasting models on a sequence of simulation
artifacts and reports, at a chosen timestep, how learnable the recent
history is (learnability) and how quickly the future departs from what
the past predicts (novelty).

Scores and their diagnostic arrays are kept in .observer/observer.db
under the project root.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.observer/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSynthCmd(),
		newLearnabilityCmd(),
		newNoveltyCmd(),
		newRunCmd(),
		newSweepWidthCmd(),
		// Results
		newRunsCmd(),
		newScoresCmd(),
		newShowCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file named by --config (or the default one)
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.ObserverConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// dataDir returns the .observer directory under --root.
func dataDir(cmd *cobra.Command) string {
	root, _ := cmd.Flags().GetString("root")
	return store.LocalObserverPath(root)
}

func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(dataDir(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	return s, nil
}

func newLogger(cmd *cobra.Command, cfg *config.ObserverConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// signalContext returns a context cancelled on the first shutdown signal.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, shutdownSignals...)
}
