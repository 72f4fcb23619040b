package main

import (
	"fmt"

	"github.com/nvandessel/observer/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the scoring tools over MCP on stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing
observer_learnability, observer_novelty and observer_scores. Results are
stored in the same database as the CLI commands use.

Tools may only read artifacts under the project root (--root) and the
directories given with --allow-dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			root, _ := cmd.Flags().GetString("root")
			extra, _ := cmd.Flags().GetStringSlice("allow-dir")

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "observer",
				Version:  version,
				DataDir:  dataDir(cmd),
				Observer: cfg,
				Logger:   newLogger(cmd, cfg),

				ArtifactDirs: append([]string{root}, extra...),
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringSlice("allow-dir", nil, "Additional directory tools may read artifacts from (repeatable)")
	return cmd
}
