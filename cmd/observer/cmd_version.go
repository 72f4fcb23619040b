package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/nvandessel/observer/internal/compute"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			info := map[string]string{
				"version": version,
				"commit":  commit,
				"date":    date,
				"go":      runtime.Version(),
				"backend": compute.DeviceCPU + "/" + compute.BackendGonum,
			}
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(info)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "observer version %s (commit: %s, built: %s, %s, backend %s)\n",
				version, commit, date, info["go"], info["backend"])
		},
	}
}
