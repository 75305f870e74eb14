package main

import (
	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/sandbox"
)

var (
	runFrozen bool
	runUpdate bool
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command with the current project's dependencies on PATH",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSandboxed(cmd, sandbox.Options{Frozen: runFrozen, Update: runUpdate, Command: args})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFrozen, "frozen", false, "fail instead of re-resolving if the lockfile is out of sync")
	runCmd.Flags().BoolVar(&runUpdate, "update", false, "re-resolve every dependency to its latest satisfying version")
	runCmd.Flags().SetInterspersed(false)
}
