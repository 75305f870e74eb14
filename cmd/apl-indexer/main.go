// Command apl-indexer is the maintainer-side counterpart to apl: it walks
// a registry of PackageTemplate files, discovers and hydrates releases,
// and produces the signed binary index the apl CLI downloads with
// `apl update`.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/log"
)

var (
	quietFlag   bool
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "apl-indexer",
	Short: "Build and sign apl's package index",
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "show debug-level output")
	rootCmd.PersistentPreRun = initLogger

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
}

func initLogger(cmd *cobra.Command, args []string) {
	level := slog.LevelInfo
	switch {
	case quietFlag:
		level = slog.LevelError
	case verboseFlag:
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log.SetDefault(log.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString("apl-indexer: " + err.Error() + "\n")
		os.Exit(1)
	}
}
