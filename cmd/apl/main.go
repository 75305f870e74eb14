package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/model"
)

var (
	quietFlag   bool
	verboseFlag bool
)

var globalCtx context.Context
var globalCancel context.CancelFunc

var rootCmd = &cobra.Command{
	Use:   "apl",
	Short: "A package manager for macOS command-line tools",
	Long: `apl installs, resolves, and activates macOS command-line tools from a
signed binary index, with content-addressed storage and hermetic source
builds for packages with no prebuilt binary.`,
}

func init() {
	model.SetVersionComparator(apiver.Compare)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "show debug-level output")
	rootCmd.PersistentPreRun = initLogger

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(runCmd)
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
	globalCtx, globalCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer globalCancel()

	if err := rootCmd.ExecuteContext(globalCtx); err != nil {
		fail(err)
	}
}
