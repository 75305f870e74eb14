package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/sandbox"
)

var (
	shellFrozen bool
	shellUpdate bool
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Enter a sandboxed shell with the current project's dependencies on PATH",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSandboxed(cmd, sandbox.Options{Frozen: shellFrozen, Update: shellUpdate})
	},
}

func init() {
	shellCmd.Flags().BoolVar(&shellFrozen, "frozen", false, "fail instead of re-resolving if the lockfile is out of sync")
	shellCmd.Flags().BoolVar(&shellUpdate, "update", false, "re-resolve every dependency to its latest satisfying version")
}

func runSandboxed(cmd *cobra.Command, opts sandbox.Options) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	_, rootDir, found := sandbox.FindManifest(cwd)
	if !found {
		return fmt.Errorf("no apl.toml found in %s or any parent directory", cwd)
	}

	home := openHome()
	idx, err := loadIndex(home)
	if err != nil {
		return err
	}
	db := openDB(home)
	defer db.Shutdown()

	_, lock, err := sandbox.Resolve(rootDir, idx, opts, time.Now())
	if err != nil {
		return err
	}

	installer := &installerAdapter{home: home, db: db, idx: idx, client: httpClient()}
	if err := sandbox.EnsureInstalled(cmd.Context(), home, lock, installer); err != nil {
		return err
	}

	return sandbox.Shell(home, rootDir, lock, opts)
}
