package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/lockfile"
	"github.com/jpmacdonald/apl/internal/sandbox"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show apl home and project sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		home := openHome()
		db := openDB(home)
		defer db.Shutdown()

		fmt.Printf("home: %s\n", home.Root)

		pkgs, err := db.ListPackages(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("installed packages: %d\n", len(pkgs))

		if idx, err := loadIndex(home); err == nil {
			fmt.Printf("index: %d packages, updated %s\n", len(idx.Packages), idx.UpdatedAt.Format(time.RFC3339))
		} else {
			fmt.Println("index: not downloaded (run `apl update`)")
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		manifestPath, rootDir, found := sandbox.FindManifest(cwd)
		if !found {
			fmt.Println("project: no apl.toml found above the current directory")
			return nil
		}
		fmt.Printf("project: %s\n", manifestPath)

		manifest, err := lockfile.LoadManifest(manifestPath)
		if err != nil {
			return err
		}
		lockPath := filepath.Join(rootDir, "apl.lock")
		lock, err := lockfile.LoadLockfile(lockPath)
		if err != nil {
			fmt.Println("lockfile: missing (run `apl shell` or `apl run` to generate)")
			return nil
		}
		if lockfile.IsSynced(manifest, lock) {
			fmt.Println("lockfile: in sync with manifest")
		} else {
			fmt.Println("lockfile: out of sync with manifest (run with --update)")
		}
		return nil
	},
}
