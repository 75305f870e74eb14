package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/install"
	"github.com/jpmacdonald/apl/internal/model"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <name>",
	Short: "Revert a package to the version it was at before its current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		home := openHome()
		idx, err := loadIndex(home)
		if err != nil {
			return err
		}
		db := openDB(home)
		defer db.Shutdown()

		pkg, err := db.GetPackage(cmd.Context(), name)
		if err != nil {
			return err
		}

		entries, err := db.ListHistory(cmd.Context(), name, 50)
		if err != nil {
			return err
		}

		var target string
		for _, h := range entries {
			if !h.Success || h.ToVersion == "" || h.ToVersion == pkg.Version {
				continue
			}
			target = h.ToVersion
			break
		}
		if target == "" {
			return fmt.Errorf("no prior version of %s recorded to roll back to", name)
		}

		req := install.Unresolved{Name: model.NewPackageName(name), RequestedVersion: target}
		summary, err := install.InstallAll(cmd.Context(), home, db, idx, httpClient(), []install.Unresolved{req})
		if err != nil {
			return err
		}
		return reportSummary(summary)
	},
}
