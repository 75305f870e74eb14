package main

import (
	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/install"
	"github.com/jpmacdonald/apl/internal/model"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [<name> ...]",
	Short: "Upgrade installed packages to their latest indexed version",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		home := openHome()
		idx, err := loadIndex(home)
		if err != nil {
			return err
		}
		db := openDB(home)
		defer db.Shutdown()

		names := args
		if len(names) == 0 {
			pkgs, err := db.ListPackages(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range pkgs {
				names = append(names, p.Name)
			}
		}

		requests := make([]install.Unresolved, 0, len(names))
		for _, n := range names {
			requests = append(requests, install.Unresolved{Name: model.NewPackageName(n), RequestedVersion: "latest"})
		}
		if len(requests) == 0 {
			return nil
		}

		summary, err := install.InstallAll(cmd.Context(), home, db, idx, httpClient(), requests)
		if err != nil {
			return err
		}
		return reportSummary(summary)
	},
}
