package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed packages",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		home := openHome()
		db := openDB(home)
		defer db.Shutdown()

		pkgs, err := db.ListPackages(cmd.Context())
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			fmt.Println("no packages installed")
			return nil
		}
		for _, p := range pkgs {
			active := ""
			if p.Active {
				active = " (active)"
			}
			fmt.Printf("%-20s %s%s\n", p.Name, p.Version, active)
		}
		return nil
	},
}
