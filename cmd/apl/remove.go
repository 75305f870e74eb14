package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/statedb"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm", "uninstall"},
	Short:   "Remove an installed package",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		home := openHome()
		db := openDB(home)
		defer db.Shutdown()

		pkg, err := db.GetPackage(cmd.Context(), name)
		if err != nil {
			return err
		}

		paths, err := db.RemovePackage(cmd.Context(), name)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "apl: removing %s: %v\n", p, err)
			}
		}
		if err := os.RemoveAll(home.StorePath(name, pkg.Version)); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "apl: removing store tree for %s: %v\n", name, err)
		}

		if err := db.AddHistory(cmd.Context(), statedb.HistoryEntry{
			Package:     name,
			Action:      "remove",
			FromVersion: pkg.Version,
			Success:     true,
			At:          time.Now(),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "apl: recording history: %v\n", err)
		}

		fmt.Printf("%s %s removed\n", name, pkg.Version)
		return nil
	},
}
