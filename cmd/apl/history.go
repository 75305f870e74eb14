package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [<name>]",
	Short: "Show install/remove/rollback history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		home := openHome()
		db := openDB(home)
		defer db.Shutdown()

		entries, err := db.ListHistory(cmd.Context(), name, historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no history recorded")
			return nil
		}
		for _, h := range entries {
			status := "ok"
			if !h.Success {
				status = "failed"
			}
			switch {
			case h.FromVersion != "" && h.ToVersion != "":
				fmt.Printf("%s  %-10s %-20s %s -> %s  [%s]\n", h.At.Format("2006-01-02 15:04:05"), h.Action, h.Package, h.FromVersion, h.ToVersion, status)
			case h.ToVersion != "":
				fmt.Printf("%s  %-10s %-20s %s  [%s]\n", h.At.Format("2006-01-02 15:04:05"), h.Action, h.Package, h.ToVersion, status)
			default:
				fmt.Printf("%s  %-10s %-20s %s  [%s]\n", h.At.Format("2006-01-02 15:04:05"), h.Action, h.Package, h.FromVersion, status)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum entries to show")
}
