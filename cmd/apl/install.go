package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/install"
	"github.com/jpmacdonald/apl/internal/model"
)

var installCmd = &cobra.Command{
	Use:   "install <name>[@<version>] [<name>[@<version>] ...]",
	Short: "Install one or more packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		home := openHome()
		idx, err := loadIndex(home)
		if err != nil {
			return err
		}
		db := openDB(home)
		defer db.Shutdown()

		requests := make([]install.Unresolved, 0, len(args))
		for _, arg := range args {
			name, version, _ := strings.Cut(arg, "@")
			if version == "" {
				version = "latest"
			}
			requests = append(requests, install.Unresolved{
				Name:             model.NewPackageName(name),
				RequestedVersion: version,
			})
		}

		summary, err := install.InstallAll(cmd.Context(), home, db, idx, httpClient(), requests)
		if err != nil {
			return err
		}
		return reportSummary(summary)
	},
}

func reportSummary(summary install.Summary) error {
	failed := 0
	for _, o := range summary.Outcomes {
		switch o.Action {
		case install.ActionFailed:
			fmt.Fprintf(os.Stderr, "apl: %s: %v\n", o.Name, o.Err)
			failed++
		case install.ActionAlreadyInstalled:
			fmt.Printf("%s %s already installed\n", o.Name, o.Version)
		default:
			fmt.Printf("%s %s %s\n", o.Name, o.Version, o.Action)
		}
	}
	if failed > 0 {
		exitWithCode(ExitPackageError)
	}
	return nil
}
