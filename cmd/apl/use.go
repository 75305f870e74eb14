package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/install"
	"github.com/jpmacdonald/apl/internal/model"
)

var useCmd = &cobra.Command{
	Use:   "use <name>@<version>",
	Short: "Activate an already-installed version of a package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, version, ok := strings.Cut(args[0], "@")
		if !ok || version == "" {
			return fmt.Errorf("use requires <name>@<version>")
		}

		home := openHome()
		idx, err := loadIndex(home)
		if err != nil {
			return err
		}
		db := openDB(home)
		defer db.Shutdown()

		req := install.Unresolved{Name: model.NewPackageName(name), RequestedVersion: version}
		summary, err := install.InstallAll(cmd.Context(), home, db, idx, httpClient(), []install.Unresolved{req})
		if err != nil {
			return err
		}
		return reportSummary(summary)
	},
}
