package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/model"
)

var infoVersionReq string

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show index metadata for a package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		home := openHome()
		idx, err := loadIndex(home)
		if err != nil {
			return err
		}

		name := model.NewPackageName(args[0])
		entry, ok := idx.FindPackage(name)
		if !ok {
			return fmt.Errorf("%s: not found in index", name)
		}

		fmt.Printf("%s (%s)\n", entry.Name, entry.Kind)
		if entry.Description != "" {
			fmt.Println(entry.Description)
		}
		if len(entry.Tags) > 0 {
			fmt.Printf("tags: %s\n", strings.Join(entry.Tags, ", "))
		}
		fmt.Printf("%d release(s) tracked\n", len(entry.Releases))

		releases := make([]string, len(entry.Releases))
		for i, r := range entry.Releases {
			releases[i] = r.Version
		}
		req := infoVersionReq
		if req == "" {
			req = "latest"
		}
		match, ok := apiver.FindBestMatch(releases, req)
		if !ok {
			return fmt.Errorf("%s: no release satisfies %q", name, req)
		}
		fmt.Printf("%s matches %q via %s match\n", match.Version, req, match.Reason)
		return nil
	},
}

func init() {
	infoCmd.Flags().StringVar(&infoVersionReq, "version", "", "show which release this requirement resolves to (default latest)")
}
