package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the package index by name, description, or tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.ToLower(args[0])

		home := openHome()
		idx, err := loadIndex(home)
		if err != nil {
			return err
		}

		found := 0
		for _, entry := range idx.Packages {
			if !matchesQuery(entry.Name.String(), entry.Description, entry.Tags, query) {
				continue
			}
			latest := "?"
			if v, ok := entry.LatestVersion(); ok {
				latest = v.Version
			}
			fmt.Printf("%-20s %-10s %s\n", entry.Name, latest, entry.Description)
			found++
		}
		if found == 0 {
			fmt.Println("no matches")
		}
		return nil
	},
}

func matchesQuery(name, description string, tags []string, query string) bool {
	if strings.Contains(strings.ToLower(name), query) {
		return true
	}
	if strings.Contains(strings.ToLower(description), query) {
		return true
	}
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), query) {
			return true
		}
	}
	return false
}
