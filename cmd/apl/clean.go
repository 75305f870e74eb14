package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove downloaded archives from the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		home := openHome()

		entries, err := os.ReadDir(home.Cache())
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("cache is already empty")
				return nil
			}
			return err
		}

		var freed int64
		for _, e := range entries {
			path := filepath.Join(home.Cache(), e.Name())
			if info, err := e.Info(); err == nil {
				freed += info.Size()
			}
			if err := os.RemoveAll(path); err != nil {
				fmt.Fprintf(os.Stderr, "apl: removing %s: %v\n", path, err)
			}
		}
		fmt.Printf("freed %s\n", humanize.Bytes(uint64(freed)))
		return nil
	},
}
