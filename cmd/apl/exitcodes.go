package main

import "os"

// Exit codes let scripts distinguish failure modes without scraping text.
const (
	ExitSuccess      = 0
	ExitGeneral      = 1
	ExitUsage        = 2
	ExitPackageError = 3
)

func exitWithCode(code int) {
	os.Exit(code)
}
