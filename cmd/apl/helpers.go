package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/jpmacdonald/apl/internal/aplhome"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/errfmt"
	"github.com/jpmacdonald/apl/internal/indexcodec"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/statedb"
)

func openHome() *aplhome.Home {
	home, err := aplhome.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "apl: resolving home directory: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	if err := home.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "apl: preparing %s: %v\n", home.Root, err)
		exitWithCode(ExitGeneral)
	}
	return home
}

func openDB(home *aplhome.Home) *statedb.DB {
	db, err := statedb.Open(home.StateDB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "apl: opening state database: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	return db
}

func loadIndex(home *aplhome.Home) (*model.PackageIndex, error) {
	data, err := os.ReadFile(home.Index())
	if err != nil {
		return nil, fmt.Errorf("reading index: %w (run `apl update` first)", err)
	}
	return indexcodec.Decode(data)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: config.GetAPITimeout()}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errfmt.Format(err, nil))
	exitWithCode(ExitPackageError)
}
