package main

import (
	"context"
	"net/http"

	"github.com/jpmacdonald/apl/internal/aplhome"
	"github.com/jpmacdonald/apl/internal/install"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/statedb"
)

// installerAdapter satisfies sandbox.Installer by routing through the
// regular install pipeline, requesting an exact version so InstallAll's
// store-presence check short-circuits into ActionAlreadyInstalled when
// nothing needs to change.
type installerAdapter struct {
	home   *aplhome.Home
	db     *statedb.DB
	idx    *model.PackageIndex
	client *http.Client
}

func (a *installerAdapter) EnsureInStore(ctx context.Context, name, version string) (string, error) {
	req := install.Unresolved{Name: model.NewPackageName(name), RequestedVersion: version}
	summary, err := install.InstallAll(ctx, a.home, a.db, a.idx, a.client, []install.Unresolved{req})
	if err != nil {
		return "", err
	}
	for _, o := range summary.Outcomes {
		if o.Action == install.ActionFailed {
			return "", o.Err
		}
	}
	return a.home.StorePath(name, version), nil
}
