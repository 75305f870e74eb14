// Package install implements apl's typestate install pipeline:
// resolve.go turns a bare request into a Resolved artifact selection,
// prepare.go downloads and extracts it, commit.go places it in the store
// and activates it. This file is the top-level driver that runs many
// requests at once: Download tasks (the expensive, network-bound ones)
// run on a bounded concurrent pool, while the cheap Switch and
// AlreadyInstalled cases are processed serially on the driver goroutine,
// since neither needs its own concurrency.
package install

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jpmacdonald/apl/internal/aplhome"
	"github.com/jpmacdonald/apl/internal/caswalk"
	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/statedb"
)

// maxConcurrentDownloads bounds the Download task pool.
const maxConcurrentDownloads = 6

// Action classifies how a single request was actually carried out.
type Action string

const (
	ActionDownloaded       Action = "downloaded"
	ActionSwitched         Action = "switched"
	ActionAlreadyInstalled Action = "already_installed"
	ActionFailed           Action = "failed"
)

// Outcome records what happened to one requested package.
type Outcome struct {
	Name    string
	Version string
	Action  Action
	Err     error
}

// Summary aggregates the outcomes of a batch install.
type Summary struct {
	Outcomes  []Outcome
	Installed int // shared counter across every successful outcome
}

type task struct {
	index    int
	resolved *Resolved
	action   Action
}

// InstallAll resolves and installs every request, downloading concurrently
// where possible and returning one Outcome per request in request order.
func InstallAll(ctx context.Context, home *aplhome.Home, db *statedb.DB, idx *model.PackageIndex, client *http.Client, requests []Unresolved) (Summary, error) {
	logger := log.Default().With("component", "install")
	arch := HostArch()

	outcomes := make([]Outcome, len(requests))
	tasks := make([]task, 0, len(requests))

	for i, req := range requests {
		resolved, err := req.Resolve(idx, arch)
		if err != nil {
			outcomes[i] = Outcome{Name: string(req.Name), Action: ActionFailed, Err: err}
			continue
		}

		action, err := classify(ctx, home, db, resolved)
		if err != nil {
			outcomes[i] = Outcome{Name: string(resolved.Name), Version: resolved.Version, Action: ActionFailed, Err: err}
			continue
		}
		tasks = append(tasks, task{index: i, resolved: resolved, action: action})
	}

	var (
		counterMu sync.Mutex
		installed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	for _, t := range tasks {
		if t.action != ActionDownloaded {
			continue
		}
		t := t
		g.Go(func() error {
			outcome := downloadAndCommit(gctx, home, db, client, t.resolved, logger)
			counterMu.Lock()
			outcomes[t.index] = outcome
			if outcome.Err == nil {
				installed++
			}
			counterMu.Unlock()
			return nil // per-request failures are recorded in Outcome, not fatal to the batch
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	// Switch and AlreadyInstalled are cheap, local, and mutate the shared
	// bin directory / state DB, so they run serially on this goroutine.
	for _, t := range tasks {
		if t.action == ActionDownloaded {
			continue
		}
		outcome := processLocal(ctx, home, db, t.resolved, t.action)
		outcomes[t.index] = outcome
		if outcome.Err == nil {
			installed++
		}
	}

	return Summary{Outcomes: outcomes, Installed: installed}, nil
}

// classify decides whether a resolved request needs a full download, just
// a local activation switch, or is already exactly what's active.
func classify(ctx context.Context, home *aplhome.Home, db *statedb.DB, r *Resolved) (Action, error) {
	row, err := db.GetPackage(ctx, string(r.Name))
	if err != nil {
		var taxErr *pkgerr.Error
		if !errors.As(err, &taxErr) || taxErr.Kind != pkgerr.KindNotFound {
			return "", err
		}
	} else if row.Active && row.Version == r.Version {
		return ActionAlreadyInstalled, nil
	}

	storePath := home.StorePath(string(r.Name), r.Version)
	if _, statErr := os.Stat(storePath); statErr == nil {
		return ActionSwitched, nil
	}
	return ActionDownloaded, nil
}

func downloadAndCommit(ctx context.Context, home *aplhome.Home, db *statedb.DB, client *http.Client, r *Resolved, logger log.Logger) Outcome {
	var (
		prepared *Prepared
		err      error
	)
	if caswalkManifest(r) {
		prepared, err = r.PrepareChunked(ctx, client, home.Cache(), home.Store())
	} else {
		prepared, err = r.Prepare(ctx, client, home.Cache(), home.Store())
	}
	if err != nil {
		return Outcome{Name: string(r.Name), Version: r.Version, Action: ActionFailed, Err: err}
	}
	defer prepared.Cleanup()

	committed, err := prepared.Commit(ctx, home, db)
	if err != nil {
		return Outcome{Name: string(r.Name), Version: r.Version, Action: ActionFailed, Err: err}
	}

	db.AddHistory(ctx, statedb.HistoryEntry{
		Package: committed.Name, Action: "install", ToVersion: committed.Version, Success: true, At: time.Now(),
	})
	logger.Info("installed package", "name", committed.Name, "version", committed.Version)
	return Outcome{Name: committed.Name, Version: committed.Version, Action: ActionDownloaded}
}

func caswalkManifest(r *Resolved) bool {
	return caswalk.IsManifestURL(r.EffectiveURL())
}

// processLocal handles the serial Switch/AlreadyInstalled cases: relink
// an already-extracted store version's bins into the user's bin
// directory and mark it active, or do nothing.
func processLocal(ctx context.Context, home *aplhome.Home, db *statedb.DB, r *Resolved, action Action) Outcome {
	if action == ActionAlreadyInstalled {
		return Outcome{Name: string(r.Name), Version: r.Version, Action: ActionAlreadyInstalled}
	}

	storePath := home.StorePath(string(r.Name), r.Version)
	binList, err := readBinList(storePath)
	if err != nil {
		return Outcome{Name: string(r.Name), Version: r.Version, Action: ActionFailed, Err: err}
	}

	binLinks, err := activateBins(storePath, home.Bin(), binList, r.Strategy)
	if err != nil {
		return Outcome{Name: string(r.Name), Version: r.Version, Action: ActionFailed, Err: err}
	}

	if err := recordInstall(ctx, db, string(r.Name), r.Version, r.Hash.Hex, storePath, binLinks); err != nil {
		return Outcome{Name: string(r.Name), Version: r.Version, Action: ActionFailed, Err: err}
	}
	db.AddHistory(ctx, statedb.HistoryEntry{
		Package: string(r.Name), Action: "switch", ToVersion: r.Version, Success: true, At: time.Now(),
	})
	return Outcome{Name: string(r.Name), Version: r.Version, Action: ActionSwitched}
}

func readBinList(storePath string) ([]string, error) {
	path := storePath + "/.apl-meta.json"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, path, "reading package metadata for switch", err)
	}
	var meta packageMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, path, "parsing package metadata for switch", err)
	}
	return meta.Bin, nil
}
