package install

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jpmacdonald/apl/internal/aplhome"
	"github.com/jpmacdonald/apl/internal/hermetic"
	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/relink"
	"github.com/jpmacdonald/apl/internal/statedb"
	"github.com/jpmacdonald/apl/internal/sysroot"
	"github.com/jpmacdonald/apl/internal/template"
)

// Committed is the terminal typestate: the package now lives in the
// store, active and recorded in the state database.
type Committed struct {
	Name      string
	Version   string
	StorePath string
	BinLinks  []string
}

// packageMeta is the shape of .apl-meta.json: just enough for the shell
// sandbox (internal/sandbox) to locate binaries without parsing TOML.
type packageMeta struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Bin     []string `json:"bin"`
}

// Commit places p's extracted (or freshly built) tree at
// {store_root}/{name}/{version}, relinks every Mach-O file it contains,
// writes .apl-meta.json, activates its bin list into home's bin
// directory, and records the install in the state database.
func (p *Prepared) Commit(ctx context.Context, home *aplhome.Home, db *statedb.DB) (*Committed, error) {
	logger := log.Default().With("component", "install", "package", p.Resolved.Name)
	r := p.Resolved

	storePath := home.StorePath(string(r.Name), r.Version)
	if err := os.RemoveAll(storePath); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "removing pre-existing store directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "creating store parent directory", err)
	}

	switch r.Kind {
	case KindSource:
		if err := p.buildIntoStore(storePath, home); err != nil {
			return nil, err
		}
	default:
		if err := placeAtStore(p.ExtractedPath, storePath); err != nil {
			return nil, err
		}
	}

	if r.Kind == KindSource || hasSingleWrapperDir(storePath) {
		if err := stripWrapperDir(storePath); err != nil {
			return nil, err
		}
	}

	summary, err := relink.RelinkTree(storePath)
	if err != nil {
		return nil, err
	}
	if summary.Failed() {
		logger.Warn("some files could not be relinked", "package", r.Name)
	}

	binList := p.BinList
	if err := writeMeta(storePath, string(r.Name), r.Version, binList); err != nil {
		return nil, err
	}

	binLinks, err := activateBins(storePath, home.Bin(), binList, r.Strategy)
	if err != nil {
		return nil, err
	}

	if err := recordInstall(ctx, db, string(r.Name), r.Version, r.Hash.Hex, storePath, binLinks); err != nil {
		return nil, err
	}

	return &Committed{Name: string(r.Name), Version: r.Version, StorePath: storePath, BinLinks: binLinks}, nil
}

// buildIntoStore runs the hermetic builder with the prepared source tree
// and its build dependencies mounted, placing its $PREFIX
// output directly at storePath. BuildDeps carries only names;
// resolveBuildDepPaths finds each one's store directory, so each must
// already sit in exactly one installed version under the store.
func (p *Prepared) buildIntoStore(storePath string, home *aplhome.Home) error {
	r := p.Resolved

	deps, err := resolveBuildDepPaths(home, r.BuildDeps)
	if err != nil {
		return err
	}

	_, err = hermetic.Run(hermetic.Options{
		PackageName: string(r.Name),
		Version:     r.Version,
		SourceDir:   p.ExtractedPath,
		Script:      r.BuildScript,
		Deps:        deps,
		OutputDir:   storePath,
		Quiet:       true,
	})
	return err
}

// placeAtStore atomically renames extractedPath to storePath. Cross-volume
// placement is treated as a hard failure; Prepare already creates
// its temp directory inside storeRoot to guarantee this never triggers in
// normal operation.
func placeAtStore(extractedPath, storePath string) error {
	if err := os.Rename(extractedPath, storePath); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			return pkgerr.Wrap(pkgerr.KindIO, storePath,
				"store and temp directory must be on the same filesystem", err)
		}
		return pkgerr.Wrap(pkgerr.KindIO, storePath, "placing extracted tree into store", err)
	}
	return nil
}

// hasSingleWrapperDir reports whether root contains exactly one entry and
// it's a directory: the "tarball extracts to a single top-level folder"
// shape a strip_components heuristic targets.
func hasSingleWrapperDir(root string) bool {
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) != 1 {
		return false
	}
	return entries[0].IsDir()
}

// stripWrapperDir hoists the contents of root's single child directory up
// into root itself, then removes the now-empty wrapper.
func stripWrapperDir(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, root, "reading store directory", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	wrapper := filepath.Join(root, entries[0].Name())
	tmp := root + ".stripping"
	if err := os.Rename(wrapper, tmp); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, root, "hoisting wrapper directory", err)
	}

	children, err := os.ReadDir(tmp)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, tmp, "reading wrapper directory contents", err)
	}
	for _, child := range children {
		if err := os.Rename(filepath.Join(tmp, child.Name()), filepath.Join(root, child.Name())); err != nil {
			return pkgerr.Wrap(pkgerr.KindIO, child.Name(), "moving wrapper directory contents", err)
		}
	}
	return os.Remove(tmp)
}

func writeMeta(storePath, name, version string, bin []string) error {
	data, err := json.MarshalIndent(packageMeta{Name: name, Version: version, Bin: bin}, "", "  ")
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, name, "encoding package metadata", err)
	}
	path := filepath.Join(storePath, ".apl-meta.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, path, "writing package metadata", err)
	}
	return nil
}

// activateBins links (or, for app bundles, copies) each bin entry into
// binDir, overwriting any existing conflicting entry.
func activateBins(storePath, binDir string, bin []string, strategy template.InstallStrategy) ([]string, error) {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, binDir, "creating bin directory", err)
	}

	var linked []string
	for _, rel := range bin {
		src := filepath.Join(storePath, rel)
		dst := filepath.Join(binDir, filepath.Base(rel))
		os.Remove(dst)

		if strategy == template.StrategyApp {
			if err := sysroot.CopyTree(src, dst); err != nil {
				return nil, pkgerr.Wrap(pkgerr.KindIO, rel, "copying app bundle into bin directory", err)
			}
		} else {
			if err := os.Symlink(src, dst); err != nil {
				return nil, pkgerr.Wrap(pkgerr.KindIO, rel, "linking binary into bin directory", err)
			}
		}
		linked = append(linked, dst)
	}
	return linked, nil
}

func recordInstall(ctx context.Context, db *statedb.DB, name, version, hash, storePath string, binLinks []string) error {
	size, err := dirSize(storePath)
	if err != nil {
		size = 0
	}

	files := make([]statedb.FileRow, 0, len(binLinks))
	for _, link := range binLinks {
		files = append(files, statedb.FileRow{Path: link, Package: name, Hash: hash})
	}

	return db.InstallCompletePackage(ctx, statedb.PackageRow{
		Name:        name,
		Version:     version,
		Hash:        hash,
		SizeBytes:   size,
		Active:      true,
		InstalledAt: time.Now(),
	}, files)
}

// resolveBuildDepPaths finds each named build dependency's installed
// store directory by listing {store}/{name}/*, failing if it isn't
// installed in exactly one version.
func resolveBuildDepPaths(home *aplhome.Home, names []model.PackageName) ([]hermetic.Dependency, error) {
	var deps []hermetic.Dependency
	for _, name := range names {
		versionsDir := filepath.Join(home.Store(), string(name))
		entries, err := os.ReadDir(versionsDir)
		if err != nil || len(entries) == 0 {
			return nil, pkgerr.New(pkgerr.KindBuild, string(name), "build dependency is not installed")
		}
		if len(entries) > 1 {
			return nil, pkgerr.New(pkgerr.KindBuild, string(name), "build dependency has multiple installed versions; ambiguous")
		}
		deps = append(deps, hermetic.Dependency{
			Name: string(name),
			Path: filepath.Join(versionsDir, entries[0].Name()),
		})
	}
	return deps, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
