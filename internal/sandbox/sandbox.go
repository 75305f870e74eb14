// Package sandbox implements apl's ephemeral project shell: resolve a
// project's manifest against its lockfile, make sure every locked package
// sits in the store, mount them into a throwaway sysroot, and spawn a
// shell or command with PATH and a few APL_* variables set.
//
// Manifest discovery walks up from the cwd looking for apl.toml; resolution
// has frozen/update/default branches, and PATH construction falls back to
// a heuristic bin layout when no metadata file is present.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jpmacdonald/apl/internal/aplhome"
	"github.com/jpmacdonald/apl/internal/lockfile"
	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/sysroot"
)

const manifestFilename = "apl.toml"
const lockfileFilename = "apl.lock"
const metaFilename = ".apl-meta.json"

// Installer ensures a resolved (name, version) pair exists in the local
// store without linking it globally, the install engine's store-only
// path. Sandbox depends on this narrow interface rather than
// internal/install directly so it can be tested without a real
// download/verify pipeline.
type Installer interface {
	EnsureInStore(ctx context.Context, name, version string) (storeDir string, err error)
}

// Options configures one shell invocation.
type Options struct {
	Frozen  bool
	Update  bool
	Command []string // empty means spawn the interactive shell
}

// FindManifest walks up from start looking for apl.toml, returning its
// path and containing directory.
func FindManifest(start string) (path, rootDir string, found bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, manifestFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", false
		}
		dir = parent
	}
}

// Resolve loads the manifest and lockfile at rootDir and returns the
// lockfile Shell should use, re-resolving against idx when required by
// opts. It never runs the installer; callers run EnsureInstalled
// separately so the resolution decision stays testable in isolation.
func Resolve(rootDir string, idx *model.PackageIndex, opts Options, now time.Time) (*lockfile.Manifest, *lockfile.Lockfile, error) {
	manifestPath := filepath.Join(rootDir, manifestFilename)
	manifest, err := lockfile.LoadManifest(manifestPath)
	if err != nil {
		return nil, nil, err
	}

	lockPath := filepath.Join(rootDir, lockfileFilename)
	existing, err := lockfile.LoadLockfile(lockPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
		existing = lockfile.New(now)
	}

	if opts.Frozen && opts.Update {
		return nil, nil, pkgerr.New(pkgerr.KindValidation, rootDir, "--frozen and --update cannot both be set")
	}

	synced := lockfile.IsSynced(manifest, existing)

	switch {
	case opts.Frozen:
		if !synced {
			return nil, nil, pkgerr.New(pkgerr.KindValidation, rootDir,
				"--frozen: lockfile is missing or out of sync; run apl shell without --frozen to update it")
		}
		return manifest, existing, nil
	case !opts.Update && synced:
		return manifest, existing, nil
	default:
		resolved, err := lockfile.ResolveProject(manifest, idx, existing, now)
		if err != nil {
			return nil, nil, err
		}
		if err := resolved.Save(lockPath); err != nil {
			return nil, nil, err
		}
		return manifest, resolved, nil
	}
}

// EnsureInstalled installs every locked package into the store that
// isn't already present, via installer.
func EnsureInstalled(ctx context.Context, home *aplhome.Home, lock *lockfile.Lockfile, installer Installer) error {
	for _, pkg := range lock.Packages {
		storeDir := home.StorePath(pkg.Name, pkg.Version)
		if _, err := os.Stat(storeDir); err == nil {
			continue
		}
		if _, err := installer.EnsureInStore(ctx, pkg.Name, pkg.Version); err != nil {
			return err
		}
	}
	return nil
}

// meta mirrors the subset of .apl-meta.json sandbox cares about: the
// list of bin paths relative to the package's store directory.
type meta struct {
	Bin []string `json:"bin"`
}

// binDirFor returns the directory new_path should prepend for a mounted
// package: the parent of its first declared bin entry from
// .apl-meta.json when present, else bin/ if it exists, else the package
// root itself.
func binDirFor(storeDir string) string {
	data, err := os.ReadFile(filepath.Join(storeDir, metaFilename))
	if err == nil {
		var m meta
		if json.Unmarshal(data, &m) == nil && len(m.Bin) > 0 {
			if dir := filepath.Dir(m.Bin[0]); dir != "" && dir != "." {
				return filepath.Join(storeDir, dir)
			}
		}
	}

	heuristic := filepath.Join(storeDir, "bin")
	if info, err := os.Stat(heuristic); err == nil && info.IsDir() {
		return heuristic
	}
	return storeDir
}

// Shell mounts every locked package into an ephemeral sysroot and spawns
// opts.Command (or the user's $SHELL, interactively) with PATH prepended
// by each package's bin directory. The sysroot is removed on return,
// including on SIGINT/SIGTERM delivered to this process while the child
// runs.
func Shell(home *aplhome.Home, rootDir string, lock *lockfile.Lockfile, opts Options) error {
	logger := log.Default().With("component", "sandbox")

	root, err := sysroot.New()
	if err != nil {
		return err
	}
	defer root.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			root.Close()
		case <-done:
		}
	}()
	defer signal.Stop(sigCh)

	var binDirs []string
	for _, pkg := range lock.Packages {
		storeDir := home.StorePath(pkg.Name, pkg.Version)
		rel := filepath.Join("store", pkg.Name, pkg.Version)
		if err := root.Mount(storeDir, rel); err != nil {
			return pkgerr.Wrap(pkgerr.KindIO, pkg.Name, "mounting package into ephemeral sysroot", err)
		}
		binDirs = append(binDirs, binDirFor(root.Path(rel)))
	}

	projectName := filepath.Base(rootDir)
	if projectName == "." || projectName == string(filepath.Separator) {
		projectName = "apl"
	}

	env := os.Environ()
	env = append(env,
		"PATH="+joinPath(binDirs),
		"APL_PROJECT_ROOT="+rootDir,
		"APL_PS1_PREFIX=(apl:"+projectName+") ",
		"APL_SYSROOT="+root.Root(),
	)

	var cmd *exec.Cmd
	if len(opts.Command) > 0 {
		cmd = exec.Command(opts.Command[0], opts.Command[1:]...)
	} else {
		shellBin := os.Getenv("SHELL")
		if shellBin == "" {
			shellBin = "/bin/zsh"
		}
		cmd = exec.Command(shellBin)
	}
	cmd.Env = env
	cmd.Dir = rootDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Info("entering apl shell environment", "project", projectName)
	runErr := cmd.Run()
	logger.Info("exited apl shell")
	return runErr
}

func joinPath(binDirs []string) string {
	all := append(append([]string{}, binDirs...), filepath.SplitList(os.Getenv("PATH"))...)
	return strings.Join(all, string(os.PathListSeparator))
}
