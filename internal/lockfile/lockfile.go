// Package lockfile implements the project manifest and lockfile pair: a
// Manifest names direct dependencies by requirement string, and a
// Lockfile pins each to an exact resolved version, URL, and hash so
// installs are reproducible. TOML-encoded, sorted by name, with per-entry
// timestamps preserved across re-resolves of an unchanged (name, version)
// pair.
package lockfile

import (
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// Manifest is a project's declared dependency set.
type Manifest struct {
	Name         string            `toml:"name"`
	Dependencies map[string]string `toml:"dependencies"` // name -> requirement string
}

// LockedPackage pins one resolved dependency.
type LockedPackage struct {
	Name      string    `toml:"name"`
	Version   string    `toml:"version"`
	URL       string    `toml:"url"`
	Hash      string    `toml:"hash"`
	Timestamp time.Time `toml:"timestamp"`
}

// Lockfile is the resolved, reproducible dependency set for a Manifest.
type Lockfile struct {
	Version     int             `toml:"version"`
	GeneratedAt time.Time       `toml:"generated_at"`
	Packages    []LockedPackage `toml:"packages"`
}

const currentLockfileVersion = 1

// New returns an empty lockfile stamped with the current time.
func New(now time.Time) *Lockfile {
	return &Lockfile{Version: currentLockfileVersion, GeneratedAt: now}
}

// Find returns the locked entry for name, if present.
func (l *Lockfile) Find(name string) (*LockedPackage, bool) {
	for i := range l.Packages {
		if l.Packages[i].Name == name {
			return &l.Packages[i], true
		}
	}
	return nil, false
}

// LoadManifest parses a project manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, path, "reading manifest", err)
	}
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, path, "parsing manifest", err)
	}
	return &m, nil
}

// LoadLockfile parses a lockfile from path.
func LoadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, path, "reading lockfile", err)
	}
	var l Lockfile
	if _, err := toml.Decode(string(data), &l); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, path, "parsing lockfile", err)
	}
	return &l, nil
}

// Save writes the lockfile to path as TOML.
func (l *Lockfile) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, path, "creating lockfile", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(l); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, path, "encoding lockfile", err)
	}
	return nil
}

// ResolveProject recursively resolves every direct dependency in
// manifest (and their transitive runtime dependencies, via idx) into a
// new Lockfile. existing, if non-nil, supplies timestamps to preserve
// for (name, version) pairs that come out unchanged, so only packages
// that actually moved get a new per-entry timestamp. The lockfile's own
// generated_at is always set to now.
func ResolveProject(manifest *Manifest, idx *model.PackageIndex, existing *Lockfile, now time.Time) (*Lockfile, error) {
	resolved := make(map[string]LockedPackage)

	names := make([]string, 0, len(manifest.Dependencies))
	for name := range manifest.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := resolveOne(model.NewPackageName(name), manifest.Dependencies[name], idx, resolved, now); err != nil {
			return nil, err
		}
	}

	packages := make([]LockedPackage, 0, len(resolved))
	for _, pkg := range resolved {
		packages = append(packages, pkg)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Name < packages[j].Name })

	out := &Lockfile{Version: currentLockfileVersion, GeneratedAt: now, Packages: packages}

	if existing != nil {
		for i := range out.Packages {
			if prior, ok := existing.Find(out.Packages[i].Name); ok && prior.Version == out.Packages[i].Version {
				out.Packages[i].Timestamp = prior.Timestamp
			}
		}
	}

	return out, nil
}

// resolveOne resolves name against requirement, recording it in resolved
// and recursing into its runtime dependencies. Already-resolved packages
// are not re-resolved, which both dedupes and breaks cycles.
func resolveOne(name model.PackageName, requirement string, idx *model.PackageIndex, resolved map[string]LockedPackage, now time.Time) error {
	if _, done := resolved[string(name)]; done {
		return nil
	}

	entry, ok := idx.FindPackage(name)
	if !ok {
		return pkgerr.NotFound(string(name))
	}

	releases := make([]string, len(entry.Releases))
	for i, r := range entry.Releases {
		releases[i] = r.Version
	}

	match, ok := apiver.FindBestMatch(releases, requirement)
	if !ok {
		return pkgerr.New(pkgerr.KindVersionMismatch, string(name), "no release satisfies requirement "+requirement)
	}

	version, ok := entry.FindVersion(match.Version)
	if !ok {
		return pkgerr.NotFound(string(name) + "@" + match.Version)
	}

	artifact := version.Source
	if len(version.Binaries) > 0 {
		for _, a := range version.Binaries {
			artifact = &a
			break
		}
	}
	if artifact == nil {
		return pkgerr.New(pkgerr.KindValidation, string(name), "version has no installable artifact")
	}

	resolved[string(name)] = LockedPackage{
		Name:      string(name),
		Version:   match.Version,
		URL:       artifact.URL,
		Hash:      artifact.Hash.String(),
		Timestamp: now,
	}

	for _, dep := range version.RuntimeDeps {
		if err := resolveOne(dep, "latest", idx, resolved, now); err != nil {
			return err
		}
	}
	return nil
}

// IsSynced reports whether every manifest dependency has a lockfile
// entry whose version still satisfies the manifest's requirement.
func IsSynced(manifest *Manifest, lock *Lockfile) bool {
	for name, requirement := range manifest.Dependencies {
		entry, ok := lock.Find(name)
		if !ok {
			return false
		}
		if !apiver.VersionSatisfiesRequirement(entry.Version, requirement) {
			return false
		}
	}
	return true
}
