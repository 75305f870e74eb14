// Package install implements the typestate install pipeline:
// Unresolved -> Resolved -> Prepared -> Committed. Each state is a plain
// value produced by the previous stage's method; there is no shared
// mutable "installer" object carrying state across stages.
package install

import (
	"os"
	"strings"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/template"
)

// ArtifactKind distinguishes a prebuilt binary artifact from a source
// artifact that must go through the hermetic builder.
type ArtifactKind int

const (
	KindBinary ArtifactKind = iota
	KindSource
)

// Unresolved is a bare install request: a name and an optional version
// requirement string ("latest" if empty).
type Unresolved struct {
	Name             model.PackageName
	RequestedVersion string
}

// Resolved is Unresolved plus everything needed to prepare the artifact:
// the chosen version, its kind, URLs, hash, and the package's build/run
// metadata carried straight from the index entry.
type Resolved struct {
	Name        model.PackageName
	Version     string
	MatchReason apiver.MatchReason
	Kind        ArtifactKind
	Strategy    template.InstallStrategy

	UpstreamURL string
	MirrorURL   string // "" when no mirror applies
	Hash        model.ContentHash

	RuntimeDeps      []model.PackageName
	BuildDeps        []model.PackageName
	BuildScript      string
	BinList          []string
	PostInstallHints string
	AppBundleName    string
}

// EffectiveURL returns the mirror URL when one is configured, else the
// upstream URL.
func (r *Resolved) EffectiveURL() string {
	if r.MirrorURL != "" {
		return r.MirrorURL
	}
	return r.UpstreamURL
}

// HasFallback reports whether a distinct upstream URL exists to retry
// against if the mirror 404s.
func (r *Resolved) HasFallback() bool {
	return r.MirrorURL != "" && r.MirrorURL != r.UpstreamURL
}

// isLocalTemplatePath reports whether name looks like a path to a
// package template TOML file rather than an index lookup key.
func isLocalTemplatePath(name string) bool {
	if !strings.HasSuffix(name, ".toml") {
		return false
	}
	_, err := os.Stat(name)
	return err == nil
}

// Resolve turns an Unresolved request into a Resolved artifact
// selection. If u.Name looks like a local template path, it is parsed
// directly (for installing a package not yet in the index); otherwise
// the index is consulted for the named package.
func (u Unresolved) Resolve(idx *model.PackageIndex, arch model.Arch) (*Resolved, error) {
	if isLocalTemplatePath(string(u.Name)) {
		return resolveLocalTemplate(string(u.Name))
	}
	return resolveFromIndex(u.Name, u.RequestedVersion, idx, arch)
}

func resolveFromIndex(name model.PackageName, requestedVersion string, idx *model.PackageIndex, arch model.Arch) (*Resolved, error) {
	entry, ok := idx.FindPackage(name)
	if !ok {
		return nil, pkgerr.NotFound(string(name))
	}

	releases := make([]string, len(entry.Releases))
	for i, r := range entry.Releases {
		releases[i] = r.Version
	}

	req := requestedVersion
	if req == "" {
		req = "latest"
	}

	match, ok := apiver.FindBestMatch(releases, req)
	if !ok {
		return nil, pkgerr.New(pkgerr.KindVersionMismatch, string(name), "no release satisfies "+req)
	}

	version, ok := entry.FindVersion(match.Version)
	if !ok {
		return nil, pkgerr.NotFound(string(name) + "@" + match.Version)
	}

	resolved := &Resolved{
		Name:             name,
		Version:          match.Version,
		MatchReason:      match.Reason,
		RuntimeDeps:      version.RuntimeDeps,
		BuildDeps:        version.BuildDeps,
		BuildScript:      version.BuildScript,
		BinList:          version.BinList,
		PostInstallHints: version.PostInstallHints,
		AppBundleName:    version.AppBundleName,
	}

	if artifact, ok := selectBinaryArtifact(version.Binaries, arch); ok {
		resolved.Kind = KindBinary
		resolved.Strategy = template.StrategyLink
		resolved.UpstreamURL = artifact.URL
		resolved.Hash = artifact.Hash
	} else if version.Source != nil {
		resolved.Kind = KindSource
		resolved.Strategy = template.StrategyScript
		resolved.UpstreamURL = version.Source.URL
		resolved.Hash = version.Source.Hash
	} else {
		return nil, pkgerr.New(pkgerr.KindValidation, string(name), "no compatible artifact for "+string(arch))
	}

	if resolved.AppBundleName != "" {
		resolved.Strategy = template.StrategyApp
	}

	if mirror, ok := idx.MirrorURL(resolved.Hash); ok {
		resolved.MirrorURL = mirror
	}

	return resolved, nil
}

// selectBinaryArtifact picks the artifact matching host, preferring an
// exact arch match over the universal/fat slice that also matches it.
func selectBinaryArtifact(binaries map[model.Arch]model.Artifact, host model.Arch) (model.Artifact, bool) {
	if a, ok := binaries[host]; ok {
		return a, true
	}
	for arch, a := range binaries {
		if arch.Matches(host) {
			return a, true
		}
	}
	return model.Artifact{}, false
}

// resolveLocalTemplate parses a package template TOML file directly,
// for installing a package that hasn't been published to the index
// yet. It does not fetch live release data: the template must carry a
// [source] table with a pinned URL and sha256.
func resolveLocalTemplate(path string) (*Resolved, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, path, "reading local package template", err)
	}
	tmpl, err := template.Load(path, data)
	if err != nil {
		return nil, err
	}
	if tmpl.Source == nil {
		return nil, pkgerr.New(pkgerr.KindValidation, path,
			"local template install requires a [source] table with a pinned URL; use the forge registry to resolve live releases first")
	}

	hash, err := model.ParseSHA256ContentHash(tmpl.Source.SHA256)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, path, "local template source hash", err)
	}

	strategy := tmpl.Install.Strategy
	if strategy == "" {
		strategy = template.StrategyScript
	}

	var buildDeps []model.PackageName
	if tmpl.Build != nil {
		for _, d := range tmpl.Build.Dependencies {
			buildDeps = append(buildDeps, model.NewPackageName(d))
		}
	}
	var runtimeDeps []model.PackageName
	for _, d := range tmpl.Dependencies.Runtime {
		runtimeDeps = append(runtimeDeps, model.NewPackageName(d))
	}

	buildScript := ""
	if tmpl.Build != nil {
		buildScript = tmpl.Build.Script
	}

	return &Resolved{
		Name:             model.NewPackageName(tmpl.Package.Name),
		Version:          "local",
		MatchReason:      apiver.MatchExact,
		Kind:             KindSource,
		Strategy:         strategy,
		UpstreamURL:      tmpl.Source.URL,
		Hash:             hash,
		RuntimeDeps:      runtimeDeps,
		BuildDeps:        buildDeps,
		BuildScript:      buildScript,
		BinList:          tmpl.Install.Bin,
		PostInstallHints: tmpl.Hints.PostInstall,
	}, nil
}
