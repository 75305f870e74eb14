package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jpmacdonald/apl/internal/archive"
	"github.com/jpmacdonald/apl/internal/cas"
	"github.com/jpmacdonald/apl/internal/discover/forge"
	"github.com/jpmacdonald/apl/internal/hashcache"
	"github.com/jpmacdonald/apl/internal/hermetic"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/template"
)

// archAssetHints names the substrings release filenames conventionally
// carry for a concrete Arch, used by assets.select entries with auto=true.
var archAssetHints = map[model.Arch][]string{
	model.ArchARM64Darwin:  {"arm64", "aarch64"},
	model.ArchX86_64Darwin: {"amd64", "x86_64", "x64"},
	model.ArchUniversal:    {"universal", "macos-all", "fat"},
}

// hydrator carries the state a template's per-version hydration needs
// beyond the (template, release) pair itself: an HTTP client, the CAS
// store (nil when disabled), the hash cache, the host arch being indexed
// for, a scratch directory for source builds, and the in-progress index so
// a build can find its own build dependencies' already-hydrated binaries —
// build-plan layering guarantees those exist first.
type hydrator struct {
	client        *http.Client
	store         *cas.Store
	cache         *hashcache.Cache
	hostArch      model.Arch
	buildCacheDir string
	inProgress    map[string]*model.IndexEntry
}

// hydrateVersion dispatches three ways: reuse binaries already indexed
// for this exact version, else build from source if the template has a
// [build] spec, else select+hash a release asset per configured arch key.
func (h *hydrator) hydrateVersion(ctx context.Context, tmpl *template.PackageTemplate, rel forge.Release, previous *model.VersionInfo) (*model.VersionInfo, error) {
	info := &model.VersionInfo{
		Version:          rel.Version,
		Binaries:         map[model.Arch]model.Artifact{},
		RuntimeDeps:      packageNames(tmpl.Dependencies.Runtime),
		BuildDeps:        packageNames(tmpl.Dependencies.Build),
		BinList:          tmpl.Install.Bin,
		PostInstallHints: tmpl.Hints.PostInstall,
		AppBundleName:    tmpl.Install.App,
	}
	if tmpl.Build != nil {
		info.BuildScript = tmpl.Build.Script
	}

	if previous != nil && len(previous.Binaries) > 0 {
		for arch, artifact := range previous.Binaries {
			info.Binaries[arch] = artifact
		}
		info.Source = previous.Source
		return info, nil
	}

	if tmpl.Build != nil {
		binary, source, err := h.buildFromSource(ctx, tmpl, rel)
		if err != nil {
			return nil, err
		}
		info.Binaries[h.hostArch] = binary
		info.Source = source
		return info, nil
	}

	for archKey, selector := range tmpl.Assets.Select {
		arch := model.Arch(archKey)
		asset, ok := selectAsset(selector, arch, rel.Assets)
		if !ok {
			continue
		}
		artifact, err := h.resolveAssetArtifact(ctx, tmpl, rel, arch, asset)
		if err != nil {
			return nil, err
		}
		info.Binaries[arch] = artifact
	}

	if len(info.Binaries) == 0 {
		return nil, pkgerr.New(pkgerr.KindValidation, tmpl.Package.Name,
			"no binaries resolved for this release and no [build] spec to fall back on")
	}
	return info, nil
}

// selectAsset applies one assets.select entry against a release's assets:
// suffix match when given, else a best-effort guess from archAssetHints
// when auto is set.
func selectAsset(selector template.AssetSelector, arch model.Arch, assets []forge.Asset) (forge.Asset, bool) {
	if selector.Suffix != "" {
		for _, a := range assets {
			if strings.HasSuffix(a.Name, selector.Suffix) {
				return a, true
			}
		}
		return forge.Asset{}, false
	}
	if selector.Auto {
		for _, hint := range archAssetHints[arch] {
			for _, a := range assets {
				if strings.Contains(strings.ToLower(a.Name), hint) {
					return a, true
				}
			}
		}
	}
	return forge.Asset{}, false
}

// resolveAssetArtifact resolves asset's hash and, when the CAS store is
// enabled and asset isn't already hosted there, mirrors it.
func (h *hydrator) resolveAssetArtifact(ctx context.Context, tmpl *template.PackageTemplate, rel forge.Release, arch model.Arch, asset forge.Asset) (model.Artifact, error) {
	hash, err := resolveHash(ctx, h.client, h.cache, tmpl.Assets, rel, asset)
	if err != nil {
		return model.Artifact{}, err
	}
	contentHash, err := model.ParseSHA256ContentHash(hash)
	if err != nil {
		return model.Artifact{}, pkgerr.Wrap(pkgerr.KindIntegrity, asset.URL, "asset hash", err)
	}

	url := asset.URL
	if h.store != nil {
		if mirrored, ok := h.mirrorAsset(ctx, asset.URL, contentHash); ok {
			url = mirrored
		}
	}

	return model.Artifact{
		Name:    model.NewPackageName(tmpl.Package.Name),
		Version: rel.Version,
		Arch:    arch,
		URL:     url,
		Hash:    contentHash,
	}, nil
}

// mirrorAsset copies asset bytes into the CAS unless they're already
// served from the store's own public host.
func (h *hydrator) mirrorAsset(ctx context.Context, url string, hash model.ContentHash) (string, bool) {
	publicURL := h.store.PublicURL(hash)
	if publicURL == "" || strings.HasPrefix(url, publicURL) {
		return "", false
	}
	if exists, err := h.store.Exists(ctx, hash); err == nil && exists {
		return publicURL, true
	}

	data, err := fetchAll(ctx, h.client, url)
	if err != nil {
		return "", false
	}
	if _, err := h.store.Upload(ctx, hash, data); err != nil {
		return "", false
	}
	return publicURL, true
}

// buildFromSource runs hermetic source hydration for a [build]-bearing
// template: fetch the source tarball, extract and strip its wrapper
// directory, materialize its build dependencies from the in-progress
// index, run the hermetic build, then package and publish the result to
// the CAS. It also returns a Source artifact pointing at the raw tarball,
// for clients on an arch this producer didn't build for.
func (h *hydrator) buildFromSource(ctx context.Context, tmpl *template.PackageTemplate, rel forge.Release) (model.Artifact, *model.Artifact, error) {
	if h.store == nil {
		return model.Artifact{}, nil, pkgerr.New(pkgerr.KindValidation, tmpl.Package.Name,
			"building from source requires a configured artifact store to publish the result")
	}

	sourceURL, err := sourceArchiveURL(tmpl, rel)
	if err != nil {
		return model.Artifact{}, nil, err
	}
	data, err := fetchAll(ctx, h.client, sourceURL)
	if err != nil {
		return model.Artifact{}, nil, err
	}

	sourceSum := sha256.Sum256(data)
	sourceHash, err := model.ParseSHA256ContentHash(hex.EncodeToString(sourceSum[:]))
	if err != nil {
		return model.Artifact{}, nil, pkgerr.Wrap(pkgerr.KindIntegrity, sourceURL, "source artifact hash", err)
	}
	source := &model.Artifact{
		Name:    model.NewPackageName(tmpl.Package.Name),
		Version: rel.Version,
		Arch:    model.ArchSource,
		URL:     sourceURL,
		Hash:    sourceHash,
	}

	srcDir, err := os.MkdirTemp(h.buildCacheDir, ".apl-index-src-*")
	if err != nil {
		return model.Artifact{}, nil, pkgerr.Wrap(pkgerr.KindIO, tmpl.Package.Name, "creating source staging directory", err)
	}
	defer os.RemoveAll(srcDir)
	if err := extractArchive(data, sourceURL, srcDir); err != nil {
		return model.Artifact{}, nil, err
	}
	if hasSingleWrapperDir(srcDir) {
		if err := stripWrapperDir(srcDir); err != nil {
			return model.Artifact{}, nil, err
		}
	}

	deps, err := h.materializeBuildDeps(ctx, tmpl.Dependencies.Build)
	if err != nil {
		return model.Artifact{}, nil, err
	}

	outputDir, err := os.MkdirTemp(h.buildCacheDir, ".apl-index-out-*")
	if err != nil {
		return model.Artifact{}, nil, pkgerr.Wrap(pkgerr.KindIO, tmpl.Package.Name, "creating build output directory", err)
	}
	defer os.RemoveAll(outputDir)

	result, err := hermetic.Run(hermetic.Options{
		PackageName: tmpl.Package.Name,
		Version:     rel.Version,
		SourceDir:   srcDir,
		Script:      tmpl.Build.Script,
		Deps:        deps,
		OutputDir:   outputDir,
		Quiet:       true,
	})
	if err != nil {
		return model.Artifact{}, nil, err
	}

	var buf bytes.Buffer
	if err := archive.CreateTarGz(result.OutputDir, &buf); err != nil {
		return model.Artifact{}, nil, err
	}
	binSum := sha256.Sum256(buf.Bytes())
	binHash, err := model.ParseSHA256ContentHash(hex.EncodeToString(binSum[:]))
	if err != nil {
		return model.Artifact{}, nil, pkgerr.Wrap(pkgerr.KindIntegrity, tmpl.Package.Name, "build artifact hash", err)
	}

	url, err := h.store.Upload(ctx, binHash, buf.Bytes())
	if err != nil {
		return model.Artifact{}, nil, pkgerr.Wrap(pkgerr.KindIO, tmpl.Package.Name, "uploading build artifact to the CAS", err)
	}

	return model.Artifact{
		Name:    model.NewPackageName(tmpl.Package.Name),
		Version: rel.Version,
		Arch:    h.hostArch,
		URL:     url,
		Hash:    binHash,
	}, source, nil
}

// sourceArchiveURL picks the tarball URL to build from: a template's own
// [source].url, expanded against the release version, or (the common
// case for GitHub-discovered templates) GitHub's tag-archive URL.
func sourceArchiveURL(tmpl *template.PackageTemplate, rel forge.Release) (string, error) {
	if tmpl.Source != nil && tmpl.Source.URL != "" {
		return template.ExpandVersion(tmpl.Source.URL, rel.Version), nil
	}
	if tmpl.Discovery.GitHub != "" {
		return fmt.Sprintf("https://github.com/%s/archive/refs/tags/%s.tar.gz", tmpl.Discovery.GitHub, rel.Tag), nil
	}
	return "", pkgerr.New(pkgerr.KindValidation, tmpl.Package.Name,
		"no source URL: template needs either [source].url or github discovery to build from")
}

// materializeBuildDeps resolves each named build dependency to the binary
// the in-progress index already hydrated for it (guaranteed present by
// build-plan layering) and stages it on disk for the hermetic build to
// mount.
func (h *hydrator) materializeBuildDeps(ctx context.Context, names []string) ([]hermetic.Dependency, error) {
	if len(names) == 0 {
		return nil, nil
	}
	deps := make([]hermetic.Dependency, 0, len(names))
	for _, name := range names {
		entry, ok := h.inProgress[strings.ToLower(name)]
		if !ok {
			return nil, pkgerr.New(pkgerr.KindBuild, name, "build dependency not yet indexed; check build plan layering")
		}
		version, ok := entry.LatestVersion()
		if !ok {
			return nil, pkgerr.New(pkgerr.KindBuild, name, "build dependency has no indexed release")
		}
		artifact, ok := version.Binaries[h.hostArch]
		if !ok {
			return nil, pkgerr.New(pkgerr.KindBuild, name, fmt.Sprintf("build dependency has no binary for %s", h.hostArch))
		}

		path, err := h.materializeDepArtifact(ctx, name, artifact)
		if err != nil {
			return nil, err
		}
		deps = append(deps, hermetic.Dependency{Name: name, Path: path})
	}
	return deps, nil
}

func (h *hydrator) materializeDepArtifact(ctx context.Context, name string, artifact model.Artifact) (string, error) {
	depDir := filepath.Join(h.buildCacheDir, "deps", name+"-"+artifact.Version)
	if _, err := os.Stat(depDir); err == nil {
		return depDir, nil
	}

	data, err := fetchAll(ctx, h.client, artifact.URL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(depDir, 0o755); err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, name, "creating dependency staging directory", err)
	}
	if err := extractArchive(data, artifact.URL, depDir); err != nil {
		return "", err
	}
	return depDir, nil
}

func extractArchive(data []byte, url, destDir string) error {
	format := archive.DetectFormat(url)
	if format == archive.FormatBinary {
		format = archive.FormatTarGz
	}
	if format == archive.FormatZip {
		tmp, err := os.CreateTemp("", "apl-index-zip-*")
		if err != nil {
			return pkgerr.Wrap(pkgerr.KindIO, url, "staging zip for extraction", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return pkgerr.Wrap(pkgerr.KindIO, url, "writing staged zip", err)
		}
		tmp.Close()
		return archive.ExtractZip(tmp.Name(), destDir)
	}
	tr, err := archive.NewTarReader(bytes.NewReader(data), format)
	if err != nil {
		return err
	}
	return archive.ExtractTar(tr, destDir)
}

// hasSingleWrapperDir and stripWrapperDir mirror internal/install/commit.go's
// heuristic for the same shape: a tarball that unpacks into a single
// top-level directory (GitHub's archive/refs/tags form always does).
func hasSingleWrapperDir(root string) bool {
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) != 1 {
		return false
	}
	return entries[0].IsDir()
}

func stripWrapperDir(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, root, "reading staging directory", err)
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

func packageNames(names []string) []model.PackageName {
	if len(names) == 0 {
		return nil
	}
	out := make([]model.PackageName, len(names))
	for i, n := range names {
		out[i] = model.NewPackageName(n)
	}
	return out
}

func fetchAll(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, url, "building request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, url, "fetching", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, url, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<30))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, url, "reading response body", err)
	}
	return data, nil
}
