// Package index implements apl's index producer: walk the registry tree,
// classify and delta-check each template against an upstream source,
// hydrate per-version binaries layer-by-layer so build dependencies are
// indexed before their dependents, then prune, encode, sign, and persist
// the result alongside a latest.json bootstrap manifest.
package index

import (
	"context"
	"io/fs"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jpmacdonald/apl/internal/cas"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/discover/forge"
	"github.com/jpmacdonald/apl/internal/hashcache"
	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/template"
)

// currentSchemaVersion is model.PackageIndex.SchemaVersion for every index
// this producer writes: a monotonically increasing integer, bumped when a
// loader needs to refuse an incompatible index rather than misread it.
const currentSchemaVersion = 1

// Options configures one index production run.
type Options struct {
	RegistryFS   fs.FS
	RegistryRoot string
	PortsFS      fs.FS
	PortsRoot    string

	Previous *model.PackageIndex // nil on a first run or --force-full

	Client        *http.Client
	Store         *cas.Store // may be disabled; nil only in tests that skip source builds
	Cache         *hashcache.Cache
	GitHubToken   string
	HostArch      model.Arch
	MirrorBaseURL string
	BuildCacheDir string

	ForceFull     bool
	PackageFilter []string // empty means no restriction
}

// Result is one completed production run.
type Result struct {
	Index  *model.PackageIndex
	Dirty  []string // template names that were rebuilt this run
	Pruned []string // package names dropped because their template vanished
}

// Produce runs the full index-production pipeline and returns the
// finished, unsigned index; persisting it is Persist's job.
func Produce(ctx context.Context, opts Options) (*Result, error) {
	logger := log.Default().With("component", "index")

	templates, err := template.Walk(opts.RegistryFS, opts.RegistryRoot)
	if err != nil {
		return nil, err
	}
	if len(opts.PackageFilter) > 0 {
		templates = filterTemplates(templates, opts.PackageFilter)
	}

	ports, err := walkPorts(opts.PortsFS, opts.PortsRoot)
	if err != nil {
		return nil, err
	}

	previousByName := indexByName(opts.Previous)

	reg := forge.NewRegistry()
	delta := newDeltaClient(opts.Client, opts.GitHubToken)
	dirty, err := markDirty(ctx, delta, opts.ForceFull, templates, previousByName)
	if err != nil {
		return nil, err
	}

	releases, err := fetchReleases(ctx, reg, ports, templates, dirty)
	if err != nil {
		return nil, err
	}

	layers, err := buildLayers(templates)
	if err != nil {
		return nil, err
	}

	h := &hydrator{
		client:        opts.Client,
		store:         opts.Store,
		cache:         opts.Cache,
		hostArch:      opts.HostArch,
		buildCacheDir: opts.BuildCacheDir,
		inProgress:    map[string]*model.IndexEntry{},
	}
	for name, entry := range previousByName {
		if !dirty[name] {
			h.inProgress[name] = entry
		}
	}

	templatesPerLayer, versionsPerTemplate, recentVersions := config.GetHydrateConcurrency()

	var dirtyNames []string
	var entries []model.IndexEntry
	for _, layer := range layers {
		built, err := hydrateLayer(ctx, h, layer, releases, previousByName, dirty, templatesPerLayer, versionsPerTemplate, recentVersions, logger)
		if err != nil {
			return nil, err
		}
		for _, entry := range built {
			key := strings.ToLower(string(entry.Name))
			h.inProgress[key] = entry
			entries = append(entries, *entry)
			if dirty[key] {
				dirtyNames = append(dirtyNames, key)
			}
		}
	}

	seen := make(map[string]bool, len(templates))
	for _, t := range templates {
		seen[strings.ToLower(t.Package.Name)] = true
	}

	var pruned []string
	if len(opts.PackageFilter) > 0 {
		filterSet := make(map[string]bool, len(opts.PackageFilter))
		for _, name := range opts.PackageFilter {
			filterSet[strings.ToLower(name)] = true
		}
		for name, entry := range previousByName {
			if !filterSet[name] {
				entries = append(entries, *entry)
			}
		}
	} else {
		for name := range previousByName {
			if !seen[name] {
				pruned = append(pruned, name)
			}
		}
	}

	idx := &model.PackageIndex{
		SchemaVersion: currentSchemaVersion,
		MirrorBaseURL: opts.MirrorBaseURL,
		Packages:      entries,
	}
	return &Result{Index: idx, Dirty: dirtyNames, Pruned: pruned}, nil
}

func filterTemplates(templates []*template.PackageTemplate, filter []string) []*template.PackageTemplate {
	want := make(map[string]bool, len(filter))
	for _, name := range filter {
		want[strings.ToLower(name)] = true
	}
	out := make([]*template.PackageTemplate, 0, len(templates))
	for _, t := range templates {
		if want[strings.ToLower(t.Package.Name)] {
			out = append(out, t)
		}
	}
	return out
}

// walkPorts discovers every *.toml file under root in fsys and parses it
// as a PortManifest, keyed by manifest name, for templates using the
// "ports" discovery strategy.
func walkPorts(fsys fs.FS, root string) (map[string]*template.PortManifest, error) {
	if fsys == nil {
		return map[string]*template.PortManifest{}, nil
	}
	out := map[string]*template.PortManifest{}
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".toml") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		manifest, err := template.LoadPortManifest(path, data)
		if err != nil {
			return err
		}
		out[manifest.Name] = manifest
		return nil
	})
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, root, "walking ports tree", err)
	}
	return out, nil
}

func indexByName(idx *model.PackageIndex) map[string]*model.IndexEntry {
	out := map[string]*model.IndexEntry{}
	if idx == nil {
		return out
	}
	for i := range idx.Packages {
		out[strings.ToLower(string(idx.Packages[i].Name))] = &idx.Packages[i]
	}
	return out
}

// markDirty runs a batched GraphQL delta check for GitHub-sourced
// templates against the previous index; everything else (ports, manual,
// no previous index) is always dirty.
func markDirty(ctx context.Context, delta *deltaClient, forceFull bool, templates []*template.PackageTemplate, previous map[string]*model.IndexEntry) (map[string]bool, error) {
	dirty := make(map[string]bool, len(templates))
	if forceFull {
		for _, t := range templates {
			dirty[strings.ToLower(t.Package.Name)] = true
		}
		return dirty, nil
	}

	var refs []string
	refToTemplates := map[string][]string{}
	for _, t := range templates {
		name := strings.ToLower(t.Package.Name)
		if !isGitHubSourced(t) {
			dirty[name] = true
			continue
		}
		ref := t.Discovery.GitHub
		if _, ok := refToTemplates[ref]; !ok {
			refs = append(refs, ref)
		}
		refToTemplates[ref] = append(refToTemplates[ref], name)
	}

	if len(refs) == 0 {
		return dirty, nil
	}
	tags, err := delta.latestTags(ctx, refs)
	if err != nil {
		return nil, err
	}
	for ref, names := range refToTemplates {
		tag := tags[ref]
		for _, name := range names {
			var previousVersion string
			if entry, ok := previous[name]; ok {
				if v, ok := entry.LatestVersion(); ok {
					previousVersion = v.Version
				}
			}
			if isDirty(tag, previousVersion) {
				dirty[name] = true
			}
		}
	}
	return dirty, nil
}

// fetchReleases fetches upstream release metadata for every dirty
// template, bounded to config.DefaultGraphQLConcurrency concurrent
// upstream calls, deduplicated by source key so templates sharing an
// upstream (e.g. several ports manifests naming the same product) only
// query once.
func fetchReleases(ctx context.Context, reg *forge.Registry, ports map[string]*template.PortManifest, templates []*template.PackageTemplate, dirty map[string]bool) (map[string][]forge.Release, error) {
	bySource := map[string]*template.PackageTemplate{}
	for _, t := range templates {
		if !dirty[strings.ToLower(t.Package.Name)] {
			continue
		}
		key := sourceKey(t)
		if _, ok := bySource[key]; !ok {
			bySource[key] = t
		}
	}

	results := make(map[string][]forge.Release, len(bySource))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.DefaultGraphQLConcurrency)

	for key, tmpl := range bySource {
		key, tmpl := key, tmpl
		g.Go(func() error {
			releases, err := listReleases(gctx, reg, ports, tmpl)
			if err != nil {
				return err
			}
			mu.Lock()
			results[key] = releases
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// hydrateLayer processes one build-plan layer: up to templatesPerLayer
// templates concurrently, each hydrating up to versionsPerTemplate of its
// most recent recentVersions releases concurrently.
func hydrateLayer(ctx context.Context, h *hydrator, layer []*template.PackageTemplate, releases map[string][]forge.Release, previous map[string]*model.IndexEntry, dirty map[string]bool, templatesPerLayer, versionsPerTemplate, recentVersions int, logger log.Logger) ([]*model.IndexEntry, error) {
	entries := make([]*model.IndexEntry, len(layer))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(templatesPerLayer)

	for i, tmpl := range layer {
		i, tmpl := i, tmpl
		g.Go(func() error {
			name := strings.ToLower(tmpl.Package.Name)
			if !dirty[name] {
				if entry, ok := previous[name]; ok {
					entries[i] = entry
					return nil
				}
			}

			rels := releases[sourceKey(tmpl)]
			if len(rels) > recentVersions {
				rels = rels[:recentVersions]
			}

			var previousEntry *model.IndexEntry
			if entry, ok := previous[name]; ok {
				previousEntry = entry
			}

			entry, err := hydrateTemplate(gctx, h, tmpl, rels, previousEntry, versionsPerTemplate)
			if err != nil {
				logger.Warn("hydrating template failed", "package", tmpl.Package.Name, "error", err)
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*model.IndexEntry, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// hydrateTemplate builds one template's full IndexEntry: metadata fields
// plus one hydrated VersionInfo per release, newest first, up to
// versionsPerTemplate concurrently.
func hydrateTemplate(ctx context.Context, h *hydrator, tmpl *template.PackageTemplate, releases []forge.Release, previous *model.IndexEntry, versionsPerTemplate int) (*model.IndexEntry, error) {
	kind := model.KindCLI
	if tmpl.Install.Strategy == template.StrategyApp {
		kind = model.KindApp
	}

	versions := make([]model.VersionInfo, len(releases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(versionsPerTemplate)

	for i, rel := range releases {
		i, rel := i, rel
		g.Go(func() error {
			var prevVersion *model.VersionInfo
			if previous != nil {
				if v, ok := previous.FindVersion(rel.Version); ok {
					prevVersion = v
				}
			}
			info, err := h.hydrateVersion(gctx, tmpl, rel, prevVersion)
			if err != nil {
				return pkgerr.Wrap(pkgerr.KindBuild, tmpl.Package.Name, "hydrating version "+rel.Version, err)
			}
			versions[i] = *info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.IndexEntry{
		Name:        model.NewPackageName(tmpl.Package.Name),
		Description: tmpl.Package.Description,
		Kind:        kind,
		Tags:        tmpl.Package.Tags,
		Releases:    versions,
	}, nil
}
