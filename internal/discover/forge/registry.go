package forge

import (
	"context"

	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/template"
)

// Registry maps a template.PortStrategy to the Adapter that serves it,
// keyed directly off the strategy enum PackageTemplate/PortManifest
// already carry rather than re-deriving it from install steps.
type Registry struct {
	adapters map[template.PortStrategy]Adapter
}

// NewRegistry builds a Registry with the default adapter for every
// supported strategy. PortBuild and PortCustom have no adapter: their
// versions come from the template's own [build] section, not an upstream
// feed.
func NewRegistry() *Registry {
	return &Registry{adapters: map[template.PortStrategy]Adapter{
		template.PortGitHub:    NewGitHubAdapter(),
		template.PortHashiCorp: NewHashiCorpAdapter(),
		template.PortGolang:    NewGoToolchainAdapter(),
		template.PortNode:      NewNpmAdapter(),
		template.PortPython:    NewPyPIAdapter(),
		template.PortRuby:      NewRubyGemsAdapter(),
		template.PortAWS:       NewAWSCLIAdapter(),
	}}
}

// Adapter returns the adapter registered for strategy, if any.
func (r *Registry) Adapter(strategy template.PortStrategy) (Adapter, bool) {
	a, ok := r.adapters[strategy]
	return a, ok
}

// ListReleases looks up the adapter for strategy and lists releases for ref.
func (r *Registry) ListReleases(ctx context.Context, strategy template.PortStrategy, ref string) ([]Release, error) {
	adapter, ok := r.Adapter(strategy)
	if !ok {
		return nil, pkgerr.New(pkgerr.KindValidation, string(strategy), "no forge adapter registered for this strategy")
	}
	return adapter.ListReleases(ctx, ref)
}

// RefFor derives the adapter ref from a PortManifest: "owner/repo" for
// GitHub, Product for every other registry-backed strategy.
func RefFor(m *template.PortManifest) string {
	if m.Strategy == template.PortGitHub {
		return m.Owner + "/" + m.Repo
	}
	return m.Product
}

// ListPackageReleases dispatches a PackageTemplate's [discovery] table to
// the matching adapter. Ports and Manual strategies have no forge adapter:
// Ports versions come from the referenced PortManifest's own strategy, and
// Manual is a fixed version list the index producer reads directly from the
// template.
func (r *Registry) ListPackageReleases(ctx context.Context, d template.DiscoverySection) ([]Release, error) {
	if d.GitHub == "" {
		return nil, pkgerr.New(pkgerr.KindValidation, "", "discovery section has no GitHub strategy to dispatch")
	}
	releases, err := r.ListReleases(ctx, template.PortGitHub, d.GitHub)
	if err != nil {
		return nil, err
	}
	if d.IncludePrereleases {
		return releases, nil
	}
	stable := releases[:0:0]
	for _, rel := range releases {
		if !rel.Prerelease {
			stable = append(stable, rel)
		}
	}
	return stable, nil
}
