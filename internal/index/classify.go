package index

import (
	"context"
	"fmt"
	"path"

	"github.com/jpmacdonald/apl/internal/discover/forge"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/template"
)

// sourceKey groups templates that share an upstream source, so the delta
// check and metadata fetch batch requests against the same repo together.
func sourceKey(tmpl *template.PackageTemplate) string {
	switch {
	case tmpl.Discovery.GitHub != "":
		return "github:" + tmpl.Discovery.GitHub
	case tmpl.Discovery.Ports != "":
		return "ports:" + tmpl.Discovery.Ports
	default:
		return "manual:" + tmpl.Package.Name
	}
}

// isGitHubSourced reports whether tmpl's releases come from GitHub, the
// only source cheap enough to delta-check.
func isGitHubSourced(tmpl *template.PackageTemplate) bool {
	return tmpl.Discovery.GitHub != ""
}

// listReleases dispatches tmpl's discovery strategy to the matching forge
// adapter, or synthesizes releases directly for the ports/manual
// strategies.
func listReleases(ctx context.Context, reg *forge.Registry, ports map[string]*template.PortManifest, tmpl *template.PackageTemplate) ([]forge.Release, error) {
	switch {
	case tmpl.Discovery.GitHub != "":
		return reg.ListPackageReleases(ctx, tmpl.Discovery)
	case tmpl.Discovery.Ports != "":
		manifest, ok := ports[tmpl.Discovery.Ports]
		if !ok {
			return nil, pkgerr.New(pkgerr.KindValidation, tmpl.Package.Name,
				fmt.Sprintf("no port manifest named %q", tmpl.Discovery.Ports))
		}
		return reg.ListReleases(ctx, manifest.Strategy, forge.RefFor(manifest))
	case len(tmpl.Discovery.Manual) > 0:
		return manualReleases(tmpl, tmpl.Discovery.Manual), nil
	default:
		return nil, pkgerr.New(pkgerr.KindValidation, tmpl.Package.Name, "no discovery strategy configured")
	}
}

// manualReleases turns a template's fixed version list into Releases.
// Manual-discovery packages are expected to pair with either a [build]
// section (the indexer builds the version's source tree itself) or a
// [source].url template ({{version}}-parameterized), which this expands
// into a single synthetic asset per version so asset selectors have
// something to match against.
func manualReleases(tmpl *template.PackageTemplate, versions []string) []forge.Release {
	out := make([]forge.Release, 0, len(versions))
	for _, v := range versions {
		rel := forge.Release{Tag: v, Version: v}
		if tmpl.Source != nil && tmpl.Source.URL != "" {
			url := template.ExpandVersion(tmpl.Source.URL, v)
			rel.Assets = []forge.Asset{{Name: path.Base(url), URL: url}}
		}
		out = append(out, rel)
	}
	return out
}
