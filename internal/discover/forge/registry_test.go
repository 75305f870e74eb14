package forge

import (
	"testing"

	"github.com/jpmacdonald/apl/internal/template"
)

func TestRegistryAdapterLookup(t *testing.T) {
	r := NewRegistry()

	for _, strategy := range []template.PortStrategy{
		template.PortGitHub, template.PortHashiCorp, template.PortGolang,
		template.PortNode, template.PortPython, template.PortRuby, template.PortAWS,
	} {
		if _, ok := r.Adapter(strategy); !ok {
			t.Errorf("expected an adapter registered for strategy %q", strategy)
		}
	}

	for _, strategy := range []template.PortStrategy{template.PortBuild, template.PortCustom} {
		if _, ok := r.Adapter(strategy); ok {
			t.Errorf("expected no adapter registered for strategy %q", strategy)
		}
	}
}

func TestRefForGitHubUsesOwnerRepo(t *testing.T) {
	m := &template.PortManifest{Strategy: template.PortGitHub, Owner: "stedolan", Repo: "jq"}
	if got, want := RefFor(m), "stedolan/jq"; got != want {
		t.Fatalf("RefFor() = %q, want %q", got, want)
	}
}

func TestRefForRegistryStrategyUsesProduct(t *testing.T) {
	m := &template.PortManifest{Strategy: template.PortHashiCorp, Product: "terraform"}
	if got, want := RefFor(m), "terraform"; got != want {
		t.Fatalf("RefFor() = %q, want %q", got, want)
	}
}

func TestListPackageReleasesRequiresGitHub(t *testing.T) {
	r := NewRegistry()
	if _, err := r.ListPackageReleases(nil, template.DiscoverySection{}); err == nil {
		t.Fatalf("expected error when discovery section has no GitHub strategy")
	}
}
