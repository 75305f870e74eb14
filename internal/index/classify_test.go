package index

import (
	"testing"

	"github.com/jpmacdonald/apl/internal/discover/forge"
	"github.com/jpmacdonald/apl/internal/template"
)

func TestSourceKeyByDiscoveryStrategy(t *testing.T) {
	cases := []struct {
		tmpl *template.PackageTemplate
		want string
	}{
		{&template.PackageTemplate{Package: template.PackageSection{Name: "jq"}, Discovery: template.DiscoverySection{GitHub: "jqlang/jq"}}, "github:jqlang/jq"},
		{&template.PackageTemplate{Package: template.PackageSection{Name: "ruby"}, Discovery: template.DiscoverySection{Ports: "ruby"}}, "ports:ruby"},
		{&template.PackageTemplate{Package: template.PackageSection{Name: "internal-tool"}, Discovery: template.DiscoverySection{Manual: []string{"1.0.0"}}}, "manual:internal-tool"},
	}
	for _, c := range cases {
		if got := sourceKey(c.tmpl); got != c.want {
			t.Errorf("sourceKey(%q) = %q, want %q", c.tmpl.Package.Name, got, c.want)
		}
	}
}

func TestManualReleasesSynthesizesBareReleases(t *testing.T) {
	tp := &template.PackageTemplate{Package: template.PackageSection{Name: "internal-tool"}}
	releases := manualReleases(tp, []string{"1.0.0", "1.0.1"})
	if len(releases) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(releases))
	}
	if releases[0].Tag != "1.0.0" || releases[0].Version != "1.0.0" {
		t.Fatalf("unexpected release: %+v", releases[0])
	}
	if len(releases[0].Assets) != 0 {
		t.Fatalf("manual releases with no [source] should carry no assets, got %+v", releases[0].Assets)
	}
}

func TestManualReleasesBuildsAssetFromSourceURL(t *testing.T) {
	tp := &template.PackageTemplate{
		Package: template.PackageSection{Name: "jq"},
		Source:  &template.SourceSection{URL: "https://example.test/jq-{{version}}-macos-amd64"},
	}
	releases := manualReleases(tp, []string{"1.7.1"})
	if len(releases[0].Assets) != 1 {
		t.Fatalf("expected one synthesized asset, got %+v", releases[0].Assets)
	}
	if releases[0].Assets[0].URL != "https://example.test/jq-1.7.1-macos-amd64" {
		t.Fatalf("unexpected asset url: %+v", releases[0].Assets[0])
	}
}

func TestListReleasesDispatchesManual(t *testing.T) {
	tp := &template.PackageTemplate{
		Package:   template.PackageSection{Name: "internal-tool"},
		Discovery: template.DiscoverySection{Manual: []string{"2.0.0"}},
	}
	releases, err := listReleases(t.Context(), forge.NewRegistry(), nil, tp)
	if err != nil {
		t.Fatalf("listReleases: %v", err)
	}
	if len(releases) != 1 || releases[0].Version != "2.0.0" {
		t.Fatalf("unexpected releases: %+v", releases)
	}
}

func TestListReleasesErrorsWithNoStrategy(t *testing.T) {
	tp := &template.PackageTemplate{Package: template.PackageSection{Name: "broken"}}
	if _, err := listReleases(t.Context(), forge.NewRegistry(), nil, tp); err == nil {
		t.Fatal("expected an error for a template with no discovery strategy")
	}
}

func TestListReleasesErrorsOnUnknownPort(t *testing.T) {
	tp := &template.PackageTemplate{
		Package:   template.PackageSection{Name: "ruby"},
		Discovery: template.DiscoverySection{Ports: "ruby"},
	}
	if _, err := listReleases(t.Context(), forge.NewRegistry(), map[string]*template.PortManifest{}, tp); err == nil {
		t.Fatal("expected an error when the named port manifest is missing")
	}
}
