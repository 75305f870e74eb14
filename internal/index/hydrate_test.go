package index

import (
	"testing"

	"github.com/jpmacdonald/apl/internal/discover/forge"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/template"
)

func TestSelectAssetBySuffix(t *testing.T) {
	assets := []forge.Asset{
		{Name: "widget-arm64-darwin.tar.gz"},
		{Name: "widget-x86_64-darwin.tar.gz"},
	}
	asset, ok := selectAsset(template.AssetSelector{Suffix: "arm64-darwin.tar.gz"}, model.ArchARM64Darwin, assets)
	if !ok {
		t.Fatal("expected a match")
	}
	if asset.Name != "widget-arm64-darwin.tar.gz" {
		t.Fatalf("got %q", asset.Name)
	}
}

func TestSelectAssetAutoByArchHint(t *testing.T) {
	assets := []forge.Asset{
		{Name: "widget-amd64.tar.gz"},
		{Name: "widget-arm64.tar.gz"},
	}
	asset, ok := selectAsset(template.AssetSelector{Auto: true}, model.ArchX86_64Darwin, assets)
	if !ok {
		t.Fatal("expected a match")
	}
	if asset.Name != "widget-amd64.tar.gz" {
		t.Fatalf("got %q", asset.Name)
	}
}

func TestSelectAssetNoMatch(t *testing.T) {
	assets := []forge.Asset{{Name: "widget-windows.zip"}}
	if _, ok := selectAsset(template.AssetSelector{Suffix: "linux.tar.gz"}, model.ArchARM64Darwin, assets); ok {
		t.Fatal("expected no match")
	}
}

func TestSourceArchiveURLPrefersExplicitSource(t *testing.T) {
	tp := &template.PackageTemplate{
		Package: template.PackageSection{Name: "widget"},
		Source:  &template.SourceSection{URL: "https://example.test/widget-{{version}}.tar.gz"},
	}
	url, err := sourceArchiveURL(tp, forge.Release{Version: "1.2.3"})
	if err != nil {
		t.Fatalf("sourceArchiveURL: %v", err)
	}
	if url != "https://example.test/widget-1.2.3.tar.gz" {
		t.Fatalf("got %q", url)
	}
}

func TestSourceArchiveURLFallsBackToGitHubTagArchive(t *testing.T) {
	tp := &template.PackageTemplate{
		Package:   template.PackageSection{Name: "widget"},
		Discovery: template.DiscoverySection{GitHub: "example/widget"},
	}
	url, err := sourceArchiveURL(tp, forge.Release{Version: "1.2.3", Tag: "v1.2.3"})
	if err != nil {
		t.Fatalf("sourceArchiveURL: %v", err)
	}
	if url != "https://github.com/example/widget/archive/refs/tags/v1.2.3.tar.gz" {
		t.Fatalf("got %q", url)
	}
}

func TestSourceArchiveURLErrorsWithNoSource(t *testing.T) {
	tp := &template.PackageTemplate{
		Package:   template.PackageSection{Name: "widget"},
		Discovery: template.DiscoverySection{Manual: []string{"1.0.0"}},
	}
	if _, err := sourceArchiveURL(tp, forge.Release{Version: "1.0.0"}); err == nil {
		t.Fatal("expected an error for a manual template with no [source] section")
	}
}

func TestPackageNamesNormalizesCase(t *testing.T) {
	names := packageNames([]string{"OpenSSL", "zlib"})
	if names[0] != model.NewPackageName("OpenSSL") || names[1] != "zlib" {
		t.Fatalf("unexpected names: %v", names)
	}
}
