// Package template parses apl's registry authoring TOML: PackageTemplate,
// the per-package file maintainers edit, and PortManifest, the simpler
// per-package file the ports producer consumes. Both are unmarshaled with
// BurntSushi/toml.
package template

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// PackageSection is PackageTemplate's [package] table.
type PackageSection struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Homepage    string   `toml:"homepage"`
	License     string   `toml:"license"`
	Tags        []string `toml:"tags"`
}

// DiscoverySection is PackageTemplate's [discovery] table. Exactly one of
// GitHub, Ports, or Manual should be set; Classify uses whichever is
// present to pick a forge adapter.
type DiscoverySection struct {
	GitHub             string   `toml:"github"`
	TagPattern         string   `toml:"tag_pattern"`
	IncludePrereleases bool     `toml:"include_prereleases"`
	Ports              string   `toml:"ports"`
	Manual             []string `toml:"manual"`
}

// AssetSelector is one entry of [assets].select.
type AssetSelector struct {
	Auto   bool   `toml:"auto"`
	Suffix string `toml:"suffix"`
}

// AssetsSection is PackageTemplate's [assets] table.
type AssetsSection struct {
	Select        map[string]AssetSelector `toml:"select"`
	ChecksumURL   string                   `toml:"checksum_url"`
	SkipChecksums bool                     `toml:"skip_checksums"`
}

// SourceSection is PackageTemplate's optional [source] table.
type SourceSection struct {
	URL    string `toml:"url"`
	Format string `toml:"format"`
	SHA256 string `toml:"sha256"`
}

// BuildSection is PackageTemplate's optional [build] table.
type BuildSection struct {
	TagPattern     string   `toml:"tag_pattern"`
	VersionPattern string   `toml:"version_pattern"`
	Script         string   `toml:"script"`
	Dependencies   []string `toml:"dependencies"`
}

// DependenciesSection is PackageTemplate's [dependencies] table.
type DependenciesSection struct {
	Runtime  []string `toml:"runtime"`
	Build    []string `toml:"build"`
	Optional []string `toml:"optional"`
}

// InstallStrategy is InstallSection.Strategy.
type InstallStrategy string

const (
	StrategyLink   InstallStrategy = "link"
	StrategyApp    InstallStrategy = "app"
	StrategyPkg    InstallStrategy = "pkg"
	StrategyScript InstallStrategy = "script"
)

// InstallSection is PackageTemplate's [install] table.
type InstallSection struct {
	Strategy InstallStrategy `toml:"strategy"`
	Bin      []string        `toml:"bin"`
	App      string          `toml:"app"`
	Script   string          `toml:"script"`
}

// HintsSection is PackageTemplate's [hints] table.
type HintsSection struct {
	PostInstall string `toml:"post_install"`
}

// PackageTemplate is the registry authoring form a maintainer edits. Path
// is set by Load/Walk, not read from the TOML itself.
type PackageTemplate struct {
	Path         string              `toml:"-"`
	Package      PackageSection      `toml:"package"`
	Discovery    DiscoverySection    `toml:"discovery"`
	Assets       AssetsSection       `toml:"assets"`
	Source       *SourceSection      `toml:"source"`
	Build        *BuildSection       `toml:"build"`
	Dependencies DependenciesSection `toml:"dependencies"`
	Install      InstallSection      `toml:"install"`
	Hints        HintsSection        `toml:"hints"`
}

// Validate enforces the minimal PackageTemplate invariants: a name, and
// exactly one discovery strategy configured.
func (t *PackageTemplate) Validate() error {
	if t.Package.Name == "" {
		return pkgerr.New(pkgerr.KindValidation, t.Path, "package.name is required")
	}
	strategies := 0
	if t.Discovery.GitHub != "" {
		strategies++
	}
	if t.Discovery.Ports != "" {
		strategies++
	}
	if len(t.Discovery.Manual) > 0 {
		strategies++
	}
	if strategies != 1 {
		return pkgerr.New(pkgerr.KindValidation, t.Path, fmt.Sprintf("exactly one discovery strategy required, found %d", strategies))
	}
	return nil
}

// Load parses a single PackageTemplate TOML file.
func Load(path string, data []byte) (*PackageTemplate, error) {
	var t PackageTemplate
	if _, err := toml.Decode(string(data), &t); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, path, "parsing package template", err)
	}
	t.Path = path
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Walk discovers every template file under root (flat or sharded
// directories), parses each, and returns them sorted by package name for
// deterministic processing order.
func Walk(fsys fs.FS, root string) ([]*PackageTemplate, error) {
	var templates []*PackageTemplate

	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".toml") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", path, err)
		}
		tmpl, err := Load(path, data)
		if err != nil {
			return err
		}
		templates = append(templates, tmpl)
		return nil
	})
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, root, "walking registry tree", err)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Package.Name < templates[j].Package.Name
	})
	return templates, nil
}

// PortStrategy is PortManifest's [package].strategy.
type PortStrategy string

const (
	PortHashiCorp PortStrategy = "hashicorp"
	PortGolang    PortStrategy = "golang"
	PortNode      PortStrategy = "node"
	PortGitHub    PortStrategy = "github"
	PortAWS       PortStrategy = "aws"
	PortPython    PortStrategy = "python"
	PortRuby      PortStrategy = "ruby"
	PortBuild     PortStrategy = "build"
	PortCustom    PortStrategy = "custom"
)

// PortManifest is the simpler per-package file the ports producer
// consumes.
type PortManifest struct {
	Path      string       `toml:"-"`
	Name      string       `toml:"name"`
	Strategy  PortStrategy `toml:"strategy"`
	Product   string       `toml:"product"`
	Owner     string       `toml:"owner"`
	Repo      string       `toml:"repo"`
	SourceURL string       `toml:"source_url"`
}

// LoadPortManifest parses a single PortManifest TOML file.
func LoadPortManifest(path string, data []byte) (*PortManifest, error) {
	var m PortManifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, path, "parsing port manifest", err)
	}
	m.Path = path
	if m.Name == "" {
		return nil, pkgerr.New(pkgerr.KindValidation, path, "name is required")
	}
	return &m, nil
}

// ExpandVersion substitutes {{version}} in a URL template (used for
// checksum_url and [source].url).
func ExpandVersion(tmpl, version string) string {
	return strings.ReplaceAll(tmpl, "{{version}}", version)
}
