package index

import (
	"sort"

	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/template"
)

// buildLayers groups templates into dependency layers so a template's
// build dependencies are always indexed (and, for source builds, already
// hydrated) by the time its own layer runs. Only [build].dependencies
// participate in layering; runtime dependencies don't need to exist yet
// to index a package.
func buildLayers(templates []*template.PackageTemplate) ([][]*template.PackageTemplate, error) {
	byName := make(map[string]*template.PackageTemplate, len(templates))
	for _, t := range templates {
		byName[t.Package.Name] = t
	}

	remaining := make(map[string]*template.PackageTemplate, len(templates))
	for _, t := range templates {
		remaining[t.Package.Name] = t
	}

	var layers [][]*template.PackageTemplate
	for len(remaining) > 0 {
		var layer []*template.PackageTemplate
		for _, t := range remaining {
			if allSatisfied(t, byName, remaining) {
				layer = append(layer, t)
			}
		}
		if len(layer) == 0 {
			return nil, pkgerr.New(pkgerr.KindCircularDependency, "", "build dependency cycle detected among package templates")
		}
		for _, t := range layer {
			delete(remaining, t.Package.Name)
		}
		layers = append(layers, sortByName(layer))
	}
	return layers, nil
}

// allSatisfied reports whether every build dependency of t has either
// already been placed in an earlier layer (absent from remaining) or
// isn't a known template at all (an external/pre-existing dependency,
// which the indexer can't layer on but also can't block on).
func allSatisfied(t *template.PackageTemplate, byName map[string]*template.PackageTemplate, remaining map[string]*template.PackageTemplate) bool {
	if t.Build == nil {
		return true
	}
	for _, dep := range t.Build.Dependencies {
		if _, known := byName[dep]; !known {
			continue
		}
		if _, stillRemaining := remaining[dep]; stillRemaining {
			return false
		}
	}
	return true
}

func sortByName(templates []*template.PackageTemplate) []*template.PackageTemplate {
	out := make([]*template.PackageTemplate, len(templates))
	copy(out, templates)
	sort.Slice(out, func(i, j int) bool { return out[i].Package.Name < out[j].Package.Name })
	return out
}
