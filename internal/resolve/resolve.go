// Package resolve implements apl's two resolution modes over a
// PackageIndex: install-order resolution via depth-first post-order
// traversal, and build-plan layering via Kahn's algorithm.
//
// Cycle detection uses a "visiting" set distinguishing in-progress nodes
// from finished ones, failing fast the moment a node is revisited while
// still on the stack.
package resolve

import (
	"sort"

	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// visitState tracks a node's place in the DFS: absent means unvisited,
// visiting means on the current recursion stack (a cycle if revisited),
// done means already emitted.
type visitState int

const (
	stateUnvisited visitState = iota
	stateVisiting
	stateDone
)

// ResolveDependencies performs the DFS over runtime_deps of each seed's
// latest version and returns the post-order install sequence: every
// dependency precedes its dependents.
func ResolveDependencies(seeds []model.PackageName, idx *model.PackageIndex) ([]model.PackageName, error) {
	state := make(map[model.PackageName]visitState)
	var order []model.PackageName

	var visit func(name model.PackageName) error
	visit = func(name model.PackageName) error {
		switch state[name] {
		case stateDone:
			return nil
		case stateVisiting:
			return pkgerr.CircularDependency(string(name))
		}
		state[name] = stateVisiting

		entry, ok := idx.FindPackage(name)
		if !ok {
			return pkgerr.NotFound(string(name))
		}
		latest, ok := entry.LatestVersion()
		if !ok {
			return pkgerr.NotFound(string(name))
		}
		for _, dep := range latest.RuntimeDeps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		state[name] = stateDone
		order = append(order, name)
		return nil
	}

	for _, seed := range seeds {
		if err := visit(seed); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ResolveBuildPlan computes build-order layers via Kahn's algorithm over
// the union of build_deps and runtime_deps for every entry's latest
// version. Each layer is
// the set of nodes with zero remaining in-degree, sorted lexicographically
// for determinism; layers are emitted until either every node has been
// placed or no further progress is possible, in which case the residual
// nodes indicate a cycle.
func ResolveBuildPlan(idx *model.PackageIndex) ([][]model.PackageName, error) {
	inDegree := make(map[model.PackageName]int)
	// dependents[x] lists nodes that depend on x, i.e. edges x -> dependent.
	dependents := make(map[model.PackageName][]model.PackageName)

	all := make([]model.PackageName, 0, len(idx.Packages))
	for _, entry := range idx.Packages {
		all = append(all, entry.Name)
		if _, ok := inDegree[entry.Name]; !ok {
			inDegree[entry.Name] = 0
		}
	}

	for _, entry := range idx.Packages {
		latest, ok := entry.LatestVersion()
		if !ok {
			continue
		}
		deps := make(map[model.PackageName]bool)
		for _, d := range latest.BuildDeps {
			deps[d] = true
		}
		for _, d := range latest.RuntimeDeps {
			deps[d] = true
		}
		for dep := range deps {
			// A dep outside the index contributes no edge we can order;
			// treat it as already satisfied, since it's a system or
			// package-manager dependency this resolver doesn't own.
			if _, ok := inDegree[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], entry.Name)
			inDegree[entry.Name]++
		}
	}

	remaining := len(all)
	var layers [][]model.PackageName

	for remaining > 0 {
		var layer []model.PackageName
		for _, name := range all {
			if inDegree[name] == 0 {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			// Residual nodes with nonzero in-degree form a cycle.
			var stuck []string
			for _, name := range all {
				if inDegree[name] > 0 {
					stuck = append(stuck, string(name))
				}
			}
			sort.Strings(stuck)
			return nil, pkgerr.CircularDependency(stuck[0])
		}

		sort.Slice(layer, func(i, j int) bool { return layer[i] < layer[j] })
		layers = append(layers, layer)

		for _, name := range layer {
			// Mark placed so it isn't re-emitted in a future layer scan.
			inDegree[name] = -1
			remaining--
			for _, dependent := range dependents[name] {
				if inDegree[dependent] > 0 {
					inDegree[dependent]--
				}
			}
		}
	}

	return layers, nil
}
