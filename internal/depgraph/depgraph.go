// Package depgraph computes a topological ordering of features and detects
// blocking dependencies / cycles. Cycle detection is DFS white/gray/black
// coloring.
package depgraph

import (
	"sort"

	"github.com/automaker/automaker/internal/model"
)

type color int

const (
	white color = iota
	gray
	black
)

// Result is the Dependency Resolver's output for one feature set.
type Result struct {
	// Ordered is the topological order: acyclic features first (by
	// dependency order, tie-broken by ascending priority then on-disk
	// order), then any cyclic features in priority order.
	Ordered []model.Feature
	// HasCycle is true if any dependency cycle was found.
	HasCycle bool
	// CycleMembers holds the ids involved in cycles.
	CycleMembers []string
}

// Resolve computes the ordering and cycle report over features. Dependencies
// naming an id not present in features are ignored (they can't contribute to
// a cycle or block on presence we can't observe).
func Resolve(features []model.Feature) Result {
	byID := make(map[string]model.Feature, len(features))
	diskOrder := make(map[string]int, len(features))
	for i, f := range features {
		byID[f.ID] = f
		diskOrder[f.ID] = i
	}

	colors := make(map[string]color, len(features))
	cycleSet := map[string]bool{}

	var visit func(id string, stack []string) bool
	visit = func(id string, stack []string) bool {
		switch colors[id] {
		case black:
			return false
		case gray:
			// Found a cycle: every node from id's first occurrence onward is
			// a cycle member.
			started := false
			for _, s := range stack {
				if s == id {
					started = true
				}
				if started {
					cycleSet[s] = true
				}
			}
			cycleSet[id] = true
			return true
		}
		colors[id] = gray
		stack = append(stack, id)
		f := byID[id]
		found := false
		for _, dep := range sortedDeps(f.Dependencies) {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if visit(dep, stack) {
				found = true
			}
		}
		colors[id] = black
		return found
	}

	ids := make([]string, 0, len(features))
	for _, f := range features {
		ids = append(ids, f.ID)
	}
	sort.Strings(ids) // deterministic traversal start order
	hasCycle := false
	for _, id := range ids {
		if colors[id] == white {
			if visit(id, nil) {
				hasCycle = true
			}
		}
	}

	acyclic := make([]model.Feature, 0, len(features))
	cyclic := make([]model.Feature, 0)
	for _, f := range features {
		if cycleSet[f.ID] {
			cyclic = append(cyclic, f)
		} else {
			acyclic = append(acyclic, f)
		}
	}

	ordered := topoSortAcyclic(acyclic, diskOrder)
	ordered = append(ordered, sortByPriority(cyclic, diskOrder)...)

	cycleMembers := make([]string, 0, len(cycleSet))
	for id := range cycleSet {
		cycleMembers = append(cycleMembers, id)
	}
	sort.Strings(cycleMembers)

	return Result{Ordered: ordered, HasCycle: hasCycle, CycleMembers: cycleMembers}
}

func sortedDeps(deps []string) []string {
	out := append([]string(nil), deps...)
	sort.Strings(out)
	return out
}

// topoSortAcyclic orders features so every dependency precedes its
// dependents, tie-broken by ascending priority then original on-disk order.
func topoSortAcyclic(features []model.Feature, diskOrder map[string]int) []model.Feature {
	present := make(map[string]bool, len(features))
	for _, f := range features {
		present[f.ID] = true
	}
	indeg := make(map[string]int, len(features))
	dependents := make(map[string][]string, len(features))
	for _, f := range features {
		for _, dep := range f.Dependencies {
			if present[dep] {
				indeg[f.ID]++
				dependents[dep] = append(dependents[dep], f.ID)
			}
		}
	}

	byID := make(map[string]model.Feature, len(features))
	for _, f := range features {
		byID[f.ID] = f
	}

	ready := make([]string, 0, len(features))
	for _, f := range features {
		if indeg[f.ID] == 0 {
			ready = append(ready, f.ID)
		}
	}
	sortIDsByPriority(ready, byID, diskOrder)

	var out []model.Feature
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, byID[id])
		next := dependents[id]
		sort.Strings(next)
		for _, d := range next {
			indeg[d]--
			if indeg[d] == 0 {
				ready = append(ready, d)
			}
		}
		sortIDsByPriority(ready, byID, diskOrder)
	}
	return out
}

func sortIDsByPriority(ids []string, byID map[string]model.Feature, diskOrder map[string]int) {
	sort.SliceStable(ids, func(i, j int) bool {
		fi, fj := byID[ids[i]], byID[ids[j]]
		if fi.Priority != fj.Priority {
			return fi.Priority < fj.Priority
		}
		return diskOrder[ids[i]] < diskOrder[ids[j]]
	})
}

func sortByPriority(features []model.Feature, diskOrder map[string]int) []model.Feature {
	out := append([]model.Feature(nil), features...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return diskOrder[out[i].ID] < diskOrder[out[j].ID]
	})
	return out
}

// BlockingDependencies returns the subset of feature.Dependencies that are
// not yet verified or completed.
func BlockingDependencies(feature model.Feature, all []model.Feature) []string {
	byID := make(map[string]model.Feature, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}
	var blocking []string
	for _, dep := range feature.Dependencies {
		d, ok := byID[dep]
		if !ok {
			continue
		}
		if d.Status != model.StatusVerified && d.Status != model.StatusCompleted {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}
