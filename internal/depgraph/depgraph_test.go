package depgraph

import (
	"testing"

	"github.com/automaker/automaker/internal/model"
)

func feat(id string, priority int, deps ...string) model.Feature {
	return model.Feature{ID: id, Priority: priority, Dependencies: deps, Status: model.StatusBacklog}
}

func TestResolve_OrdersDependenciesBeforeDependents(t *testing.T) {
	features := []model.Feature{
		feat("a", 1, "b"),
		feat("b", 2),
	}
	res := Resolve(features)
	if res.HasCycle {
		t.Fatalf("did not expect a cycle")
	}
	if len(res.Ordered) != 2 || res.Ordered[0].ID != "b" || res.Ordered[1].ID != "a" {
		t.Fatalf("expected [b a], got %v", idsOf(res.Ordered))
	}
}

func TestResolve_TiesBrokenByPriorityThenDiskOrder(t *testing.T) {
	features := []model.Feature{
		feat("a", 5),
		feat("b", 1),
		feat("c", 1),
	}
	res := Resolve(features)
	if idsOf(res.Ordered)[0] != "b" {
		t.Fatalf("expected b first by priority, got %v", idsOf(res.Ordered))
	}
	if idsOf(res.Ordered)[1] != "c" {
		t.Fatalf("expected c second (tie broken by disk order), got %v", idsOf(res.Ordered))
	}
}

func TestResolve_CycleDoesNotAbortSort(t *testing.T) {
	features := []model.Feature{
		feat("a", 1, "b"),
		feat("b", 1, "a"),
		feat("c", 1),
	}
	res := Resolve(features)
	if !res.HasCycle {
		t.Fatalf("expected cycle to be detected")
	}
	if len(res.CycleMembers) != 2 {
		t.Fatalf("expected 2 cycle members, got %v", res.CycleMembers)
	}
	if len(res.Ordered) != 3 {
		t.Fatalf("expected all 3 features still emitted, got %d", len(res.Ordered))
	}
	// acyclic feature c must precede the cyclic pair.
	if res.Ordered[0].ID != "c" {
		t.Fatalf("expected acyclic feature first, got %v", idsOf(res.Ordered))
	}
}

func TestBlockingDependencies(t *testing.T) {
	a := feat("a", 1, "b", "c")
	b := feat("b", 1)
	b.Status = model.StatusVerified
	c := feat("c", 1)
	c.Status = model.StatusBacklog

	blocking := BlockingDependencies(a, []model.Feature{a, b, c})
	if len(blocking) != 1 || blocking[0] != "c" {
		t.Fatalf("expected only c blocking, got %v", blocking)
	}
}

func idsOf(fs []model.Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}
