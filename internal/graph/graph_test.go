package graph

import (
	"testing"

	"github.com/loomorch/loom/internal/store"
)

func stage(id string, deps ...string) *store.Stage {
	return &store.Stage{
		ID:        id,
		Status:    store.StageWaitingForDeps,
		DependsOn: deps,
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*store.Stage{stage("a", "missing")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestBuild_CycleReturnsWitnessPath(t *testing.T) {
	g := New()
	err := g.Build([]*store.Stage{
		stage("a", "b"),
		stage("b", "c"),
		stage("c", "a"),
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(cycleErr.Path) < 2 {
		t.Fatalf("expected a non-trivial witness path, got %v", cycleErr.Path)
	}
	if cycleErr.Path[0] != cycleErr.Path[len(cycleErr.Path)-1] {
		t.Errorf("witness path should start and end on the same node, got %v", cycleErr.Path)
	}
}

func TestBuild_NoCycle(t *testing.T) {
	g := New()
	if err := g.Build([]*store.Stage{
		stage("a"),
		stage("b", "a"),
		stage("c", "a", "b"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDepths(t *testing.T) {
	g := New()
	if err := g.Build([]*store.Stage{
		stage("a"),
		stage("b", "a"),
		stage("c", "b"),
		stage("d", "a"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}
	depths := g.Depths()
	want := map[string]int{"a": 0, "b": 1, "c": 2, "d": 1}
	for id, d := range want {
		if depths[id] != d {
			t.Errorf("depth[%s] = %d, want %d", id, depths[id], d)
		}
	}
}

func TestReadyStages_GatedOnCompletedAndMerged(t *testing.T) {
	dep := stage("a")
	dep.Status = store.StageCompleted
	dep.Merged = false // completed but not yet merged

	dependent := stage("b", "a")

	g := New()
	if err := g.Build([]*store.Stage{dep, dependent}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if ready := g.ReadyStages(); len(ready) != 0 {
		t.Fatalf("expected no ready stages while dependency is unmerged, got %v", ready)
	}

	g.SetNodeMerged("a", true)
	ready := g.ReadyStages()
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("expected stage b to become ready once a is merged, got %v", ready)
	}
}

func TestReadyStages_SkipsHeldStages(t *testing.T) {
	held := stage("a")
	held.Held = true

	g := New()
	if err := g.Build([]*store.Stage{held}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if ready := g.ReadyStages(); len(ready) != 0 {
		t.Fatalf("held stage should not be ready, got %v", ready)
	}
}

func TestDependentsAndDependencies(t *testing.T) {
	g := New()
	if err := g.Build([]*store.Stage{
		stage("a"),
		stage("b", "a"),
		stage("c", "a"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	deps := g.Dependents("a")
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependents of a, got %v", deps)
	}

	if got := g.Dependencies("b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("Dependencies(b) = %v, want [a]", got)
	}
}
