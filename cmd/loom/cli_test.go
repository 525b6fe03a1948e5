package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loomorch/loom/internal/store"
)

// withTempWorkspace chdirs into a fresh directory with an initialized
// .work layout for the duration of the test, restoring the prior working
// directory on cleanup.
func withTempWorkspace(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	root := filepath.Join(tmp, store.WorkDirName)
	if err := store.Init(root); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	if err := os.MkdirAll(store.WorktreesDir(root), 0o755); err != nil {
		t.Fatalf("mkdir worktrees: %v", err)
	}

	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return root
}

func TestFindRoot_NoWorkspace(t *testing.T) {
	tmp := t.TempDir()
	prev, _ := os.Getwd()
	defer os.Chdir(prev)
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	if _, err := findRoot(); err == nil {
		t.Fatal("expected an error with no .work directory above cwd")
	}
}

func TestFindRoot_DiscoversFromSubdirectory(t *testing.T) {
	root := withTempWorkspace(t)

	sub := filepath.Join(filepath.Dir(root), "nested", "deeper")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Chdir(sub); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	got, err := findRoot()
	if err != nil {
		t.Fatalf("findRoot: %v", err)
	}
	if got != root {
		t.Fatalf("expected root %s, got %s", root, got)
	}
}

func TestDialDaemon_NoDaemonListening(t *testing.T) {
	root := withTempWorkspace(t)
	if _, err := dialDaemon(root); err == nil {
		t.Fatal("expected dialDaemon to fail when no daemon is listening")
	}
}

func TestApplyStageTransition_Ready(t *testing.T) {
	root := withTempWorkspace(t)
	st := store.New(root)

	stg := &store.Stage{ID: "stage-a", Status: store.StageWaitingForDeps}
	if err := st.SaveStage(stg); err != nil {
		t.Fatalf("SaveStage: %v", err)
	}

	if err := applyStageTransition("stage-a", store.StageQueued); err != nil {
		t.Fatalf("ready transition: %v", err)
	}
	loaded, err := st.LoadStage("stage-a")
	if err != nil {
		t.Fatalf("LoadStage: %v", err)
	}
	if loaded.Status != store.StageQueued {
		t.Fatalf("expected Queued, got %s", loaded.Status)
	}
}

func TestRunStageReset_ReturnsStageToWaitingForDeps(t *testing.T) {
	root := withTempWorkspace(t)
	st := store.New(root)

	stg := &store.Stage{
		ID:          "stage-a",
		Status:      store.StageBlocked,
		Session:     "sess-1",
		Worktree:    "wt-1",
		RetryCount:  2,
		FailureInfo: &store.FailureInfo{Kind: "crash", Message: "boom"},
	}
	if err := st.SaveStage(stg); err != nil {
		t.Fatalf("SaveStage: %v", err)
	}

	stageHard = true
	defer func() { stageHard = false }()

	if err := runStageReset(nil, []string{"stage-a"}); err != nil {
		t.Fatalf("runStageReset: %v", err)
	}

	loaded, err := st.LoadStage("stage-a")
	if err != nil {
		t.Fatalf("LoadStage: %v", err)
	}
	if loaded.Status != store.StageWaitingForDeps {
		t.Fatalf("expected WaitingForDeps, got %s", loaded.Status)
	}
	if loaded.Session != "" || loaded.Worktree != "" {
		t.Fatalf("expected session/worktree cleared, got %q/%q", loaded.Session, loaded.Worktree)
	}
	if loaded.RetryCount != 0 || loaded.FailureInfo != nil {
		t.Fatalf("expected --hard to clear retry_count and failure_info, got %d/%v", loaded.RetryCount, loaded.FailureInfo)
	}
}

func TestPlanValidate_RejectsUnknownDependency(t *testing.T) {
	withTempWorkspace(t)

	planPath := filepath.Join(t.TempDir(), "plan.md")
	contents := "# Plan\n\n<!-- loom METADATA -->\n" +
		"loom:\n  version: 1\n  stages:\n    - id: a\n      name: A\n      dependencies: [missing]\n      acceptance: [\"true\"]\n" +
		"<!-- END loom METADATA -->\n"
	if err := os.WriteFile(planPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	if err := runPlanValidate(nil, []string{planPath}); err == nil {
		t.Fatal("expected validation error for an unknown dependency id")
	}
}
