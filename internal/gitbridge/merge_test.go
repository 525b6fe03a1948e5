package gitbridge

import (
	"errors"
	"os"
	"testing"

	"github.com/loomorch/loom/internal/loomerr"
)

func TestMerge_Success(t *testing.T) {
	fr := newFakeRunner()
	b := NewWithRunner("/repo", "/repo/.worktrees", fr)

	outcome, err := b.Merge("loom/stage-a", "main", "merge stage-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != MergeSuccess {
		t.Errorf("status = %v, want %v", outcome.Status, MergeSuccess)
	}
	if outcome.Commit == "" {
		t.Error("expected a commit to be recorded")
	}
}

func TestMerge_AlreadyUpToDate(t *testing.T) {
	fr := newFakeRunner()
	fr.currentBranch = "main"
	// The fake merge sets main's HEAD to "merged-<source>"; starting main
	// at that same value makes the post-merge HEAD equal the pre-merge HEAD.
	fr.headByBranch["main"] = "merged-loom/stage-a"
	b := NewWithRunner("/repo", "/repo/.worktrees", fr)

	fr.mergeErr = nil
	outcome, err := b.Merge("loom/stage-a", "main", "merge stage-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != MergeAlreadyCurrent {
		t.Errorf("status = %v, want %v", outcome.Status, MergeAlreadyCurrent)
	}
}

func TestMerge_Conflict(t *testing.T) {
	fr := newFakeRunner()
	fr.mergeErr = errors.New("CONFLICT (content): merge conflict in a.go")
	fr.conflicts = []string{"a.go"}
	b := NewWithRunner("/repo", "/repo/.worktrees", fr)

	outcome, err := b.Merge("loom/stage-a", "main", "merge stage-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != MergeConflicted {
		t.Errorf("status = %v, want %v", outcome.Status, MergeConflicted)
	}
	if len(outcome.ConflictFiles) != 1 || outcome.ConflictFiles[0] != "a.go" {
		t.Errorf("conflict files = %v", outcome.ConflictFiles)
	}
}

func TestVerifyMergeSucceeded_Ancestor(t *testing.T) {
	fr := newFakeRunner()
	fr.ancestors["main"] = map[string]bool{"abc123": true}
	b := NewWithRunner("/repo", "/repo/.worktrees", fr)

	if err := b.VerifyMergeSucceeded("stage-a", "abc123", "main"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestVerifyMergeSucceeded_PhantomMerge(t *testing.T) {
	fr := newFakeRunner()
	b := NewWithRunner("/repo", "/repo/.worktrees", fr)

	err := b.VerifyMergeSucceeded("stage-a", "abc123", "main")
	if err == nil {
		t.Fatal("expected a phantom merge error")
	}
	if !loomerr.OfKind(err, loomerr.KindPhantomMerge) {
		t.Errorf("expected KindPhantomMerge, got %v", err)
	}
}

func TestVerifyMergeSucceeded_EmptyCommit(t *testing.T) {
	fr := newFakeRunner()
	b := NewWithRunner("/repo", "/repo/.worktrees", fr)

	err := b.VerifyMergeSucceeded("stage-a", "", "main")
	if !loomerr.OfKind(err, loomerr.KindPhantomMerge) {
		t.Errorf("expected KindPhantomMerge for empty commit, got %v", err)
	}
}

func TestGetOrCreateWorktree_Idempotent(t *testing.T) {
	fr := newFakeRunner()
	dir := t.TempDir()
	b := NewWithRunner("/repo", dir, fr)

	wt1, err := b.GetOrCreateWorktree("stage-a", "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wt1.BranchName != "loom/stage-a" {
		t.Errorf("branch = %q, want loom/stage-a", wt1.BranchName)
	}

	// The fake runner creates no directory; make the worktree path exist so
	// the second call finds it and returns it as-is.
	if err := os.MkdirAll(wt1.Path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	wt2, err := b.GetOrCreateWorktree("stage-a", "main")
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if wt2.Path != wt1.Path || wt2.BranchName != wt1.BranchName {
		t.Errorf("second call = %+v, want %+v", wt2, wt1)
	}
}
