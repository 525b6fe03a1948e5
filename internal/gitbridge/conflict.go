package gitbridge

import (
	"path/filepath"

	"github.com/loomorch/loom/internal/loomerr"
)

const conflictBranchPrefix = "loom/_resolve/"

func conflictBranchFor(stageID string) string {
	return conflictBranchPrefix + stageID
}

func conflictWorktreePath(baseDir, stageID string) string {
	return filepath.Join(baseDir, "_resolve_"+stageID)
}

// PrepareConflictWorktree sets up an isolated worktree in which a
// merge-resolution session can see and fix the conflict markers left by a
// stage's failed auto-merge. Unlike Merge, it does not abort on conflict —
// conflict markers are the whole point. Each worktree gets its own Runner
// since per-worktree git state (HEAD, index, MERGE_HEAD) is independent of
// the main checkout.
func (b *Bridge) PrepareConflictWorktree(stageID, source, target string) (*Worktree, []string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	branch := conflictBranchFor(stageID)
	path := conflictWorktreePath(b.baseDir, stageID)

	if exists, _ := b.git.BranchExists(branch); exists {
		_ = b.git.DeleteBranch(branch)
	}
	if err := b.git.CheckoutBranch(target); err != nil {
		return nil, nil, loomerr.ExternalTransient("gitbridge.PrepareConflictWorktree", "checkout target", err)
	}
	if err := b.git.WorktreeAddNewBranch(path, branch); err != nil {
		return nil, nil, loomerr.ExternalTransient("gitbridge.PrepareConflictWorktree", "worktree add", err)
	}

	wtRunner := NewRunner(path)
	mergeErr := wtRunner.MergeNoFFMessage(source, "merge "+source+" into "+target+" (conflict resolution)")
	if mergeErr == nil {
		// No actual conflict this time around (raced with an upstream fix);
		// the caller still gets a clean worktree ready to finalize.
		return &Worktree{Path: path, BranchName: branch, StageID: stageID}, nil, nil
	}

	conflicts, err := wtRunner.ConflictedFiles()
	if err != nil {
		return nil, nil, loomerr.ExternalTransient("gitbridge.PrepareConflictWorktree", "list conflicts", err)
	}
	return &Worktree{Path: path, BranchName: branch, StageID: stageID}, conflicts, nil
}

// FinalizeConflictResolution is called once a resolver session has
// committed a conflict-free resolution in its worktree. It merges the
// resolved branch into target with a --no-ff merge commit, returns the
// new HEAD of target, and tears the worktree down.
func (b *Bridge) FinalizeConflictResolution(stageID, target string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	branch := conflictBranchFor(stageID)
	path := conflictWorktreePath(b.baseDir, stageID)

	if err := b.git.CheckoutBranch(target); err != nil {
		return "", loomerr.ExternalTransient("gitbridge.FinalizeConflictResolution", "checkout target", err)
	}
	if err := b.git.MergeNoFFMessage(branch, "merge resolved conflict for "+stageID); err != nil {
		_ = b.git.MergeAbort()
		return "", loomerr.ExternalFatal("gitbridge.FinalizeConflictResolution",
			"resolved branch still conflicts on target", err)
	}
	commit, err := b.git.Run("rev-parse", "HEAD")
	if err != nil {
		return "", loomerr.ExternalTransient("gitbridge.FinalizeConflictResolution", "rev-parse HEAD", err)
	}

	_ = b.git.WorktreeRemove(path, true)
	_ = b.git.DeleteBranch(branch)
	return commit, nil
}

// AbandonConflictResolution tears down a conflict-resolution worktree
// without finalizing, used when a resolver session itself crashes or the
// stage is escalated to a human instead.
func (b *Bridge) AbandonConflictResolution(stageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := conflictWorktreePath(b.baseDir, stageID)
	branch := conflictBranchFor(stageID)
	if err := b.git.WorktreeRemove(path, true); err != nil {
		return loomerr.ExternalTransient("gitbridge.AbandonConflictResolution", "worktree remove", err)
	}
	_ = b.git.DeleteBranch(branch)
	return nil
}

// ConflictWorktreePath exposes the deterministic path so the orchestrator
// can hand it to the Session Backend without re-deriving the naming rule.
func (b *Bridge) ConflictWorktreePath(stageID string) string {
	return conflictWorktreePath(b.baseDir, stageID)
}
