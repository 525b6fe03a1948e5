package gitbridge

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loomorch/loom/internal/loomerr"
)

// Worktree describes one stage's isolated checkout.
type Worktree struct {
	Path       string
	BranchName string
	StageID    string
}

const stageBranchPrefix = "loom/"

// Bridge is the single entry point the orchestrator uses for all git
// access; it owns the base directory worktrees live under.
type Bridge struct {
	repoPath string
	baseDir  string
	git      Runner
	mu       sync.Mutex
}

// New returns a Bridge rooted at repoPath, creating worktrees under
// baseDir (e.g. the .worktrees directory beside the .work workspace).
func New(repoPath, baseDir string) (*Bridge, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, loomerr.IO("gitbridge.New", "create worktree base dir", err)
	}
	return &Bridge{repoPath: repoPath, baseDir: baseDir, git: NewRunner(repoPath)}, nil
}

// NewWithRunner is the test-seam constructor.
func NewWithRunner(repoPath, baseDir string, runner Runner) *Bridge {
	return &Bridge{repoPath: repoPath, baseDir: baseDir, git: runner}
}

func branchFor(stageID string) string {
	return stageBranchPrefix + stageID
}

// GetOrCreateWorktree is idempotent: if a worktree for stageID already
// exists it is returned as-is, otherwise a new loom/<stage-id> branch and
// worktree are created off base.
func (b *Bridge) GetOrCreateWorktree(stageID, base string) (*Worktree, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	branch := branchFor(stageID)
	path := filepath.Join(b.baseDir, stageID)

	if _, err := os.Stat(path); err == nil {
		return &Worktree{Path: path, BranchName: branch, StageID: stageID}, nil
	}

	if exists, err := b.git.BranchExists(branch); err == nil && exists {
		if err := b.git.DeleteBranch(branch); err != nil {
			return nil, loomerr.ExternalFatal("gitbridge.GetOrCreateWorktree", "delete stale branch "+branch, err)
		}
	}

	var addErr error
	if base != "" {
		_, addErr = b.git.Run("worktree", "add", "-b", branch, path, base)
	} else {
		addErr = b.git.WorktreeAddNewBranch(path, branch)
	}
	if addErr != nil {
		return nil, loomerr.ExternalTransient("gitbridge.GetOrCreateWorktree", "git worktree add", addErr)
	}

	return &Worktree{Path: path, BranchName: branch, StageID: stageID}, nil
}

// RemoveWorktree tears down a stage's worktree; force allows removal even
// with uncommitted changes, used when abandoning a blocked or skipped
// stage.
func (b *Bridge) RemoveWorktree(stageID string, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := filepath.Join(b.baseDir, stageID)
	if err := b.git.WorktreeRemove(path, force); err != nil {
		return loomerr.ExternalTransient("gitbridge.RemoveWorktree", "git worktree remove", err)
	}
	return nil
}

// DefaultBranch returns the repository's integration branch.
func (b *Bridge) DefaultBranch() (string, error) {
	branch, err := b.git.DefaultBranch()
	if err != nil {
		return "", loomerr.ExternalTransient("gitbridge.DefaultBranch", "resolve default branch", err)
	}
	return branch, nil
}

// ListWorktrees parses `git worktree list --porcelain`.
func (b *Bridge) ListWorktrees() ([]*Worktree, error) {
	out, err := b.git.WorktreeListPorcelain()
	if err != nil {
		return nil, loomerr.ExternalTransient("gitbridge.ListWorktrees", "list", err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(output string) []*Worktree {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
		case strings.HasPrefix(line, "worktree "):
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && current != nil:
			branch := strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			current.BranchName = branch
			if strings.HasPrefix(branch, stageBranchPrefix) {
				current.StageID = strings.TrimPrefix(branch, stageBranchPrefix)
			}
		}
	}
	if current != nil {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// RecoverOrphans removes worktrees under baseDir that belong to no stage
// in activeStageIDs — left behind by a daemon crash mid-session.
func (b *Bridge) RecoverOrphans(activeStageIDs []string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.git.WorktreePruneExpireNow()

	active := make(map[string]bool, len(activeStageIDs))
	for _, id := range activeStageIDs {
		active[id] = true
	}

	worktrees, err := b.listWorktreesLocked()
	if err != nil {
		return nil, err
	}

	var recovered []string
	for _, wt := range worktrees {
		if wt.StageID == "" || wt.Path == b.repoPath || active[wt.StageID] {
			continue
		}
		if err := b.git.WorktreeRemove(wt.Path, true); err != nil {
			_ = os.RemoveAll(wt.Path)
		}
		recovered = append(recovered, wt.StageID)
	}
	_ = b.git.WorktreePruneExpireNow()
	return recovered, nil
}

func (b *Bridge) listWorktreesLocked() ([]*Worktree, error) {
	out, err := b.git.WorktreeListPorcelain()
	if err != nil {
		return nil, loomerr.ExternalTransient("gitbridge.RecoverOrphans", "list", err)
	}
	return parseWorktreeList(out), nil
}
