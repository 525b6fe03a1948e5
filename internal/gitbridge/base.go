package gitbridge

import (
	"fmt"

	"github.com/loomorch/loom/internal/loomerr"
)

// basePrefix namespaces the disposable merged-base branches created for
// stages with more than one dependency (§4.G.3 "Base resolution for
// dependents").
const basePrefix = "loom/_base/"

// BaseBranchFor returns the disposable merged-base branch name for stageID.
func BaseBranchFor(stageID string) string {
	return basePrefix + stageID
}

// CreateMergedBase builds (or rebuilds) a disposable branch that merges
// every branch in depBranches in order, for a stage with more than one
// dependency. It returns the new branch name, or a *loomerr.Error of kind
// external_fatal if a merge between two dependency branches conflicts —
// the spec has no conflict-resolution path for base construction itself,
// only for a stage's own auto-merge, so this is treated as fatal rather
// than routed through MergeConflict.
func (b *Bridge) CreateMergedBase(stageID string, depBranches []string) (string, error) {
	if len(depBranches) == 0 {
		return "", loomerr.Validation("gitbridge.CreateMergedBase", "no dependency branches given", nil)
	}

	base := BaseBranchFor(stageID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if exists, _ := b.git.BranchExists(base); exists {
		if err := b.git.DeleteBranch(base); err != nil {
			return "", loomerr.ExternalFatal("gitbridge.CreateMergedBase", "delete stale base branch", err)
		}
	}

	if err := b.git.CheckoutBranch(depBranches[0]); err != nil {
		return "", loomerr.ExternalTransient("gitbridge.CreateMergedBase", "checkout first dependency", err)
	}
	if err := b.git.CreateAndCheckoutBranch(base); err != nil {
		return "", loomerr.ExternalFatal("gitbridge.CreateMergedBase", "create base branch", err)
	}

	for _, branch := range depBranches[1:] {
		msg := fmt.Sprintf("merge %s into %s", branch, base)
		if err := b.git.MergeNoFFMessage(branch, msg); err != nil {
			conflicts, _ := b.git.ConflictedFiles()
			_ = b.git.MergeAbort()
			return "", loomerr.ExternalFatal("gitbridge.CreateMergedBase",
				fmt.Sprintf("merging %s into disposable base %s conflicts on %v", branch, base, conflicts), err)
		}
	}

	return base, nil
}
