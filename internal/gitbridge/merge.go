package gitbridge

import (
	"strings"

	"github.com/loomorch/loom/internal/loomerr"
)

// MergeStatus is the closed set of merge outcomes (§4.C).
type MergeStatus string

const (
	MergeSuccess        MergeStatus = "success"
	MergeFastForward    MergeStatus = "fast_forward"
	MergeAlreadyCurrent MergeStatus = "already_up_to_date"
	MergeConflicted     MergeStatus = "conflict"
)

// MergeOutcome is the sum-type result of attempting to merge one stage's
// branch into its target integration branch.
type MergeOutcome struct {
	Status        MergeStatus
	Commit        string
	ChangedFiles  []string
	ConflictFiles []string
}

// Merge attempts to merge source into target with --no-ff, returning a
// typed outcome instead of a bare error. A merge conflict is not itself a
// Go error — it's an expected, modeled outcome the orchestrator's
// auto-merge engine reacts to.
func (b *Bridge) Merge(source, target, message string) (*MergeOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.git.CheckoutBranch(target); err != nil {
		return nil, loomerr.ExternalTransient("gitbridge.Merge", "checkout target "+target, err)
	}

	before, err := b.git.Run("rev-parse", "HEAD")
	if err != nil {
		return nil, loomerr.ExternalTransient("gitbridge.Merge", "rev-parse before merge", err)
	}

	mergeErr := b.git.MergeNoFFMessage(source, message)
	if mergeErr == nil {
		after, err := b.git.Run("rev-parse", "HEAD")
		if err != nil {
			return nil, loomerr.ExternalTransient("gitbridge.Merge", "rev-parse after merge", err)
		}
		if after == before {
			return &MergeOutcome{Status: MergeAlreadyCurrent, Commit: after}, nil
		}
		changed, _ := b.git.ChangedFilesBetween(before, after)
		return &MergeOutcome{Status: MergeSuccess, Commit: after, ChangedFiles: changed}, nil
	}

	conflicts, _ := b.git.ConflictedFiles()
	if err := b.git.MergeAbort(); err != nil {
		return nil, loomerr.ExternalFatal("gitbridge.Merge", "abort failed merge", err)
	}
	return &MergeOutcome{Status: MergeConflicted, ConflictFiles: conflicts}, nil
}

// VerifyMergeSucceeded checks that commit is actually reachable from
// target, guarding against a phantom merge: a stage recorded Completed +
// merged whose commit was since rewritten out of the branch (force-push,
// branch reset, rebase of target) without the Store being told.
func (b *Bridge) VerifyMergeSucceeded(stageID, commit, target string) error {
	if commit == "" {
		return loomerr.PhantomMerge("gitbridge.VerifyMergeSucceeded", stageID, "", target)
	}
	ok, err := b.git.IsAncestor(commit, target)
	if err != nil {
		return loomerr.ExternalTransient("gitbridge.VerifyMergeSucceeded", "check ancestry", err)
	}
	if !ok {
		return loomerr.PhantomMerge("gitbridge.VerifyMergeSucceeded", stageID, commit, target)
	}
	return nil
}

// HasMergeConflicts reports whether the working tree currently holds
// unresolved conflict markers.
func (b *Bridge) HasMergeConflicts() (bool, error) {
	status, err := b.git.Status()
	if err != nil {
		return false, loomerr.ExternalTransient("gitbridge.HasMergeConflicts", "status", err)
	}
	for _, line := range strings.Split(status, "\n") {
		if len(line) >= 2 {
			switch line[:2] {
			case "UU", "AA", "DD", "AU", "UA", "DU", "UD":
				return true, nil
			}
		}
	}
	return false, nil
}

// ConflictingFiles returns the paths with unresolved conflict markers.
func (b *Bridge) ConflictingFiles() ([]string, error) {
	files, err := b.git.ConflictedFiles()
	if err != nil {
		return nil, loomerr.ExternalTransient("gitbridge.ConflictingFiles", "conflicted files", err)
	}
	return files, nil
}

// CommitAll stages every path and commits with message, used by a merge
// resolver session finalizing a conflict fix.
func (b *Bridge) CommitAll(message string) error {
	if err := b.git.Add("."); err != nil {
		return loomerr.ExternalTransient("gitbridge.CommitAll", "add", err)
	}
	if err := b.git.Commit(message); err != nil {
		return loomerr.ExternalTransient("gitbridge.CommitAll", "commit", err)
	}
	return nil
}
