// Package gitbridge is the only package that shells out to git. It owns
// worktree lifecycle, branch derivation, merge execution with
// phantom-merge verification, and conflict inspection.
package gitbridge

// BranchOperations covers branch lifecycle.
type BranchOperations interface {
	CurrentBranch() (string, error)
	DefaultBranch() (string, error)
	CreateBranch(name string) error
	CreateAndCheckoutBranch(name string) error
	CheckoutBranch(name string) error
	BranchExists(name string) (bool, error)
	DeleteBranch(name string) error
}

// DiffOperations covers status/diff introspection.
type DiffOperations interface {
	Status() (string, error)
	HasChanges() (bool, error)
	ChangedFilesBetween(ref1, ref2 string) ([]string, error)
	ConflictedFiles() ([]string, error)
}

// CommitOperations covers staging and committing.
type CommitOperations interface {
	Add(paths ...string) error
	Commit(message string) error
}

// MergeOperations covers merge, rebase, and ancestry checks.
type MergeOperations interface {
	MergeNoFF(branch string) error
	MergeNoFFMessage(branch, message string) error
	MergeAbort() error
	MergeBase(branch1, branch2 string) (string, error)
	IsAncestor(ancestor, descendant string) (bool, error)
	Rebase(base string) error
	RebaseAbort() error
}

// WorktreeOperations covers worktree lifecycle.
type WorktreeOperations interface {
	WorktreeAddNewBranch(path, branch string) error
	WorktreeRemove(path string, force bool) error
	WorktreeListPorcelain() (string, error)
	WorktreePruneExpireNow() error
}

// Runner is the full set of git operations gitbridge needs. ExecRunner is
// the production implementation; tests substitute a fake.
type Runner interface {
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	Run(args ...string) (string, error)
}
