package gitbridge

import "fmt"

// fakeRunner is a hand-written test double, matching the teacher's own
// preference for scripted fakes over a mocking framework (none appears
// anywhere in the pack).
type fakeRunner struct {
	currentBranch string
	headByBranch  map[string]string
	branches      map[string]bool
	mergeErr      error
	conflicts     []string
	ancestors     map[string]map[string]bool

	runCalls []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		headByBranch: map[string]string{},
		branches:     map[string]bool{},
		ancestors:    map[string]map[string]bool{},
	}
}

func (f *fakeRunner) Run(args ...string) (string, error) {
	f.runCalls = append(f.runCalls, fmt.Sprint(args))
	if len(args) >= 2 && args[0] == "rev-parse" && args[1] == "HEAD" {
		return f.headByBranch[f.currentBranch], nil
	}
	return "", nil
}

func (f *fakeRunner) CurrentBranch() (string, error) { return f.currentBranch, nil }
func (f *fakeRunner) DefaultBranch() (string, error) { return "main", nil }
func (f *fakeRunner) CreateBranch(name string) error { f.branches[name] = true; return nil }
func (f *fakeRunner) CreateAndCheckoutBranch(name string) error {
	f.branches[name] = true
	f.currentBranch = name
	return nil
}
func (f *fakeRunner) CheckoutBranch(name string) error { f.currentBranch = name; return nil }
func (f *fakeRunner) BranchExists(name string) (bool, error) { return f.branches[name], nil }
func (f *fakeRunner) DeleteBranch(name string) error { delete(f.branches, name); return nil }

func (f *fakeRunner) Status() (string, error) { return "", nil }
func (f *fakeRunner) HasChanges() (bool, error) { return false, nil }
func (f *fakeRunner) ChangedFilesBetween(ref1, ref2 string) ([]string, error) {
	return []string{"a.go"}, nil
}
func (f *fakeRunner) ConflictedFiles() ([]string, error) { return f.conflicts, nil }

func (f *fakeRunner) Add(paths ...string) error    { return nil }
func (f *fakeRunner) Commit(message string) error  { return nil }

func (f *fakeRunner) MergeNoFF(branch string) error { return f.mergeErr }
func (f *fakeRunner) MergeNoFFMessage(branch, message string) error {
	if f.mergeErr == nil {
		f.headByBranch[f.currentBranch] = "merged-" + branch
	}
	return f.mergeErr
}
func (f *fakeRunner) MergeAbort() error { return nil }
func (f *fakeRunner) MergeBase(b1, b2 string) (string, error) { return "base", nil }
func (f *fakeRunner) IsAncestor(ancestor, descendant string) (bool, error) {
	branch, ok := f.ancestors[descendant]
	if !ok {
		return false, nil
	}
	return branch[ancestor], nil
}
func (f *fakeRunner) Rebase(base string) error { return nil }
func (f *fakeRunner) RebaseAbort() error       { return nil }

func (f *fakeRunner) WorktreeAddNewBranch(path, branch string) error {
	f.branches[branch] = true
	return nil
}
func (f *fakeRunner) WorktreeRemove(path string, force bool) error { return nil }
func (f *fakeRunner) WorktreeListPorcelain() (string, error)       { return "", nil }
func (f *fakeRunner) WorktreePruneExpireNow() error                { return nil }

var _ Runner = (*fakeRunner)(nil)
