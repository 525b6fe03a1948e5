package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/loomorch/loom/internal/gitbridge"
	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/store"
)

// fakeGitRunner is a scripted gitbridge.Runner double, in the pack's
// hand-written-fake style (no mocking framework appears anywhere in it).
// Unlike gitbridge's own internal fake, this one tracks just enough state
// for the merge engine to see a genuine before/after HEAD change and a
// clean ancestry check, so a scripted "clean auto-merge" run doesn't trip
// the phantom-merge guard on an empty commit SHA.
type fakeGitRunner struct {
	currentBranch string
	heads         map[string]string
	branches      map[string]bool
	mergeCounter  int
	conflicts     []string
	notAncestor   bool
}

func newFakeGitRunner() *fakeGitRunner {
	return &fakeGitRunner{
		currentBranch: "main",
		heads:         map[string]string{"HEAD": "sha-main-0"},
		branches:      map[string]bool{"main": true},
	}
}

func (f *fakeGitRunner) Run(args ...string) (string, error) {
	if len(args) == 2 && args[0] == "rev-parse" {
		ref := args[1]
		if sha, ok := f.heads[ref]; ok {
			return sha, nil
		}
		return "sha-" + ref, nil
	}
	return "", nil
}

func (f *fakeGitRunner) CurrentBranch() (string, error) { return f.currentBranch, nil }
func (f *fakeGitRunner) DefaultBranch() (string, error) { return "main", nil }
func (f *fakeGitRunner) CreateBranch(name string) error { f.branches[name] = true; return nil }
func (f *fakeGitRunner) CreateAndCheckoutBranch(name string) error {
	f.branches[name] = true
	f.currentBranch = name
	return nil
}
func (f *fakeGitRunner) CheckoutBranch(name string) error { f.currentBranch = name; return nil }
func (f *fakeGitRunner) BranchExists(name string) (bool, error) { return f.branches[name], nil }
func (f *fakeGitRunner) DeleteBranch(name string) error { delete(f.branches, name); return nil }

func (f *fakeGitRunner) Status() (string, error)      { return "", nil }
func (f *fakeGitRunner) HasChanges() (bool, error)    { return false, nil }
func (f *fakeGitRunner) ChangedFilesBetween(a, b string) ([]string, error) {
	return []string{"stage_output.txt"}, nil
}
func (f *fakeGitRunner) ConflictedFiles() ([]string, error) { return f.conflicts, nil }

func (f *fakeGitRunner) Add(paths ...string) error   { return nil }
func (f *fakeGitRunner) Commit(message string) error { return nil }

func (f *fakeGitRunner) MergeNoFF(branch string) error { return nil }
func (f *fakeGitRunner) MergeNoFFMessage(branch, message string) error {
	if len(f.conflicts) > 0 {
		return fmt.Errorf("conflict merging %s", branch)
	}
	f.mergeCounter++
	f.heads["HEAD"] = fmt.Sprintf("sha-merged-%s-%d", branch, f.mergeCounter)
	return nil
}
func (f *fakeGitRunner) MergeAbort() error { f.conflicts = nil; return nil }
func (f *fakeGitRunner) MergeBase(a, b string) (string, error) { return "sha-base", nil }
func (f *fakeGitRunner) IsAncestor(ancestor, descendant string) (bool, error) {
	return !f.notAncestor, nil
}
func (f *fakeGitRunner) Rebase(base string) error { return nil }
func (f *fakeGitRunner) RebaseAbort() error       { return nil }

func (f *fakeGitRunner) WorktreeAddNewBranch(path, branch string) error {
	f.branches[branch] = true
	return nil
}
func (f *fakeGitRunner) WorktreeRemove(path string, force bool) error { return nil }
func (f *fakeGitRunner) WorktreeListPorcelain() (string, error)       { return "", nil }
func (f *fakeGitRunner) WorktreePruneExpireNow() error                { return nil }

var _ gitbridge.Runner = (*fakeGitRunner)(nil)

func newTestOrchestrator(t *testing.T) (*Orchestrator, store.Store, *sessionbackend.StubBackend, *fakeGitRunner) {
	t.Helper()
	tmp := t.TempDir()
	workRoot := tmp + "/.work"
	if err := store.Init(workRoot); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	st := store.New(workRoot)
	runner := newFakeGitRunner()
	git := gitbridge.NewWithRunner(tmp, tmp+"/.worktrees", runner)
	backend := sessionbackend.NewStub()

	o := New(Config{
		Store:    st,
		Git:      git,
		Backend:  backend,
		RepoRoot: tmp,
	}, WithPollInterval(time.Millisecond), WithAutoMergeDefault(true))

	return o, st, backend, runner
}

// completeStage simulates the agent's own side of the contract (§4.G.2):
// by the time Monitor observes StageCompleted, the stage document already
// has Status=Completed on disk.
func completeStage(t *testing.T, st store.Store, id string) {
	t.Helper()
	stg, err := st.LoadStage(id)
	if err != nil {
		t.Fatalf("LoadStage(%s): %v", id, err)
	}
	if err := store.Transition(stg, store.StageCompleted, func() time.Time { return time.Now().UTC() }); err != nil {
		t.Fatalf("transition %s to Completed: %v", id, err)
	}
	if err := st.SaveStage(stg); err != nil {
		t.Fatalf("SaveStage(%s): %v", id, err)
	}
}

func tickUntil(t *testing.T, o *Orchestrator, ctx context.Context, cond func() bool, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return
		}
		if _, err := o.tick(ctx); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	t.Fatalf("condition not met after %d ticks", maxTicks)
}

// TestOrchestrator_LinearChainCleanAutoMerge is spec.md §8 scenario 1: a
// two-stage chain [A, B<-A] where both stages complete cleanly. Expected:
// A merges and unblocks B, and both end Completed with merged=true.
func TestOrchestrator_LinearChainCleanAutoMerge(t *testing.T) {
	o, st, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	now := func() time.Time { return time.Now().UTC() }
	a := &store.Stage{ID: "A", Name: "stage a", Status: store.StageWaitingForDeps, CreatedAt: now(), UpdatedAt: now()}
	b := &store.Stage{ID: "B", Name: "stage b", Status: store.StageWaitingForDeps, DependsOn: []string{"A"}, CreatedAt: now(), UpdatedAt: now()}
	if err := st.SaveStage(a); err != nil {
		t.Fatalf("SaveStage A: %v", err)
	}
	if err := st.SaveStage(b); err != nil {
		t.Fatalf("SaveStage B: %v", err)
	}

	if err := o.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Tick until A starts executing, then complete it and let the merge
	// engine run and unblock B.
	tickUntil(t, o, ctx, func() bool {
		stg, _ := st.LoadStage("A")
		return stg.Status == store.StageExecuting
	}, 10)
	completeStage(t, st, "A")

	tickUntil(t, o, ctx, func() bool {
		stg, _ := st.LoadStage("A")
		return stg.Status == store.StageCompleted && stg.Merged
	}, 10)

	tickUntil(t, o, ctx, func() bool {
		stg, _ := st.LoadStage("B")
		return stg.Status == store.StageExecuting
	}, 10)
	completeStage(t, st, "B")

	tickUntil(t, o, ctx, func() bool {
		stg, _ := st.LoadStage("B")
		return stg.Status == store.StageCompleted && stg.Merged
	}, 10)

	finalA, err := st.LoadStage("A")
	if err != nil {
		t.Fatalf("LoadStage A: %v", err)
	}
	finalB, err := st.LoadStage("B")
	if err != nil {
		t.Fatalf("LoadStage B: %v", err)
	}
	if finalA.Status != store.StageCompleted || !finalA.Merged {
		t.Fatalf("expected A Completed+merged, got %s merged=%v", finalA.Status, finalA.Merged)
	}
	if finalB.Status != store.StageCompleted || !finalB.Merged {
		t.Fatalf("expected B Completed+merged, got %s merged=%v", finalB.Status, finalB.Merged)
	}

	done, err := o.tick(ctx)
	if err != nil {
		t.Fatalf("final tick: %v", err)
	}
	if !done {
		t.Fatal("expected graph to report complete with no sessions running")
	}
}

// TestOrchestrator_PhantomMergeDetection is spec.md §8 scenario 3: the Git
// Bridge reports a successful merge but VerifyMergeSucceeded's ancestry
// check fails. Expected: merged stays false and the stage lands in
// MergeBlocked rather than Completed+merged.
func TestOrchestrator_PhantomMergeDetection(t *testing.T) {
	o, st, _, runner := newTestOrchestrator(t)
	ctx := context.Background()
	runner.notAncestor = true

	now := func() time.Time { return time.Now().UTC() }
	a := &store.Stage{ID: "A", Name: "stage a", Status: store.StageWaitingForDeps, CreatedAt: now(), UpdatedAt: now()}
	if err := st.SaveStage(a); err != nil {
		t.Fatalf("SaveStage A: %v", err)
	}
	if err := o.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	tickUntil(t, o, ctx, func() bool {
		stg, _ := st.LoadStage("A")
		return stg.Status == store.StageExecuting
	}, 10)
	completeStage(t, st, "A")

	tickUntil(t, o, ctx, func() bool {
		stg, _ := st.LoadStage("A")
		return stg.Status == store.StageMergeBlocked
	}, 10)

	stg, err := st.LoadStage("A")
	if err != nil {
		t.Fatalf("LoadStage A: %v", err)
	}
	if stg.Merged {
		t.Fatal("expected merged to remain false after a phantom merge")
	}
}

// TestOrchestrator_OrphanRecovery is spec.md §8 scenario 4: a stage left
// Executing whose session's external process is no longer alive. Expected:
// the stage resets to Queued, the session and signal are removed.
func TestOrchestrator_OrphanRecovery(t *testing.T) {
	o, st, backend, _ := newTestOrchestrator(t)

	now := time.Now().UTC()
	stg := &store.Stage{
		ID: "A", Name: "stage a", Status: store.StageExecuting,
		Session: "sess-1", CreatedAt: now, UpdatedAt: now, AttemptStartedAt: &now,
	}
	if err := st.SaveStage(stg); err != nil {
		t.Fatalf("SaveStage: %v", err)
	}
	sess := &store.Session{ID: "sess-1", StageID: "A", ExternalName: "dead-external", Status: store.SessionRunning, CreatedAt: now, UpdatedAt: now}
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if _, err := st.WriteSignal(sess.ID, "stale signal"); err != nil {
		t.Fatalf("WriteSignal: %v", err)
	}
	backend.SetRunning("dead-external", false)

	if err := o.sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := o.recoverOrphans(); err != nil {
		t.Fatalf("recoverOrphans: %v", err)
	}

	reloaded, err := st.LoadStage("A")
	if err != nil {
		t.Fatalf("LoadStage: %v", err)
	}
	if reloaded.Status != store.StageQueued {
		t.Fatalf("expected Queued after orphan recovery, got %s", reloaded.Status)
	}
	if reloaded.Session != "" {
		t.Fatalf("expected session cleared, got %q", reloaded.Session)
	}

	if _, err := st.LoadSession("sess-1"); err == nil {
		t.Fatal("expected orphaned session document to be removed")
	}
}
