package orchestrator

import (
	"fmt"

	"github.com/loomorch/loom/internal/gitbridge"
	"github.com/loomorch/loom/internal/store"
)

// onStageCompleted implements §4.G.2's post-completion sequence: the agent
// (or a human, via assume-merged completion) has already written the stage
// document with Status=Completed by the time this fires, so this only does
// the bookkeeping that follows — tear down the session, then try to merge.
func (o *Orchestrator) onStageCompleted(stageID string) error {
	stg, err := o.st.LoadStage(stageID)
	if err != nil {
		return err
	}

	if err := o.teardownSession(stg); err != nil {
		return err
	}

	if stg.Merged {
		return nil // already merged (assume-merged completion, or a prior tick finished it)
	}
	if stg.StageType == store.StageTypeKnowledge {
		stg.Merged = true
		if err := o.st.SaveStage(stg); err != nil {
			return err
		}
		o.graph.UpdateStage(stg)
		return nil
	}

	return o.autoMerge(stg)
}

// teardownSession removes a completed/abandoned stage's signal, best-effort
// kills its external process, and drops it from the in-flight bookkeeping
// maps. Safe to call more than once.
func (o *Orchestrator) teardownSession(stg *store.Stage) error {
	o.mu.Lock()
	delete(o.running, stg.ID)
	delete(o.started, stg.ID)
	o.mu.Unlock()

	if stg.Session == "" {
		return nil
	}
	sess, err := o.st.LoadSession(stg.Session)
	if err != nil {
		return nil // already cleaned up
	}
	_ = o.backend.KillSession(sess)
	return o.st.RemoveSignal(sess.ID)
}

// autoMergeEnabled resolves the three-tier priority of §4.G.3: a stage's
// own auto_merge override beats the plan's default, which beats the
// orchestrator-wide default. ForceNoMerge is a hard override above all
// three (§9 Open Question 2).
func (o *Orchestrator) autoMergeEnabled(stg *store.Stage) bool {
	if o.forceNoMerge {
		return false
	}
	if stg.AutoMerge != nil {
		return *stg.AutoMerge
	}
	if o.planAutoMerge != nil {
		return *o.planAutoMerge
	}
	return o.autoMergeDefault
}

// autoMerge implements the five-step algorithm of §4.G.3: resolve the
// target branch, attempt the merge, and react to whichever of the four
// modeled outcomes comes back.
func (o *Orchestrator) autoMerge(stg *store.Stage) error {
	if !o.autoMergeEnabled(stg) {
		o.log("[merge] auto-merge disabled for stage %s, leaving completed/unmerged", stg.ID)
		return nil
	}

	target, err := o.git.DefaultBranch()
	if err != nil {
		return err
	}

	if stg.CompletedCommit == "" {
		commit, err := o.git.BranchHead("loom/" + stg.ID)
		if err != nil {
			return err
		}
		stg.CompletedCommit = commit
	}

	source := "loom/" + stg.ID
	message := fmt.Sprintf("merge %s: %s", stg.ID, stg.Name)

	outcome, err := o.git.Merge(source, target, message)
	if err != nil {
		return o.mergeBlock(stg, "merge attempt failed: "+err.Error())
	}

	switch outcome.Status {
	case gitbridge.MergeSuccess, gitbridge.MergeFastForward, gitbridge.MergeAlreadyCurrent:
		return o.finalizeMerge(stg, target, outcome)
	case gitbridge.MergeConflicted:
		return o.startMergeConflict(stg, source, target, outcome.ConflictFiles)
	default:
		return o.mergeBlock(stg, fmt.Sprintf("unrecognized merge outcome %q", outcome.Status))
	}
}

// finalizeMerge guards against a phantom merge (§4.C) before marking the
// stage merged: the commit the agent completed against must still be
// reachable from target after the merge actually landed.
func (o *Orchestrator) finalizeMerge(stg *store.Stage, target string, outcome *gitbridge.MergeOutcome) error {
	if err := o.git.VerifyMergeSucceeded(stg.ID, stg.CompletedCommit, target); err != nil {
		o.log("[merge] phantom merge detected for stage %s: %v", stg.ID, err)
		return o.mergeBlock(stg, err.Error())
	}

	stg.Merged = true
	stg.MergeConflict = false
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[merge] stage %s merged into %s (%s)", stg.ID, target, outcome.Status)
	return nil
}

// mergeBlock transitions stg to MergeBlocked, recording why, for a failure
// that isn't a content conflict (git error, phantom merge).
func (o *Orchestrator) mergeBlock(stg *store.Stage, msg string) error {
	ts := o.now()
	stg.FailureInfo = &store.FailureInfo{Kind: FailureMergeError, Message: msg, OccuredAt: ts}
	stg.LastFailureAt = &ts
	if err := store.Transition(stg, store.StageMergeBlocked, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[merge] stage %s merge_blocked: %s", stg.ID, msg)
	return nil
}

// startMergeConflict logs the conflicting files, sets merge_conflict, and
// moves the stage to MergeConflict; spawnMergeResolutions picks it up on the next tick and
// starts a dedicated conflict-resolution session.
func (o *Orchestrator) startMergeConflict(stg *store.Stage, source, target string, conflictFiles []string) error {
	stg.MergeConflict = true
	if err := store.Transition(stg, store.StageMergeConflict, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[merge] stage %s merge_conflict on %v", stg.ID, conflictFiles)
	return nil
}
