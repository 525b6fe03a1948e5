package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/store"
)

// spawnMergeResolutions implements §4.G.1 step 3b: every stage sitting in
// MergeConflict with no active resolver gets one. The resolver works in its
// own worktree carrying the unresolved merge, entirely separate from the
// stage's own worktree (which is left untouched in case the stage needs to
// be revisited).
func (o *Orchestrator) spawnMergeResolutions(ctx context.Context) error {
	for _, stg := range o.graph.AllStages() {
		if stg.Status != store.StageMergeConflict {
			continue
		}
		o.mu.Lock()
		_, active := o.mergeSessions[stg.ID]
		o.mu.Unlock()
		if active {
			continue
		}
		if err := o.startMergeResolver(stg); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) startMergeResolver(stg *store.Stage) error {
	target, err := o.git.DefaultBranch()
	if err != nil {
		return err
	}
	source := "loom/" + stg.ID

	wt, conflicts, err := o.git.PrepareConflictWorktree(stg.ID, source, target)
	if err != nil {
		return o.mergeBlock(stg, "preparing conflict worktree: "+err.Error())
	}

	sess := &store.Session{
		ID:                uuid.New().String(),
		Status:            store.SessionSpawning,
		SourceBranch:      source,
		TargetBranch:      target,
		ConflictFiles:     conflicts,
		ContextTokenLimit: o.contextTokenLimit,
		CreatedAt:         o.now(),
		UpdatedAt:         o.now(),
	}

	sigPath, err := o.st.WriteSignal(sess.ID, mergeResolutionSignal(stg, sess))
	if err != nil {
		return err
	}

	cfg := sessionbackend.Config{ContextTokenLimit: o.contextTokenLimit, Command: o.agentCommand}
	spawned, err := o.backend.SpawnMergeSession(stg, sigPath, wt.Path, cfg)
	if err != nil {
		return o.mergeBlock(stg, "spawning merge session: "+err.Error())
	}
	sess.ExternalName = spawned.ExternalName
	sess.Status = store.SessionRunning

	if err := o.st.SaveSession(sess); err != nil {
		return err
	}

	o.mu.Lock()
	o.mergeSessions[stg.ID] = sess.ID
	o.mu.Unlock()

	o.log("[conflict] spawned merge resolver %s for stage %s (%d conflicting files)", sess.ID, stg.ID, len(conflicts))
	return nil
}

// mergeResolutionSignal is a standalone briefing, not routed through the
// ordinary Signal Assembler — a conflict resolver has no stage worktree,
// acceptance criteria, or dependency table of its own, only the two
// branches and the files that collide.
func mergeResolutionSignal(stg *store.Stage, sess *store.Session) string {
	var b strings.Builder
	b.WriteString("# Merge conflict resolution\n\n")
	fmt.Fprintf(&b, "Stage `%s` (%s) completed but merging `%s` into `%s` produced conflicts.\n\n",
		stg.ID, stg.Name, sess.SourceBranch, sess.TargetBranch)
	b.WriteString("Your worktree already has the merge in progress with conflict markers in place.\n")
	b.WriteString("Resolve every conflicting file, then stage and commit the merge. Do not abort it.\n\n")
	if len(sess.ConflictFiles) > 0 {
		b.WriteString("## Conflicting files\n\n")
		for _, f := range sess.ConflictFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// onMergeSessionCompleted implements the MergeConflict -> {Completed,
// MergeBlocked} edge once a resolver session finishes (§4.G.3). Completion
// here means the resolver committed; if the worktree still shows conflict
// markers, something went wrong and the stage escalates instead.
func (o *Orchestrator) onMergeSessionCompleted(sessionID string) error {
	sess, err := o.st.LoadSession(sessionID)
	if err != nil {
		return err
	}

	var stg *store.Stage
	for _, s := range o.graph.AllStages() {
		o.mu.Lock()
		id, ok := o.mergeSessions[s.ID]
		o.mu.Unlock()
		if ok && id == sessionID {
			stg = s
			break
		}
	}
	if stg == nil {
		return nil // resolver for a stage we're no longer tracking
	}

	o.mu.Lock()
	delete(o.mergeSessions, stg.ID)
	o.mu.Unlock()
	_ = o.st.RemoveSignal(sess.ID)

	commit, err := o.git.FinalizeConflictResolution(stg.ID, sess.TargetBranch)
	if err != nil {
		o.log("[conflict] resolver for stage %s did not produce a clean merge: %v", stg.ID, err)
		return o.mergeBlock(stg, "merge resolution worktree still conflicted: "+err.Error())
	}

	stg.CompletedCommit = commit
	stg.Merged = true
	stg.MergeConflict = false
	if err := store.Transition(stg, store.StageCompleted, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[conflict] stage %s merge conflict resolved and merged into %s", stg.ID, sess.TargetBranch)
	return nil
}
