package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/signal"
	"github.com/loomorch/loom/internal/store"
)

// startReadyStages starts every stage the Graph reports ready, up to the
// remaining parallelism slots (§4.G.1 step 3a). The dependency-gated
// WaitingForDeps -> Queued edge (§3.2 "Merge gating invariant") is applied
// the instant a stage becomes ready; a stage can also already be sitting in
// Queued from an earlier tick that ran out of slots, or from a
// NeedsHandoff/Blocked/Held resume — those are picked up here too.
func (o *Orchestrator) startReadyStages(ctx context.Context) error {
	for _, stg := range o.graph.ReadyStages() {
		if err := o.promoteToQueued(stg); err != nil {
			return err
		}
	}

	o.mu.Lock()
	slots := o.maxParallel - len(o.running)
	o.mu.Unlock()
	if slots <= 0 {
		return nil
	}

	var queued []*store.Stage
	for _, stg := range o.graph.AllStages() {
		if stg.Status == store.StageQueued {
			queued = append(queued, stg)
		}
	}

	for i, stg := range queued {
		if i >= slots {
			break
		}
		if err := o.startStage(ctx, stg); err != nil {
			return err
		}
	}
	return nil
}

// promoteToQueued applies the WaitingForDeps -> Queued edge the moment a
// stage's dependencies are all Completed ∧ merged (§3.2, §4.B).
func (o *Orchestrator) promoteToQueued(stg *store.Stage) error {
	if stg.Status != store.StageWaitingForDeps {
		return nil
	}
	if err := store.Transition(stg, store.StageQueued, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	return nil
}

// startStage performs the full sequence of §4.G.1's "Starting a stage"
// paragraph: worktree, session, signal, spawn, persist, transition. stg
// must already be Queued.
func (o *Orchestrator) startStage(ctx context.Context, stg *store.Stage) error {
	base, err := o.resolveBase(stg)
	if err != nil {
		return err
	}
	stg.BaseBranch = base

	var worktreePath string
	if stg.StageType != store.StageTypeKnowledge {
		wt, err := o.git.GetOrCreateWorktree(stg.ID, base)
		if err != nil {
			return o.blockStage(stg, "external_transient", err.Error())
		}
		worktreePath = wt.Path
		stg.Worktree = wt.Path
	} else {
		worktreePath = o.repoRoot
	}

	sess := &store.Session{
		ID:                uuid.New().String(),
		StageID:           stg.ID,
		Status:            store.SessionSpawning,
		ContextTokenLimit: o.contextTokenLimit,
		CreatedAt:         o.now(),
		UpdatedAt:         o.now(),
	}

	renderInput, err := o.buildRenderInput(stg)
	if err != nil {
		return err
	}

	sig, metrics := o.signals.Render(stg, sess, renderInput)
	sigPath, err := o.st.WriteSignal(sess.ID, sig.Text())
	if err != nil {
		return err
	}
	o.log("[start_stage] rendered signal for %s: %d bytes (~%d tokens), stable_prefix=%s",
		stg.ID, metrics.TotalBytes, metrics.EstimatedTokens, metrics.StablePrefixHash)

	if err := o.st.SnapshotLearnings(sess.ID); err != nil {
		return err
	}

	cfg := sessionbackend.Config{
		ContextTokenLimit: o.contextTokenLimit,
		Command:           o.agentCommand,
	}
	spawned, err := o.backend.SpawnSession(stg, worktreePath, sigPath, cfg)
	if err != nil {
		return o.blockStage(stg, "external_transient", err.Error())
	}
	sess.ExternalName = spawned.ExternalName
	sess.Status = store.SessionRunning

	if err := o.st.SaveSession(sess); err != nil {
		return err
	}

	stg.Session = sess.ID
	if err := store.Transition(stg, store.StageExecuting, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)

	o.mu.Lock()
	o.running[stg.ID] = sess.ID
	o.started[stg.ID] = o.now()
	o.mu.Unlock()

	o.log("[start_stage] stage %s -> executing (session %s)", stg.ID, sess.ID)
	return nil
}

// resolveBase implements §4.G.3's base-resolution rule: a single
// dependency's own branch, a disposable merged base for more than one
// dependency, or the repository's default (target) branch for a root
// stage.
func (o *Orchestrator) resolveBase(stg *store.Stage) (string, error) {
	deps := stg.DependsOn
	switch len(deps) {
	case 0:
		target, err := o.git.DefaultBranch()
		if err != nil {
			return "", err
		}
		return target, nil
	case 1:
		return "loom/" + deps[0], nil
	default:
		var branches []string
		for _, d := range deps {
			branches = append(branches, "loom/"+d)
		}
		return o.git.CreateMergedBase(stg.ID, branches)
	}
}

// buildRenderInput gathers everything the Signal Assembler needs beyond
// the Stage/Session records: the dependency-status table, the previous
// handoff if one exists, and the session's running memory journal.
func (o *Orchestrator) buildRenderInput(stg *store.Stage) (signal.RenderInput, error) {
	var deps []signal.DependencyStatus
	for _, depID := range stg.DependsOn {
		dep, err := o.st.LoadStage(depID)
		if err != nil {
			return signal.RenderInput{}, err
		}
		deps = append(deps, signal.DependencyStatus{
			StageID: dep.ID,
			Status:  dep.Status,
			Merged:  dep.Merged,
			Outputs: dep.Outputs,
		})
	}

	handoff, err := o.st.LatestHandoff(stg.ID)
	if err != nil {
		return signal.RenderInput{}, err
	}

	var mem *store.MemoryEntry
	if stg.Session != "" {
		mem, err = o.st.LoadMemory(stg.Session)
		if err != nil {
			return signal.RenderInput{}, err
		}
	}

	return signal.RenderInput{
		DependencyTable: deps,
		PreviousHandoff: handoff,
		Memory:          mem,
		ContextBudget:   o.contextTokenLimit,
	}, nil
}

// blockStage transitions stg to Blocked with populated failure info,
// used when a worktree or spawn call fails outright. The caller's kind is
// recorded as given; startStage passes external_transient, which the
// retry policy treats as retryable.
func (o *Orchestrator) blockStage(stg *store.Stage, kind, msg string) error {
	ts := o.now()
	stg.FailureInfo = &store.FailureInfo{Kind: kind, Message: msg, OccuredAt: ts}
	stg.LastFailureAt = &ts
	if err := store.Transition(stg, store.StageBlocked, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[start_stage] stage %s blocked: %s", stg.ID, msg)
	return nil
}
