package orchestrator

import (
	"context"
	"time"

	"github.com/loomorch/loom/internal/graph"
	"github.com/loomorch/loom/internal/store"
)

// Run executes the scheduling loop of §4.G.1 until ctx is cancelled, Stop
// is called, or the Graph is complete with no work left to recover. It
// mirrors the teacher's runLoop select-over-completion-and-default-schedule
// shape, generalized from a single completion channel to the Monitor's
// typed event stream.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.sync(); err != nil {
		return err
	}
	if err := o.recoverOrphans(); err != nil {
		return err
	}

	statusTick := time.NewTicker(o.statusInterval)
	defer statusTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.shutdown:
			return nil
		case <-statusTick.C:
			o.reportProgress()
		default:
		}

		done, err := o.tick(ctx)
		if err != nil {
			return err
		}
		if done {
			o.log("[run_loop] graph complete, no sessions running")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.shutdown:
			return nil
		case <-time.After(o.pollInterval):
		}
	}
}

// tick performs one scheduling pass: re-check Blocked stages against the
// retry policy, start ready stages up to the parallelism cap, spawn
// merge-resolution sessions, fold Monitor events back into Graph+Store.
// It returns done=true only when nothing remains runnable and nothing is
// currently executing.
func (o *Orchestrator) tick(ctx context.Context) (bool, error) {
	for _, g := range o.graph.AllStages() {
		if g.Status != store.StageBlocked {
			continue
		}
		stg, err := o.st.LoadStage(g.ID)
		if err != nil {
			return false, err
		}
		if err := o.maybeRetry(stg); err != nil {
			return false, err
		}
	}
	if err := o.startReadyStages(ctx); err != nil {
		return false, err
	}
	if err := o.spawnMergeResolutions(ctx); err != nil {
		return false, err
	}

	events, err := o.monitor.Tick()
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if err := o.applyEvent(ev); err != nil {
			return false, err
		}
	}

	o.mu.Lock()
	runningCount := len(o.running)
	o.mu.Unlock()

	if runningCount > 0 {
		return false, nil
	}
	return o.graphComplete(), nil
}

// graphComplete reports whether every stage has reached a terminal state
// (Completed or Skipped). A stage left in any other state, including one
// that waits on a human (Blocked, MergeBlocked, NeedsHumanReview), keeps
// the graph incomplete, so Run keeps polling until that stage moves on.
func (o *Orchestrator) graphComplete() bool {
	for _, stg := range o.graph.AllStages() {
		switch stg.Status {
		case store.StageCompleted, store.StageSkipped:
			continue
		default:
			return false
		}
	}
	return true
}

// sync reconciles the Graph with on-disk stage status (§4.G.1 step 1),
// delegating to graph.LoadFromStore for the depth-drift rename pass.
func (o *Orchestrator) sync() error {
	g, renamed, err := graph.LoadFromStore(o.st)
	if err != nil {
		return err
	}
	o.graph = g
	for _, id := range renamed {
		o.log("[run_loop] renamed stage file for %s to match recomputed depth", id)
	}
	return nil
}

func (o *Orchestrator) reportProgress() {
	o.mu.Lock()
	fn := o.onProgress
	o.mu.Unlock()
	if fn == nil {
		return
	}
	var p Progress
	for _, stg := range o.graph.AllStages() {
		switch stg.Status {
		case store.StageExecuting:
			p.Executing++
		case store.StageCompleted:
			p.Completed++
		case store.StageBlocked, store.StageMergeBlocked, store.StageNeedsHumanReview:
			p.Blocked++
		default:
			p.Pending++
		}
	}
	fn(p)
}
