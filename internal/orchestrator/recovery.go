package orchestrator

import (
	"github.com/loomorch/loom/internal/loomerr"
	"github.com/loomorch/loom/internal/store"
)

// recoverOrphans implements §4.G.1 step 2: for every session whose external
// process is no longer alive but whose stage file still claims Executing or
// Blocked, reset the stage to Queued, clear its session assignment, remove
// the stale signal, and delete the orphaned session file. The reset is
// always observable — never a silent retry (§4.G "Never silently retry").
func (o *Orchestrator) recoverOrphans() error {
	sessions, err := o.st.ListSessions()
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if sess.StageID == "" {
			continue // merge session, not tied to a stage's orphan handling
		}
		stg, err := o.st.LoadStage(sess.StageID)
		if err != nil {
			if loomerr.OfKind(err, loomerr.KindNotFound) {
				continue
			}
			return err
		}
		if stg.Status != store.StageExecuting && stg.Status != store.StageBlocked {
			continue
		}

		alive, err := o.backend.SessionIsRunning(sess.ExternalName)
		if err != nil {
			return err
		}
		if alive {
			continue
		}

		o.log("[recovery] orphan detected: stage %s claims %s but session %s is dead", stg.ID, stg.Status, sess.ID)

		if err := store.Transition(stg, store.StageQueued, o.now); err != nil {
			return err
		}
		stg.Session = ""
		stg.Worktree = ""
		if err := o.st.SaveStage(stg); err != nil {
			return err
		}
		o.graph.UpdateStage(stg)

		if err := o.st.RemoveSignal(sess.ID); err != nil {
			return err
		}
		if err := o.st.DeleteSession(sess.ID); err != nil && !loomerr.OfKind(err, loomerr.KindNotFound) {
			return err
		}

		o.mu.Lock()
		delete(o.running, stg.ID)
		delete(o.started, stg.ID)
		o.mu.Unlock()
	}

	return nil
}
