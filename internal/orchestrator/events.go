package orchestrator

import (
	"github.com/loomorch/loom/internal/loomerr"
	"github.com/loomorch/loom/internal/monitor"
	"github.com/loomorch/loom/internal/store"
)

// applyEvent is the single reducer every Monitor event passes through
// (§4.G.2). Outside it, stage status is changed only by the start path
// (promoteToQueued, startStage, blockStage), recoverOrphans, the
// merge-resolution spawn path, and tick's sweep of Blocked stages, all on
// the run loop's goroutine, keeping the state machine single-writer.
func (o *Orchestrator) applyEvent(ev monitor.Event) error {
	switch ev.Kind {
	case monitor.EventStageCompleted:
		return o.onStageCompleted(ev.StageID)
	case monitor.EventStageBlocked:
		return o.onStageBlocked(ev.StageID)
	case monitor.EventStageEscalated:
		return o.onStageEscalated(ev.StageID)
	case monitor.EventStageWaitingForInput:
		o.log("[events] stage %s waiting for human input", ev.StageID)
		return nil
	case monitor.EventStageResumedExecution:
		o.log("[events] stage %s resumed execution", ev.StageID)
		return nil
	case monitor.EventSessionCrashed:
		return o.onSessionCrashed(ev)
	case monitor.EventSessionHung:
		return o.onSessionHung(ev)
	case monitor.EventSessionNeedsHandoff:
		return o.onSessionNeedsHandoff(ev)
	case monitor.EventContextRefreshNeeded:
		return o.onSessionNeedsHandoff(ev)
	case monitor.EventSessionContextWarning:
		o.log("[events] session %s crossed yellow context threshold", ev.SessionID)
		return nil
	case monitor.EventSessionContextCritical:
		o.log("[events] session %s crossed red context threshold, handoff written at %s", ev.SessionID, ev.HandoffPath)
		return nil
	case monitor.EventMergeSessionCompleted:
		return o.onMergeSessionCompleted(ev.SessionID)
	case monitor.EventHeartbeatReceived:
		return nil
	case monitor.EventCheckpointCreated:
		return nil
	case monitor.EventRecoveryInitiated:
		o.log("[events] recovery initiated for stage %s", ev.StageID)
		return nil
	default:
		o.log("[events] unrecognized event kind %q", ev.Kind)
		return nil
	}
}

// killSessionByID best-effort kills an external process and removes its
// signal, tolerating a session document that's already gone.
func (o *Orchestrator) killSessionByID(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	sess, err := o.st.LoadSession(sessionID)
	if err == nil {
		_ = o.backend.KillSession(sess)
	}
	if err := o.st.RemoveSignal(sessionID); err != nil {
		return err
	}
	return nil
}

// onStageBlocked reacts to a stage that is already Blocked or MergeBlocked
// on disk by the time the Monitor notices — the transition itself was
// performed by whoever detected the failure (recovery, a crash handler, or
// the merge engine). Here we only run the retry policy.
func (o *Orchestrator) onStageBlocked(stageID string) error {
	stg, err := o.st.LoadStage(stageID)
	if err != nil {
		return err
	}
	return o.maybeRetry(stg)
}

// onStageEscalated tears down whatever session was attached to a stage
// that just landed in NeedsHumanReview so it isn't left running unattended.
func (o *Orchestrator) onStageEscalated(stageID string) error {
	stg, err := o.st.LoadStage(stageID)
	if err != nil {
		return err
	}
	if stg.Session != "" {
		if err := o.killSessionByID(stg.Session); err != nil {
			return err
		}
	}
	o.mu.Lock()
	delete(o.running, stg.ID)
	delete(o.started, stg.ID)
	o.mu.Unlock()
	o.log("[events] stage %s escalated to human review", stg.ID)
	return nil
}

// onSessionCrashed is one of the three paths (with onSessionHung and
// orphan recovery) that can move a stage out of Executing without the
// agent itself writing the new status: the external process is gone and
// nothing else will notice.
func (o *Orchestrator) onSessionCrashed(ev monitor.Event) error {
	stg, err := o.st.LoadStage(ev.StageID)
	if err != nil {
		if loomerr.OfKind(err, loomerr.KindNotFound) {
			return nil
		}
		return err
	}

	if err := o.killSessionByID(ev.SessionID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.running, stg.ID)
	delete(o.started, stg.ID)
	o.mu.Unlock()

	if stg.Status != store.StageExecuting {
		return nil // already moved on (e.g. completed just before the crash was observed)
	}

	ts := o.now()
	stg.FailureInfo = &store.FailureInfo{
		Kind:      FailureTransientCrash,
		Message:   "session " + ev.SessionID + " crashed, report at " + ev.CrashReportPath,
		OccuredAt: ts,
	}
	stg.LastFailureAt = &ts
	stg.Session = ""
	if err := store.Transition(stg, store.StageBlocked, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[events] stage %s blocked after session crash", stg.ID)

	return o.maybeRetry(stg)
}

// onSessionHung is identical to a crash except the process is still alive
// and has to be killed rather than merely discovered dead.
func (o *Orchestrator) onSessionHung(ev monitor.Event) error {
	stg, err := o.st.LoadStage(ev.StageID)
	if err != nil {
		if loomerr.OfKind(err, loomerr.KindNotFound) {
			return nil
		}
		return err
	}

	if err := o.killSessionByID(ev.SessionID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.running, stg.ID)
	delete(o.started, stg.ID)
	o.mu.Unlock()

	if stg.Status != store.StageExecuting {
		return nil
	}

	ts := o.now()
	stg.FailureInfo = &store.FailureInfo{Kind: FailureTransientCrash, Message: "session " + ev.SessionID + " hung and was killed", OccuredAt: ts}
	stg.LastFailureAt = &ts
	stg.Session = ""
	if err := store.Transition(stg, store.StageBlocked, o.now); err != nil {
		return err
	}
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[events] stage %s blocked after session hang", stg.ID)

	return o.maybeRetry(stg)
}

// onSessionNeedsHandoff carries a stage back to Queued with a fresh
// context budget (§4.E): the outgoing session already wrote its own
// handoff document before requesting this, consumed at next start via
// LatestHandoff.
func (o *Orchestrator) onSessionNeedsHandoff(ev monitor.Event) error {
	stg, err := o.st.LoadStage(ev.StageID)
	if err != nil {
		if loomerr.OfKind(err, loomerr.KindNotFound) {
			return nil
		}
		return err
	}

	if err := o.killSessionByID(ev.SessionID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.running, stg.ID)
	delete(o.started, stg.ID)
	o.mu.Unlock()

	if stg.Status == store.StageExecuting {
		if err := store.Transition(stg, store.StageNeedsHandoff, o.now); err != nil {
			return err
		}
	}
	if stg.Status == store.StageNeedsHandoff {
		if err := store.Transition(stg, store.StageQueued, o.now); err != nil {
			return err
		}
	}
	stg.Session = ""
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	o.log("[events] stage %s handed off, requeued with fresh context", stg.ID)
	return nil
}
