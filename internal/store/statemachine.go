package store

import (
	"time"

	"github.com/loomorch/loom/internal/loomerr"
)

// transitions is the allowed-edge table of §3.3. A target appearing in a
// source's list is a legal move; anything else is a programmer error.
var transitions = map[StageStatus][]StageStatus{
	StageWaitingForDeps: {StageQueued, StageSkipped, StageBlocked},
	StageQueued:         {StageExecuting, StageBlocked, StageSkipped, StageHeld, StageWaitingForDeps},
	StageExecuting: {
		StageCompleted, StageCompletedWithFailures, StageNeedsHandoff,
		StageWaitingForInput, StageBlocked, StageMergeConflict, StageMergeBlocked,
		StageNeedsHumanReview, StageWaitingForDeps, StageQueued,
	},
	StageWaitingForInput:       {StageExecuting, StageBlocked, StageWaitingForDeps},
	StageNeedsHandoff:          {StageQueued, StageWaitingForDeps},
	StageBlocked:               {StageQueued, StageWaitingForDeps},
	StageHeld:                  {StageQueued, StageWaitingForDeps},
	StageMergeConflict:         {StageCompleted, StageMergeBlocked, StageWaitingForDeps},
	StageMergeBlocked:          {StageExecuting, StageMergeConflict, StageBlocked, StageWaitingForDeps},
	StageCompletedWithFailures: {StageExecuting, StageCompleted, StageWaitingForDeps},
	StageCompleted:             {StageMergeConflict, StageMergeBlocked},
	StageSkipped:               {},
	StageNeedsHumanReview:      {StageExecuting, StageBlocked, StageWaitingForDeps},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to StageStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change to stage, updating the
// bookkeeping timestamps the state machine owns: updated_at always;
// attempt_started_at and (on first entry) started_at on entry to
// Executing; execution_secs accumulation on exit from Executing;
// completed_at exactly once, on entry to Completed.
func Transition(stage *Stage, to StageStatus, now NowFunc) error {
	from := stage.Status
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return loomerr.InvalidTransition("store.Transition", string(from), string(to))
	}

	ts := now()

	if from == StageExecuting {
		if stage.AttemptStartedAt != nil {
			stage.ExecutionSecs += ts.Sub(*stage.AttemptStartedAt).Seconds()
		}
	}

	if to == StageExecuting {
		stage.AttemptStartedAt = &ts
		if stage.StartedAt == nil {
			stage.StartedAt = &ts
		}
	}

	if to == StageCompleted && stage.CompletedAt == nil {
		stage.CompletedAt = &ts
	}

	stage.Status = to
	stage.UpdatedAt = ts
	return nil
}

// NowFunc lets callers supply deterministic clocks in tests.
type NowFunc func() time.Time
