package orchestrator

import (
	"math"
	"time"

	"github.com/loomorch/loom/internal/store"
)

// Failure kinds recognized by the retry policy (§4.G.4). Anything else is
// treated as non-retryable and escalated straight to human review.
const (
	FailureTransientCrash     = "transient_crash"
	FailureContextExhaustion  = "context_exhaustion"
	FailureAcceptanceCriteria = "acceptance_criteria"
	FailureMergeError         = "merge_error"
	FailureExternalTransient  = "external_transient"
)

// retryBaseSeconds and retryCapSeconds bound the exponential backoff applied
// between a stage's failed attempts.
const (
	retryBaseSeconds = 30.0
	retryCapSeconds  = 900.0
)

// shouldAutoRetry reports whether a stage that just failed with kind,
// having already used attempt prior attempts out of max, gets another try
// without human intervention. Acceptance-criteria failures always count
// toward max but are retried the same as a transient crash — the signal's
// dynamic section is what actually changes the agent's approach next time.
func shouldAutoRetry(kind string, attempt, max int) bool {
	if max <= 0 {
		max = 3
	}
	if attempt >= max {
		return false
	}
	switch kind {
	case FailureTransientCrash, FailureContextExhaustion, FailureAcceptanceCriteria, FailureExternalTransient:
		return true
	case FailureMergeError:
		return false // merge conflicts need a dedicated resolution session, not a bare retry
	default:
		return false
	}
}

// calculateBackoff returns the delay before a stage's next attempt is
// eligible to start, doubling per prior attempt and clamped to
// retryCapSeconds.
func calculateBackoff(attempt int) time.Duration {
	secs := retryBaseSeconds * math.Pow(2, float64(attempt))
	if secs > retryCapSeconds {
		secs = retryCapSeconds
	}
	return time.Duration(secs) * time.Second
}

// retryEligibleAt returns when stg is next eligible to run, given its
// last_failure_at and its current retry_count.
func retryEligibleAt(stg *store.Stage) time.Time {
	if stg.LastFailureAt == nil {
		return time.Time{}
	}
	return stg.LastFailureAt.Add(calculateBackoff(stg.RetryCount))
}

// maybeRetry implements the reducer-side half of §4.G.4: given a stage that
// just landed in Blocked with FailureInfo populated, decide whether to
// requeue it now, leave it blocked until the backoff window elapses, or
// escalate it to a human once retries are exhausted.
func (o *Orchestrator) maybeRetry(stg *store.Stage) error {
	if stg.Status != store.StageBlocked {
		return nil
	}
	if stg.FailureInfo == nil {
		return nil
	}

	if !shouldAutoRetry(stg.FailureInfo.Kind, stg.RetryCount, stg.MaxRetries) {
		if err := store.Transition(stg, store.StageNeedsHumanReview, o.now); err != nil {
			return err
		}
		o.log("[retry] stage %s exhausted retries (%d/%d, kind=%s), escalating",
			stg.ID, stg.RetryCount, stg.MaxRetries, stg.FailureInfo.Kind)
		if err := o.st.SaveStage(stg); err != nil {
			return err
		}
		o.graph.UpdateStage(stg)
		return nil
	}

	eligible := retryEligibleAt(stg)
	if o.now().Before(eligible) {
		return nil // still cooling down; re-checked on a later tick
	}

	stg.RetryCount++
	if err := store.Transition(stg, store.StageQueued, o.now); err != nil {
		return err
	}
	o.log("[retry] stage %s requeued (attempt %d/%d) after %s", stg.ID, stg.RetryCount, stg.MaxRetries, stg.FailureInfo.Kind)
	if err := o.st.SaveStage(stg); err != nil {
		return err
	}
	o.graph.UpdateStage(stg)
	return nil
}
