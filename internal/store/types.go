// Package store implements the durable on-disk state model: stage,
// session, signal, handoff, memory-journal, and learning documents kept as
// UTF-8 markdown files with a YAML front-matter block, plus the plan file
// and config.toml readers.
package store

import "time"

// StageStatus is one state of the stage lifecycle state machine (§3.3).
type StageStatus string

const (
	StageWaitingForDeps        StageStatus = "waiting_for_deps"
	StageQueued                StageStatus = "queued"
	StageExecuting              StageStatus = "executing"
	StageWaitingForInput        StageStatus = "waiting_for_input"
	StageBlocked                StageStatus = "blocked"
	StageCompleted              StageStatus = "completed"
	StageNeedsHandoff           StageStatus = "needs_handoff"
	StageSkipped                StageStatus = "skipped"
	StageMergeConflict          StageStatus = "merge_conflict"
	StageCompletedWithFailures  StageStatus = "completed_with_failures"
	StageMergeBlocked           StageStatus = "merge_blocked"
	StageNeedsHumanReview       StageStatus = "needs_human_review"
	StageHeld                   StageStatus = "held"
)

// StageType selects which stable-prefix flavor the Signal Assembler uses.
type StageType string

const (
	StageTypeStandard          StageType = "standard"
	StageTypeKnowledge         StageType = "knowledge"
	StageTypeIntegrationVerify StageType = "integration-verify"
	StageTypeCodeReview        StageType = "code-review"
)

// FailureInfo captures why a stage most recently failed, feeding the retry
// policy (§4.G.4).
type FailureInfo struct {
	Kind      string    `yaml:"kind"`
	Message   string    `yaml:"message"`
	OccuredAt time.Time `yaml:"occurred_at"`
}

// SandboxConfig is the per-stage sandbox restriction set embedded in the
// signal's semi-stable section.
type SandboxConfig struct {
	DenyPaths      []string `yaml:"deny_paths,omitempty"`
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
	EscapeHatches  []string `yaml:"escape_hatches,omitempty"`
}

// VerificationChecks holds the goal-backward verification criteria the
// Signal Assembler quotes to the agent.
type VerificationChecks struct {
	Truths    []string `yaml:"truths,omitempty"`
	Artifacts []string `yaml:"artifacts,omitempty"`
	Wiring    []string `yaml:"wiring,omitempty"`
}

// Stage is the full record of one unit of work. The YAML tags are the
// front-matter field names written to stages/<NN>-<id>.md.
type Stage struct {
	ID            string      `yaml:"id"`
	Name          string      `yaml:"name"`
	Description   string      `yaml:"description,omitempty"`
	Status        StageStatus `yaml:"status"`
	Depth         int         `yaml:"depth"`
	DependsOn     []string    `yaml:"depends_on,omitempty"`
	ParallelGroup string      `yaml:"parallel_group,omitempty"`
	Acceptance    []string    `yaml:"acceptance,omitempty"`
	Setup         []string    `yaml:"setup,omitempty"`
	Files         []string    `yaml:"files,omitempty"`
	PlanID        string      `yaml:"plan_id,omitempty"`
	WorkingDir    string      `yaml:"working_dir,omitempty"`
	StageType     StageType   `yaml:"stage_type"`

	Worktree string `yaml:"worktree,omitempty"`
	Session  string `yaml:"session,omitempty"`
	Held     bool   `yaml:"held"`

	CreatedAt        time.Time  `yaml:"created_at"`
	UpdatedAt        time.Time  `yaml:"updated_at"`
	StartedAt        *time.Time `yaml:"started_at,omitempty"`
	AttemptStartedAt *time.Time `yaml:"attempt_started_at,omitempty"`
	CompletedAt      *time.Time `yaml:"completed_at,omitempty"`
	LastFailureAt    *time.Time `yaml:"last_failure_at,omitempty"`
	ExecutionSecs    float64    `yaml:"execution_secs"`

	RetryCount  int `yaml:"retry_count"`
	MaxRetries  int `yaml:"max_retries"`
	FixAttempts int `yaml:"fix_attempts"`

	FailureInfo *FailureInfo `yaml:"failure_info,omitempty"`

	BaseBranch      string `yaml:"base_branch,omitempty"`
	CompletedCommit string `yaml:"completed_commit,omitempty"`
	Merged          bool   `yaml:"merged"`
	MergeConflict   bool   `yaml:"merge_conflict"`
	AssumeMerged    bool   `yaml:"assume_merged,omitempty"`

	VerificationStatus string              `yaml:"verification_status,omitempty"`
	Checks             VerificationChecks  `yaml:"checks,omitempty"`
	Sandbox            SandboxConfig       `yaml:"sandbox,omitempty"`
	Outputs            map[string]string   `yaml:"outputs,omitempty"`
	AutoMerge          *bool               `yaml:"auto_merge,omitempty"`
}

// SessionStatus is the lifecycle state of one session (§3.1).
type SessionStatus string

const (
	SessionSpawning        SessionStatus = "spawning"
	SessionRunning         SessionStatus = "running"
	SessionWaitingForInput SessionStatus = "waiting_for_input"
	SessionNeedsHandoff    SessionStatus = "needs_handoff"
	SessionCompleted       SessionStatus = "completed"
	SessionCrashed         SessionStatus = "crashed"
)

// Session is one run of an agent against one stage (or, for merge
// sessions, against a conflict between two branches).
type Session struct {
	ID            string        `yaml:"id"`
	StageID       string        `yaml:"stage_id,omitempty"`
	ExternalName  string        `yaml:"external_name,omitempty"`
	Status        SessionStatus `yaml:"status"`

	ContextTokensUsed  int `yaml:"context_tokens_used"`
	ContextTokenLimit  int `yaml:"context_token_limit"`

	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`

	// Merge-session-only fields.
	SourceBranch string `yaml:"source_branch,omitempty"`
	TargetBranch string `yaml:"target_branch,omitempty"`
	ConflictFiles []string `yaml:"conflict_files,omitempty"`
}

// ContextUsageRatio returns the fraction of the context budget consumed, or
// 0 if no limit is configured.
func (s *Session) ContextUsageRatio() float64 {
	if s.ContextTokenLimit <= 0 {
		return 0
	}
	return float64(s.ContextTokensUsed) / float64(s.ContextTokenLimit)
}
