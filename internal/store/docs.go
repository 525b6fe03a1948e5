package store

import "time"

// Handoff is a distilled context document produced when a session nears its
// token budget, consumed by the next session assigned to the same stage.
type Handoff struct {
	StageID    string    `yaml:"stage_id"`
	SessionID  string    `yaml:"session_id"`
	CreatedAt  time.Time `yaml:"created_at"`
	ContextPct float64   `yaml:"context_pct"`
	Summary    string    `yaml:"summary"`
	NextSteps  []string  `yaml:"next_steps,omitempty"`
	OpenQuestions []string `yaml:"open_questions,omitempty"`

	// Body is the free-form prose handed to the next session verbatim.
	Body string `yaml:"-"`

	// slug and date back the filename handoffs/<date>-<slug>.md.
	slug string
	date string
}

// MemoryEntry is one running journal note for a session: decisions, notes,
// and open questions accumulated across a stage's attempts.
type MemoryEntry struct {
	SessionID string    `yaml:"session_id"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Notes     []string  `yaml:"notes,omitempty"`
	Decisions []string  `yaml:"decisions,omitempty"`
	Questions []string  `yaml:"questions,omitempty"`
}

// LearningCategory is one of the four append-only cross-session knowledge
// files under learnings/.
type LearningCategory string

const (
	LearningMistakes      LearningCategory = "mistakes"
	LearningHumanGuidance LearningCategory = "human-guidance"
	LearningPatterns      LearningCategory = "patterns"
	LearningConventions   LearningCategory = "conventions"
)

// CrashReport is a structured distillation of an unexpectedly-exited agent
// process, written under crashes/.
type CrashReport struct {
	SessionID string    `yaml:"session_id"`
	StageID   string    `yaml:"stage_id"`
	CreatedAt time.Time `yaml:"created_at"`
	LastKnown string    `yaml:"last_known_status"`
	Detail    string    `yaml:"detail"`
}
