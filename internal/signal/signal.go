// Package signal assembles the prompt text handed to an agent session:
// four contiguous segments in a fixed order so that prefix caching on the
// agent side can reuse as much of a prior signal as possible.
package signal

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/loomorch/loom/internal/store"
)

// Signal is the fully rendered prompt text plus its section boundaries.
type Signal struct {
	StablePrefix string
	SemiStable   string
	Dynamic      string
	Recitation   string
}

// Text concatenates the four sections in their fixed order.
func (s *Signal) Text() string {
	return s.StablePrefix + s.SemiStable + s.Dynamic + s.Recitation
}

// Metrics reports per-section and total size, plus a stable-prefix digest
// operators use to confirm cache-prefix reuse across sessions of the same
// stage type.
type Metrics struct {
	TotalBytes       int
	EstimatedTokens  int
	StablePrefixHash string
	PerSectionBytes  map[string]int
}

func measure(sig *Signal) Metrics {
	perSection := map[string]int{
		"stable_prefix": len(sig.StablePrefix),
		"semi_stable":   len(sig.SemiStable),
		"dynamic":       len(sig.Dynamic),
		"recitation":    len(sig.Recitation),
	}
	total := len(sig.Text())
	return Metrics{
		TotalBytes:       total,
		EstimatedTokens:  total / 4,
		StablePrefixHash: hashPrefix(sig.StablePrefix),
		PerSectionBytes:  perSection,
	}
}

func hashPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// DependencyStatus is one row of the dynamic section's dependency table.
type DependencyStatus struct {
	StageID string
	Status  store.StageStatus
	Merged  bool
	Outputs map[string]string
}

// RenderInput carries everything the Builder needs beyond the Stage and
// Session records themselves: resolved dependency state, plan context,
// and budget configuration that isn't stored on the Stage/Session.
type RenderInput struct {
	PlanOverview     string
	DependencyTable  []DependencyStatus
	PreviousHandoff  *store.Handoff
	GitLogSinceStart string
	Memory           *store.MemoryEntry
	ContextBudget    int
	KnowledgeBase    []string
	MatchedSkills    []string
}

// Builder assembles signals. It holds no state beyond the formatting
// logic; all per-call data arrives through Render's arguments.
type Builder struct{}

// New returns a Builder.
func New() *Builder { return &Builder{} }

// Render produces a Signal and its Metrics for one session attempting
// one stage.
func (b *Builder) Render(stage *store.Stage, session *store.Session, in RenderInput) (*Signal, Metrics) {
	sig := &Signal{
		StablePrefix: stablePrefix(stage.StageType),
		SemiStable:   semiStable(stage, in),
		Dynamic:      dynamic(stage, session, in),
		Recitation:   recitation(stage, session, in),
	}
	return sig, measure(sig)
}
