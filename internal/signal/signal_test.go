package signal

import (
	"testing"

	"github.com/loomorch/loom/internal/store"
)

func baseStage(id string, stageType store.StageType) *store.Stage {
	return &store.Stage{
		ID:         id,
		Name:       "do the thing",
		StageType:  stageType,
		WorkingDir: ".",
		Acceptance: []string{"go test ./..."},
	}
}

func TestStablePrefix_ByteIdenticalAcrossSessions(t *testing.T) {
	b := New()

	s1 := baseStage("a", store.StageTypeStandard)
	s2 := baseStage("b", store.StageTypeStandard)
	session1 := &store.Session{ID: "sess-1"}
	session2 := &store.Session{ID: "sess-2"}

	sig1, _ := b.Render(s1, session1, RenderInput{})
	sig2, _ := b.Render(s2, session2, RenderInput{})

	if sig1.StablePrefix != sig2.StablePrefix {
		t.Error("stable prefix must be byte-identical across stages of the same type")
	}
}

func TestStablePrefix_DiffersByStageType(t *testing.T) {
	b := New()
	standard := baseStage("a", store.StageTypeStandard)
	knowledge := baseStage("b", store.StageTypeKnowledge)
	session := &store.Session{ID: "sess-1"}

	sig1, _ := b.Render(standard, session, RenderInput{})
	sig2, _ := b.Render(knowledge, session, RenderInput{})

	if sig1.StablePrefix == sig2.StablePrefix {
		t.Error("standard and knowledge stage types must have distinct stable prefixes")
	}
}

func TestMetrics_StablePrefixHashStableAcrossCalls(t *testing.T) {
	b := New()
	stage := baseStage("a", store.StageTypeStandard)
	session := &store.Session{ID: "sess-1"}

	_, m1 := b.Render(stage, session, RenderInput{})
	_, m2 := b.Render(baseStage("z", store.StageTypeStandard), session, RenderInput{})

	if m1.StablePrefixHash != m2.StablePrefixHash {
		t.Errorf("stable prefix hash should match for same stage type: %s != %s", m1.StablePrefixHash, m2.StablePrefixHash)
	}
}

func TestMetrics_TotalBytesAndTokenEstimate(t *testing.T) {
	b := New()
	stage := baseStage("a", store.StageTypeStandard)
	session := &store.Session{ID: "sess-1"}

	sig, m := b.Render(stage, session, RenderInput{})
	if m.TotalBytes != len(sig.Text()) {
		t.Errorf("TotalBytes = %d, want %d", m.TotalBytes, len(sig.Text()))
	}
	if m.EstimatedTokens != m.TotalBytes/4 {
		t.Errorf("EstimatedTokens = %d, want %d", m.EstimatedTokens, m.TotalBytes/4)
	}
}

func TestRecitation_ContextBudgetWarningAtThreshold(t *testing.T) {
	b := New()
	stage := baseStage("a", store.StageTypeStandard)
	session := &store.Session{ID: "sess-1", ContextTokensUsed: 85, ContextTokenLimit: 100}

	sig, _ := b.Render(stage, session, RenderInput{ContextBudget: 100})
	if !contains(sig.Recitation, "Context budget warning") {
		t.Error("expected a context budget warning at 85% usage")
	}
}

func TestRecitation_NoWarningBelowThreshold(t *testing.T) {
	b := New()
	stage := baseStage("a", store.StageTypeStandard)
	session := &store.Session{ID: "sess-1", ContextTokensUsed: 10, ContextTokenLimit: 100}

	sig, _ := b.Render(stage, session, RenderInput{ContextBudget: 100})
	if contains(sig.Recitation, "Context budget warning") {
		t.Error("should not warn below 80% usage")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
