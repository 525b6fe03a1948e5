package signal

import (
	"fmt"
	"strings"

	"github.com/loomorch/loom/internal/store"
)

// The three stable-prefix flavors are plain constants, not templates —
// the contract is that two calls for the same stage type produce
// byte-identical text, so nothing here may depend on the stage instance.
const standardStablePrefix = `# Working agreement

You are operating inside an isolated git worktree created for exactly one
stage of a larger plan. Do not touch files outside this worktree. Commit
your own work as you go; never rewrite another stage's history.

Path boundaries: treat the worktree root as your entire filesystem for
this task, except for the explicit knowledge-base and skill pointers
supplied below.

Execution rules: run the stage's setup commands before acceptance
commands. Stop and report back rather than guessing when an acceptance
command's intent is ambiguous.

Agent-teaming rules: if this stage spawns sub-reviews or parallel
helpers, keep them scoped to this worktree and summarize their output
before finishing.

Memory rules: append durable notes, decisions, and open questions to
your session's memory journal as you discover them, not only at the end.
`

const knowledgeStablePrefix = `# Working agreement (knowledge stage)

You are operating directly in the main repository, not an isolated
worktree. This stage gathers or updates shared knowledge; it does not
modify the codebase. Do not commit. Do not create branches.

Record everything durable you find in the learnings categories supplied
below, not only in your final summary.
`

const codeReviewStablePrefix = `# Working agreement (code-review stage)

You are reviewing a completed stage's changes inside its own worktree.
A parallel team of reviewers may be running the same review
independently; do not assume you are the only reviewer. Fix only what
you find, scoped to the files this stage touched. Commit fixes with a
message that names what was wrong, not what you changed.
`

func stablePrefix(stageType store.StageType) string {
	switch stageType {
	case store.StageTypeKnowledge:
		return knowledgeStablePrefix
	case store.StageTypeCodeReview:
		return codeReviewStablePrefix
	default:
		return standardStablePrefix
	}
}

func semiStable(stage *store.Stage, in RenderInput) string {
	var sb strings.Builder
	sb.WriteString("\n## Stage context\n\n")
	if len(in.KnowledgeBase) > 0 {
		sb.WriteString("Knowledge base:\n")
		for _, k := range in.KnowledgeBase {
			fmt.Fprintf(&sb, "- %s\n", k)
		}
	}
	if len(stage.Sandbox.DenyPaths) > 0 {
		sb.WriteString("\nDenied paths:\n")
		for _, p := range stage.Sandbox.DenyPaths {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if len(stage.Sandbox.AllowedDomains) > 0 {
		sb.WriteString("\nAllowed network domains:\n")
		for _, d := range stage.Sandbox.AllowedDomains {
			fmt.Fprintf(&sb, "- %s\n", d)
		}
	}
	if len(stage.Sandbox.EscapeHatches) > 0 {
		sb.WriteString("\nCommand escape hatches:\n")
		for _, e := range stage.Sandbox.EscapeHatches {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}
	if len(in.MatchedSkills) > 0 {
		sb.WriteString("\nMatched skills:\n")
		for _, s := range in.MatchedSkills {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	return sb.String()
}

func dynamic(stage *store.Stage, session *store.Session, in RenderInput) string {
	var sb strings.Builder
	sb.WriteString("\n## Assignment\n\n")
	fmt.Fprintf(&sb, "Session: %s\n", session.ID)
	fmt.Fprintf(&sb, "Stage: %s (%s)\n", stage.ID, stage.Name)
	fmt.Fprintf(&sb, "Worktree: %s\n", stage.Worktree)
	fmt.Fprintf(&sb, "Branch: loom/%s\n", stage.ID)
	fmt.Fprintf(&sb, "Execution path: %s/%s\n", stage.Worktree, stage.WorkingDir)

	if in.PlanOverview != "" {
		sb.WriteString("\n### Plan overview\n\n")
		sb.WriteString(in.PlanOverview)
		sb.WriteString("\n")
	}

	if stage.Description != "" {
		sb.WriteString("\n### Stage description\n\n")
		sb.WriteString(stage.Description)
		sb.WriteString("\n")
	}

	if len(in.DependencyTable) > 0 {
		sb.WriteString("\n### Dependency status\n\n")
		sb.WriteString("| stage | status | merged |\n|---|---|---|\n")
		for _, d := range in.DependencyTable {
			fmt.Fprintf(&sb, "| %s | %s | %v |\n", d.StageID, d.Status, d.Merged)
			for k, v := range d.Outputs {
				fmt.Fprintf(&sb, "  - output `%s`: %s\n", k, v)
			}
		}
	}

	if in.PreviousHandoff != nil {
		sb.WriteString("\n### Previous session handoff\n\n")
		sb.WriteString(in.PreviousHandoff.Body)
		sb.WriteString("\n")
	}

	if in.GitLogSinceStart != "" {
		sb.WriteString("\n### Git history since last session\n\n```\n")
		sb.WriteString(in.GitLogSinceStart)
		sb.WriteString("\n```\n")
	}

	if len(stage.Acceptance) > 0 {
		sb.WriteString("\n### Acceptance criteria\n\n")
		for _, a := range stage.Acceptance {
			fmt.Fprintf(&sb, "- `%s`\n", a)
		}
	}

	if len(stage.Checks.Truths) > 0 || len(stage.Checks.Artifacts) > 0 || len(stage.Checks.Wiring) > 0 {
		sb.WriteString("\n### Goal-backward verification\n\n")
		writeChecklist(&sb, "Truths that must hold", stage.Checks.Truths)
		writeChecklist(&sb, "Artifacts that must exist", stage.Checks.Artifacts)
		writeChecklist(&sb, "Wiring that must be exercised", stage.Checks.Wiring)
	}

	if len(stage.Files) > 0 {
		sb.WriteString("\n### Files to modify\n\n")
		for _, f := range stage.Files {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	return sb.String()
}

func writeChecklist(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "**%s:**\n", heading)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
}

func recitation(stage *store.Stage, session *store.Session, in RenderInput) string {
	var sb strings.Builder
	sb.WriteString("\n## Immediate task list\n\n")
	if len(stage.Setup) > 0 {
		sb.WriteString("Setup:\n")
		for _, s := range stage.Setup {
			fmt.Fprintf(&sb, "1. `%s`\n", s)
		}
	}
	sb.WriteString("Then satisfy every acceptance criterion above.\n")

	if in.Memory != nil {
		writeChecklist(&sb, "Notes", in.Memory.Notes)
		writeChecklist(&sb, "Decisions", in.Memory.Decisions)
		writeChecklist(&sb, "Open questions", in.Memory.Questions)
	}

	if in.ContextBudget > 0 {
		ratio := session.ContextUsageRatio()
		if ratio >= 0.8 {
			fmt.Fprintf(&sb, "\n**Context budget warning:** %.0f%% of this session's context budget is consumed. Wrap up and hand off soon.\n", ratio*100)
		}
	}

	return sb.String()
}
