// Package sessionbackend hides how an agent process actually runs behind
// a four-operation capability, so the orchestrator never shells out
// directly (spec.md §4.E).
package sessionbackend

import (
	"github.com/loomorch/loom/internal/store"
)

// Backend is the polymorphic capability the orchestrator drives every
// agent session through.
type Backend interface {
	// SpawnSession starts a new session attached to stage in worktree,
	// handed the rendered signal at signalPath.
	SpawnSession(stage *store.Stage, worktreePath, signalPath string, cfg Config) (*store.Session, error)
	// SpawnMergeSession starts a conflict-resolution session rooted at
	// repoRoot, the directory it is given (the orchestrator passes the
	// conflict-resolution worktree) rather than a stage worktree.
	SpawnMergeSession(stage *store.Stage, signalPath, repoRoot string, cfg Config) (*store.Session, error)
	// KillSession terminates a running session's external process.
	KillSession(session *store.Session) error
	// SessionIsRunning reports whether the external process backing
	// externalName is still alive.
	SessionIsRunning(externalName string) (bool, error)
}

// Config carries the knobs a backend needs that aren't part of the
// Stage/Session records themselves.
type Config struct {
	ContextTokenLimit int
	Command           string // agent binary to invoke, e.g. "claude"
	ExtraArgs         []string
}
