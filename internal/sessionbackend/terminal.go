package sessionbackend

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/loomorch/loom/internal/loomerr"
	"github.com/loomorch/loom/internal/store"
)

// TerminalBackend attaches each session to its own named tmux session so
// a human can attach and watch an agent live, mirroring the teacher's
// os/exec-based process spawning but through a terminal multiplexer
// rather than a direct subprocess the orchestrator owns.
type TerminalBackend struct {
	tmuxBin string
}

// NewTerminalBackend returns a Backend that shells out to tmux.
func NewTerminalBackend() *TerminalBackend {
	return &TerminalBackend{tmuxBin: "tmux"}
}

func (b *TerminalBackend) sessionName(id string) string {
	return "loom-" + id
}

func (b *TerminalBackend) spawn(externalName, workdir string, cfg Config, signalPath string) error {
	args := []string{"new-session", "-d", "-s", externalName, "-c", workdir}
	cmd := exec.Command(b.tmuxBin, args...)
	if err := cmd.Run(); err != nil {
		return loomerr.ExternalTransient("sessionbackend.spawn", "tmux new-session", err)
	}

	agentCmd := cfg.Command
	if agentCmd == "" {
		agentCmd = "claude"
	}
	runLine := fmt.Sprintf("%s %s < %s", agentCmd, joinArgs(cfg.ExtraArgs), signalPath)
	send := exec.Command(b.tmuxBin, "send-keys", "-t", externalName, runLine, "Enter")
	if err := send.Run(); err != nil {
		return loomerr.ExternalTransient("sessionbackend.spawn", "tmux send-keys", err)
	}
	return nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// SpawnSession starts a stage session inside worktreePath.
func (b *TerminalBackend) SpawnSession(stage *store.Stage, worktreePath, signalPath string, cfg Config) (*store.Session, error) {
	id := uuid.New().String()
	name := b.sessionName(id)
	if err := b.spawn(name, worktreePath, cfg, signalPath); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &store.Session{
		ID:                id,
		StageID:           stage.ID,
		ExternalName:      name,
		Status:            store.SessionSpawning,
		ContextTokenLimit: cfg.ContextTokenLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// SpawnMergeSession starts a conflict-resolution session rooted at
// repoRoot (the orchestrator passes the conflict-resolution worktree)
// rather than a stage worktree.
func (b *TerminalBackend) SpawnMergeSession(stage *store.Stage, signalPath, repoRoot string, cfg Config) (*store.Session, error) {
	id := uuid.New().String()
	name := b.sessionName(id)
	if err := b.spawn(name, repoRoot, cfg, signalPath); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &store.Session{
		ID:                id,
		StageID:           stage.ID,
		ExternalName:      name,
		Status:            store.SessionSpawning,
		ContextTokenLimit: cfg.ContextTokenLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// KillSession force-kills a session's tmux window.
func (b *TerminalBackend) KillSession(session *store.Session) error {
	cmd := exec.Command(b.tmuxBin, "kill-session", "-t", session.ExternalName)
	if err := cmd.Run(); err != nil {
		return loomerr.ExternalTransient("sessionbackend.KillSession", "tmux kill-session", err)
	}
	return nil
}

// SessionIsRunning checks tmux's own session registry, which is the
// liveness signal independent of whether the agent process inside it has
// exited (the tmux session itself can outlive a crashed agent, and vice
// versa the session can vanish if the process detaches unexpectedly).
func (b *TerminalBackend) SessionIsRunning(externalName string) (bool, error) {
	cmd := exec.Command(b.tmuxBin, "has-session", "-t", externalName)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return false, nil
	}
	return false, loomerr.ExternalTransient("sessionbackend.SessionIsRunning", "tmux has-session", err)
}

var _ Backend = (*TerminalBackend)(nil)
