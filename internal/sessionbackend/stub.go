package sessionbackend

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomorch/loom/internal/store"
)

// StubBackend is a hand-written, programmable test double — the pack
// never pulls in a mocking framework, so neither does this one. Callers
// script behavior by setting the exported SpawnErr/KillErr fields before use.
type StubBackend struct {
	mu       sync.Mutex
	running  map[string]bool
	SpawnErr error
	KillErr  error
}

// NewStub returns a StubBackend with every session reporting as running
// until explicitly killed.
func NewStub() *StubBackend {
	return &StubBackend{running: make(map[string]bool)}
}

func (s *StubBackend) newSession(stage *store.Stage, cfg Config) *store.Session {
	id := uuid.New().String()
	name := "stub-" + id
	now := time.Now().UTC()
	s.mu.Lock()
	s.running[name] = true
	s.mu.Unlock()
	return &store.Session{
		ID:                id,
		StageID:           stage.ID,
		ExternalName:      name,
		Status:            store.SessionSpawning,
		ContextTokenLimit: cfg.ContextTokenLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (s *StubBackend) SpawnSession(stage *store.Stage, worktreePath, signalPath string, cfg Config) (*store.Session, error) {
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}
	return s.newSession(stage, cfg), nil
}

func (s *StubBackend) SpawnMergeSession(stage *store.Stage, signalPath, repoRoot string, cfg Config) (*store.Session, error) {
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}
	return s.newSession(stage, cfg), nil
}

func (s *StubBackend) KillSession(session *store.Session) error {
	if s.KillErr != nil {
		return s.KillErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[session.ExternalName] = false
	return nil
}

func (s *StubBackend) SessionIsRunning(externalName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[externalName], nil
}

// SetRunning lets a test simulate an external process dying on its own,
// without going through KillSession.
func (s *StubBackend) SetRunning(externalName string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[externalName] = running
}

var _ Backend = (*StubBackend)(nil)
