package store

import "io"

// StageStore is the typed, atomic CRUD surface for stage documents.
type StageStore interface {
	LoadStage(id string) (*Stage, error)
	SaveStage(stage *Stage) error
	ListStages() ([]*Stage, error)
	DeleteStage(id string) error
}

// SessionStore is the typed CRUD surface for session documents.
type SessionStore interface {
	LoadSession(id string) (*Session, error)
	SaveSession(session *Session) error
	ListSessions() ([]*Session, error)
	DeleteSession(id string) error
}

// SignalStore manages the rendered-briefing files that exist only while
// their session is active.
type SignalStore interface {
	WriteSignal(sessionID, body string) (string, error)
	ReadSignal(sessionID string) (string, error)
	RemoveSignal(sessionID string) error
}

// HandoffStore persists context-exhaustion handoff documents.
type HandoffStore interface {
	WriteHandoff(h *Handoff) (string, error)
	ListHandoffs(stageID string) ([]*Handoff, error)
	LatestHandoff(stageID string) (*Handoff, error)
}

// MemoryStore persists the per-session running journal.
type MemoryStore interface {
	LoadMemory(sessionID string) (*MemoryEntry, error)
	SaveMemory(entry *MemoryEntry) error
}

// LearningStore appends to and reads the four cross-session knowledge
// files, plus the pre-session tamper-detection snapshots.
type LearningStore interface {
	AppendLearning(category LearningCategory, entry string) error
	ReadLearnings(category LearningCategory) (string, error)
	SnapshotLearnings(sessionID string) error
	LearningsTampered(sessionID string) (bool, error)
}

// CrashStore records distilled crash reports.
type CrashStore interface {
	WriteCrashReport(r *CrashReport) (string, error)
}

// Store composes every focused sub-interface the rest of Loom depends on,
// mirroring the teacher's StateStore composition of SessionStore/AgentStore/
// TaskStore/Migrator into one interface.
type Store interface {
	io.Closer
	StageStore
	SessionStore
	SignalStore
	HandoffStore
	MemoryStore
	LearningStore
	CrashStore

	// Root returns the workspace root this store is rooted at (".work" by
	// convention).
	Root() string
}

// Compile-time verification that FileStore implements every sub-interface.
var (
	_ Store         = (*FileStore)(nil)
	_ StageStore    = (*FileStore)(nil)
	_ SessionStore  = (*FileStore)(nil)
	_ SignalStore   = (*FileStore)(nil)
	_ HandoffStore  = (*FileStore)(nil)
	_ MemoryStore   = (*FileStore)(nil)
	_ LearningStore = (*FileStore)(nil)
	_ CrashStore    = (*FileStore)(nil)
)
