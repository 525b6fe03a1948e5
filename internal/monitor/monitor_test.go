package monitor

import (
	"testing"
	"time"

	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/store"
)

func newTestStore(t *testing.T) *store.FileStore {
	t.Helper()
	root := t.TempDir()
	if err := store.Init(root); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store.New(root)
}

func TestTick_StageCompletedEmitsOnce(t *testing.T) {
	st := newTestStore(t)
	backend := sessionbackend.NewStub()
	m := New(st, backend)

	stage := &store.Stage{ID: "a", Status: store.StageExecuting, StageType: store.StageTypeStandard}
	if err := st.SaveStage(stage); err != nil {
		t.Fatalf("save stage: %v", err)
	}

	if _, err := m.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	stage.Status = store.StageCompleted
	if err := st.SaveStage(stage); err != nil {
		t.Fatalf("save stage: %v", err)
	}

	events, err := m.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !hasEvent(events, EventStageCompleted) {
		t.Fatalf("expected StageCompleted event, got %v", events)
	}

	events, err = m.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if hasEvent(events, EventStageCompleted) {
		t.Fatalf("expected no repeat StageCompleted event, got %v", events)
	}
}

func TestTick_SessionCrashedOnDeadProcess(t *testing.T) {
	st := newTestStore(t)
	backend := sessionbackend.NewStub()
	m := New(st, backend)

	stage := &store.Stage{ID: "a", Status: store.StageExecuting}
	if err := st.SaveStage(stage); err != nil {
		t.Fatalf("save stage: %v", err)
	}
	session, err := backend.SpawnSession(stage, "/wt", "/sig.md", sessionbackend.Config{})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	session.Status = store.SessionRunning
	if err := st.SaveSession(session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	backend.SetRunning(session.ExternalName, false)

	events, err := m.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !hasEvent(events, EventSessionCrashed) {
		t.Fatalf("expected SessionCrashed event, got %v", events)
	}
	ev := findEvent(events, EventSessionCrashed)
	if ev.CrashReportPath == "" {
		t.Error("expected a crash report path")
	}
}

func TestTick_ContextCriticalWritesHandoff(t *testing.T) {
	st := newTestStore(t)
	backend := sessionbackend.NewStub()
	m := New(st, backend)

	stage := &store.Stage{ID: "a", Status: store.StageExecuting}
	if err := st.SaveStage(stage); err != nil {
		t.Fatalf("save stage: %v", err)
	}
	session := &store.Session{
		ID: "sess-1", StageID: "a", ExternalName: "stub-sess-1",
		Status: store.SessionRunning, ContextTokensUsed: 80, ContextTokenLimit: 100,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := st.SaveSession(session); err != nil {
		t.Fatalf("save session: %v", err)
	}
	backend.SetRunning(session.ExternalName, true)

	events, err := m.Tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	ev := findEvent(events, EventSessionContextCritical)
	if ev == nil {
		t.Fatalf("expected SessionContextCritical event, got %v", events)
	}
	if ev.HandoffPath == "" {
		t.Error("expected a handoff path")
	}
}

func hasEvent(events []Event, kind EventKind) bool {
	return findEvent(events, kind) != nil
}

func findEvent(events []Event, kind EventKind) *Event {
	for i := range events {
		if events[i].Kind == kind {
			return &events[i]
		}
	}
	return nil
}
