package sessionbackend

import (
	"testing"

	"github.com/loomorch/loom/internal/store"
)

func TestStubBackend_SpawnThenKill(t *testing.T) {
	b := NewStub()
	stage := &store.Stage{ID: "stage-a"}

	session, err := b.SpawnSession(stage, "/wt", "/signal.md", Config{ContextTokenLimit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	running, err := b.SessionIsRunning(session.ExternalName)
	if err != nil || !running {
		t.Fatalf("expected session running, got running=%v err=%v", running, err)
	}

	if err := b.KillSession(session); err != nil {
		t.Fatalf("unexpected kill error: %v", err)
	}

	running, err = b.SessionIsRunning(session.ExternalName)
	if err != nil || running {
		t.Fatalf("expected session not running after kill, got running=%v err=%v", running, err)
	}
}

func TestStubBackend_SpawnErr(t *testing.T) {
	b := NewStub()
	b.SpawnErr = errTest
	stage := &store.Stage{ID: "stage-a"}

	if _, err := b.SpawnSession(stage, "/wt", "/signal.md", Config{}); err != errTest {
		t.Fatalf("expected scripted error, got %v", err)
	}
}

func TestStubBackend_SimulatedCrash(t *testing.T) {
	b := NewStub()
	stage := &store.Stage{ID: "stage-a"}
	session, _ := b.SpawnSession(stage, "/wt", "/signal.md", Config{})

	b.SetRunning(session.ExternalName, false)

	running, _ := b.SessionIsRunning(session.ExternalName)
	if running {
		t.Error("expected SetRunning(false) to simulate a crashed process")
	}
}

var errTest = &stubError{"spawn failed"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
