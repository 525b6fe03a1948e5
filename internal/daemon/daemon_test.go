package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomorch/loom/internal/gitbridge"
	"github.com/loomorch/loom/internal/orchestrator"
	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/store"
)

// fakeRunner is a minimal Runner stand-in, same scripted-fake idiom as
// gitbridge's own test double: no mocking framework appears anywhere in
// the pack.
type fakeRunner struct{}

func (fakeRunner) Run(args ...string) (string, error)                 { return "", nil }
func (fakeRunner) CurrentBranch() (string, error)                     { return "main", nil }
func (fakeRunner) DefaultBranch() (string, error)                     { return "main", nil }
func (fakeRunner) CreateBranch(name string) error                     { return nil }
func (fakeRunner) CreateAndCheckoutBranch(name string) error          { return nil }
func (fakeRunner) CheckoutBranch(name string) error                   { return nil }
func (fakeRunner) BranchExists(name string) (bool, error)             { return false, nil }
func (fakeRunner) DeleteBranch(name string) error                     { return nil }
func (fakeRunner) Status() (string, error)                            { return "", nil }
func (fakeRunner) HasChanges() (bool, error)                          { return false, nil }
func (fakeRunner) ChangedFilesBetween(a, b string) ([]string, error)  { return nil, nil }
func (fakeRunner) ConflictedFiles() ([]string, error)                 { return nil, nil }
func (fakeRunner) Add(paths ...string) error                          { return nil }
func (fakeRunner) Commit(message string) error                        { return nil }
func (fakeRunner) MergeNoFF(branch string) error                      { return nil }
func (fakeRunner) MergeNoFFMessage(branch, message string) error      { return nil }
func (fakeRunner) MergeAbort() error                                  { return nil }
func (fakeRunner) MergeBase(a, b string) (string, error)               { return "base", nil }
func (fakeRunner) IsAncestor(ancestor, descendant string) (bool, error) { return true, nil }
func (fakeRunner) Rebase(base string) error                           { return nil }
func (fakeRunner) RebaseAbort() error                                 { return nil }
func (fakeRunner) WorktreeAddNewBranch(path, branch string) error     { return nil }
func (fakeRunner) WorktreeRemove(path string, force bool) error       { return nil }
func (fakeRunner) WorktreeListPorcelain() (string, error)             { return "", nil }
func (fakeRunner) WorktreePruneExpireNow() error                      { return nil }

var _ gitbridge.Runner = fakeRunner{}

func newTestDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	tmp := t.TempDir()
	workRoot := filepath.Join(tmp, ".work")
	if err := store.Init(workRoot); err != nil {
		t.Fatalf("store.Init: %v", err)
	}

	st := store.New(workRoot)
	git := gitbridge.NewWithRunner(tmp, filepath.Join(tmp, ".worktrees"), fakeRunner{})
	backend := sessionbackend.NewStub()

	orch := orchestrator.New(orchestrator.Config{
		Store:    st,
		Git:      git,
		Backend:  backend,
		RepoRoot: tmp,
	}, orchestrator.WithPollInterval(10*time.Millisecond))

	d := New(workRoot, orch, nil)
	return d, workRoot
}

func TestDaemon_StartStopLifecycle(t *testing.T) {
	d, root := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitForStatus(t, d, StatusRunning)

	if _, err := os.Stat(store.PidPath(root)); err != nil {
		t.Fatalf("expected pid file to exist: %v", err)
	}
	if _, err := os.Stat(store.SocketPath(root)); err != nil {
		t.Fatalf("expected socket to exist: %v", err)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}

	if _, err := os.Stat(store.PidPath(root)); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
	if _, err := os.Stat(store.SocketPath(root)); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, stat err=%v", err)
	}
}

func TestDaemon_PingPong(t *testing.T) {
	d, root := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()
	waitForStatus(t, d, StatusRunning)
	defer d.Shutdown(context.Background())

	conn, err := net.Dial("unix", store.SocketPath(root))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := WriteRequest(conn, Request{Kind: ReqPing}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	resp, err := ReadResponse(conn)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Kind != RespPong {
		t.Fatalf("expected RespPong, got %v", resp.Kind)
	}
}

func TestDaemon_SubscribeStatusReceivesUpdate(t *testing.T) {
	d, root := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()
	waitForStatus(t, d, StatusRunning)
	defer d.Shutdown(context.Background())

	conn, err := net.Dial("unix", store.SocketPath(root))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := WriteRequest(conn, Request{Kind: ReqSubscribeStatus}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	ack, err := ReadResponse(conn)
	if err != nil || ack.Kind != RespOk {
		t.Fatalf("expected RespOk ack, got %v err=%v", ack, err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	update, err := ReadResponse(conn)
	if err != nil {
		t.Fatalf("expected a status broadcast, got err=%v", err)
	}
	if update.Kind != RespStatusUpdate {
		t.Fatalf("expected RespStatusUpdate, got %v", update.Kind)
	}
}

func TestDaemon_StopRequestShutsDownDaemon(t *testing.T) {
	d, root := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	waitForStatus(t, d, StatusRunning)

	conn, err := net.Dial("unix", store.SocketPath(root))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := WriteRequest(conn, Request{Kind: ReqStop}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	resp, err := ReadResponse(conn)
	if err != nil || resp.Kind != RespOk {
		t.Fatalf("expected RespOk, got %v err=%v", resp, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after ReqStop")
	}
	if d.GetStatus() != StatusStopped {
		t.Fatalf("expected StatusStopped, got %v", d.GetStatus())
	}
}

func TestIsAlive_UnknownPidFile(t *testing.T) {
	if _, alive := IsAlive(filepath.Join(t.TempDir(), "does-not-exist.pid")); alive {
		t.Fatal("expected IsAlive to report false for a missing pid file")
	}
}

func waitForStatus(t *testing.T, d *Daemon, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.GetStatus() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("daemon never reached status %v, stuck at %v", want, d.GetStatus())
}
