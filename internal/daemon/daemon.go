// Package daemon is the background process that owns one Orchestrator and
// streams its state to interactive clients over a local Unix-domain socket
// (spec.md §4.H, Component H). It never interprets plan files or git state
// itself — it only wraps an already-constructed *orchestrator.Orchestrator
// with a socket server and a pid/log file lifecycle.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loomorch/loom/internal/corelog"
	"github.com/loomorch/loom/internal/orchestrator"
	"github.com/loomorch/loom/internal/store"
)

// Status mirrors the daemon's own lifecycle, distinct from any stage or
// session status.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Daemon binds exactly one Orchestrator to a Unix-domain socket and fans
// its progress out to subscribers. Shape grounded on
// other_examples/91eb00e3_inful-docbuilder (atomic.Value status, stopChan,
// sync.WaitGroup worker tracking) and
// _examples/kingrea-The-Lattice/internal/eventbridge/server.go (listener
// lifecycle), adapted from TCP/HTTP to a framed Unix socket.
type Daemon struct {
	root       string
	socketPath string
	pidPath    string
	orch       *orchestrator.Orchestrator
	logger     *corelog.Logger

	status    atomic.Value // Status
	startTime time.Time

	mu       sync.Mutex
	listener net.Listener
	stopChan chan struct{}
	workers  sync.WaitGroup

	statusSubs *subscriberList
	logSubs    *subscriberList

	lastProgress atomic.Value // orchestrator.Progress
}

// New constructs a Daemon rooted at workspace root, wrapping orch. It does
// not bind the socket or start any goroutine — call Start for that.
func New(root string, orch *orchestrator.Orchestrator, logger *corelog.Logger) *Daemon {
	if logger == nil {
		logger = corelog.Nop()
	}
	d := &Daemon{
		root:       root,
		socketPath: store.SocketPath(root),
		pidPath:    store.PidPath(root),
		orch:       orch,
		logger:     logger,
		statusSubs: newSubscriberList(),
		logSubs:    newSubscriberList(),
	}
	d.status.Store(StatusStopped)
	d.lastProgress.Store(orchestrator.Progress{})
	orch.SetProgressReporter(d.onProgress)
	logger.SetSink(func(line string) { d.logSubs.broadcast(Response{Kind: RespLogLine, Line: line}) })
	return d
}

func (d *Daemon) GetStatus() Status {
	s, _ := d.status.Load().(Status)
	if s == "" {
		return StatusStopped
	}
	return s
}

// Start binds the socket, writes the pid file, and spawns the long-lived
// threads named in spec.md §4.H: the orchestrator loop, a periodic status
// broadcaster, and the accept loop (which spawns one further goroutine per
// client connection). The log tail-and-fanout duty is folded into
// corelog.Logger's sink hook (installed in New) rather than a fourth
// polling thread, since Daemon and Orchestrator share one process and a
// direct callback needs no file-tail step. It blocks until Shutdown is
// called or ctx is canceled.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already %s", d.GetStatus())
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now().UTC()
	d.stopChan = make(chan struct{})

	if err := writePidFile(d.pidPath); err != nil {
		d.status.Store(StatusStopped)
		d.mu.Unlock()
		return err
	}

	_ = os.Remove(d.socketPath) // stale socket from an unclean prior exit
	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		d.status.Store(StatusStopped)
		_ = os.Remove(d.pidPath)
		d.mu.Unlock()
		return fmt.Errorf("daemon: listen %s: %w", d.socketPath, err)
	}
	d.listener = listener
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-d.stopChan:
			cancel()
		case <-runCtx.Done():
		}
	}()

	d.logger.Log("daemon: starting, socket=%s pid=%d", d.socketPath, os.Getpid())

	d.workers.Add(3)
	go d.runOrchestrator(runCtx)
	go d.runStatusBroadcaster(runCtx)
	go d.runAcceptLoop(runCtx, listener)

	d.status.Store(StatusRunning)
	d.logger.Log("daemon: running")

	<-runCtx.Done()
	return d.shutdown(context.Background())
}

// Shutdown requests a graceful stop and waits for it. Safe to call
// concurrently with Start (it signals stopChan, which Start's internal
// goroutine converts into context cancellation).
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() == StatusStopped {
		d.mu.Unlock()
		return nil
	}
	stopChan := d.stopChan
	d.mu.Unlock()

	if stopChan != nil {
		select {
		case <-stopChan:
		default:
			close(stopChan)
		}
	}

	done := make(chan struct{})
	go func() {
		for d.GetStatus() != StatusStopped {
			time.Sleep(20 * time.Millisecond)
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() == StatusStopped {
		d.mu.Unlock()
		return nil
	}
	d.status.Store(StatusStopping)
	d.orch.Stop()
	listener := d.listener
	d.listener = nil
	d.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}

	waitDone := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(10 * time.Second):
		d.logger.Log("daemon: timed out waiting for workers to exit")
	}

	_ = os.Remove(d.socketPath)
	_ = os.Remove(d.pidPath)

	d.status.Store(StatusStopped)
	d.logger.Log("daemon: stopped, uptime=%s", time.Since(d.startTime))
	return nil
}

func (d *Daemon) runOrchestrator(ctx context.Context) {
	defer d.workers.Done()
	if err := d.orch.Run(ctx); err != nil {
		d.logger.Log("daemon: orchestrator exited with error: %v", err)
	}
}

func (d *Daemon) runStatusBroadcaster(ctx context.Context) {
	defer d.workers.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, _ := d.lastProgress.Load().(orchestrator.Progress)
			d.statusSubs.broadcast(Response{
				Kind:      RespStatusUpdate,
				Executing: p.Executing,
				Pending:   p.Pending,
				Completed: p.Completed,
				Blocked:   p.Blocked,
			})
		}
	}
}

// onProgress is installed as the Orchestrator's progress sink via SetProgressReporter
// (spec.md §4.G.1.d); it only updates the cached snapshot the broadcaster
// ticks out, so the Orchestrator's scheduling loop never blocks on a slow
// subscriber.
func (d *Daemon) onProgress(p orchestrator.Progress) {
	d.lastProgress.Store(p)
}

func (d *Daemon) runAcceptLoop(ctx context.Context, listener net.Listener) {
	defer d.workers.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.logger.Log("daemon: accept error: %v", err)
				return
			}
		}
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// IsAlive reports whether the process recorded in the pid file at path is
// still alive, the liveness check named in spec.md §6.
func IsAlive(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually delivering a signal.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}
