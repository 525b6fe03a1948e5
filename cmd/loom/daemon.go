package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomorch/loom/internal/corelog"
	"github.com/loomorch/loom/internal/daemon"
	"github.com/loomorch/loom/internal/gitbridge"
	"github.com/loomorch/loom/internal/orchestrator"
	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/store"
)

// daemonRunMarker is set in the environment of the detached child process
// that "loom daemon start" re-executes as "loom daemon run" (internal,
// undocumented), marking it as the forked daemon — the sentinel-env-var
// re-exec pattern common Go daemon tooling uses in place of a real
// fork(2), which the os/exec-only stdlib doesn't expose. "daemon run"
// does not read it: it always calls Daemon.Start directly.
const daemonRunMarker = "LOOM_DAEMON_CHILD"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start, stop, or query the background orchestrator process",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon as a detached background process",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is alive",
	RunE:  runDaemonStatus,
}

// daemonRunCmd is the internal re-exec target: it actually binds the
// socket and runs the Orchestrator. Hidden because end users only ever
// invoke "daemon start".
var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	RunE:   runDaemonRun,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRunCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	if pid, alive := daemon.IsAlive(store.PidPath(root)); alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	child := exec.Command(exe, "daemon", "run")
	child.Dir, _ = os.Getwd()
	child.Env = append(os.Environ(), daemonRunMarker+"=1")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()
	child.Stdin = devnull
	child.Stdout = devnull
	child.Stderr = devnull

	if err := child.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	if err := child.Process.Release(); err != nil {
		return fmt.Errorf("detach daemon: %w", err)
	}

	// Give the child a moment to write its pid file before reporting.
	for i := 0; i < 50; i++ {
		if _, alive := daemon.IsAlive(store.PidPath(root)); alive {
			fmt.Printf("daemon started, socket=%s\n", store.SocketPath(root))
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not report alive within 1s; check %s", store.LogPath(root))
}

// runDaemonRun is what the detached child actually executes: it builds the
// Orchestrator exactly as "loom run" does and blocks in Daemon.Start.
func runDaemonRun(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	cfg, err := store.LoadConfig(root)
	if err != nil {
		return err
	}

	logger, err := corelog.ForWorkspace(root)
	if err != nil {
		return err
	}
	defer logger.Close()

	st := store.New(root)
	defer st.Close()

	git, err := gitbridge.New(cfg.RepoRoot, store.WorktreesDir(root))
	if err != nil {
		return err
	}
	backend := sessionbackend.NewTerminalBackend()

	orch := orchestrator.New(orchestrator.Config{
		Store:    st,
		Git:      git,
		Backend:  backend,
		RepoRoot: cfg.RepoRoot,
	},
		orchestrator.WithLogger(logger),
		orchestrator.WithMaxParallelSessions(cfg.MaxParallelSessions),
		orchestrator.WithPollInterval(cfg.PollInterval()),
		orchestrator.WithStatusInterval(cfg.StatusInterval()),
		orchestrator.WithAutoMergeDefault(cfg.AutoMergeDefault),
		orchestrator.WithForceNoMerge(cfg.ForceNoMerge),
	)

	d := daemon.New(root, orch, logger)
	return d.Start(context.Background())
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	conn, err := dialDaemon(root)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := daemon.WriteRequest(conn, daemon.Request{Kind: daemon.ReqStop}); err != nil {
		return err
	}
	resp, err := daemon.ReadResponse(conn)
	if err != nil {
		return err
	}
	if resp.Kind == daemon.RespError {
		return fmt.Errorf("daemon: %s", resp.Message)
	}
	fmt.Println("daemon stopping")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	pid, alive := daemon.IsAlive(store.PidPath(root))
	if !alive {
		fmt.Println("daemon: stopped")
		return nil
	}
	fmt.Printf("daemon: running (pid %d)\n", pid)

	conn, err := dialDaemon(root)
	if err != nil {
		return nil // pid alive but socket not yet reachable is not fatal here
	}
	defer conn.Close()
	if err := daemon.WriteRequest(conn, daemon.Request{Kind: daemon.ReqPing}); err != nil {
		return nil
	}
	if _, err := daemon.ReadResponse(conn); err != nil {
		return nil
	}
	fmt.Println("socket: responsive")
	return nil
}
