package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomorch/loom/internal/corelog"
	"github.com/loomorch/loom/internal/daemon"
	"github.com/loomorch/loom/internal/gitbridge"
	"github.com/loomorch/loom/internal/graph"
	"github.com/loomorch/loom/internal/orchestrator"
	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/store"
)

var runPlanPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Adopt a plan (if given) and run the daemon in the foreground",
	Long: `Runs the Orchestrator and its Daemon/IPC wrapper in the foreground,
blocking until Ctrl-C or a SIGTERM. This is the quickest way to drive a
single plan from a terminal; for a detached process use "loom daemon
start" instead.`,
	RunE: runRunCmd,
}

func init() {
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "plan file to adopt before running (optional if stages already exist)")
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	cfg, err := store.LoadConfig(root)
	if err != nil {
		return err
	}

	if runPlanPath != "" {
		if err := adoptPlan(root, runPlanPath, cfg); err != nil {
			return err
		}
		cfg, err = store.LoadConfig(root)
		if err != nil {
			return err
		}
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("loom running at %s (ctrl-c to stop)\n", root)
	return d.Start(ctx)
}

// adoptPlan parses and validates a plan file, then persists any stage it
// names that the Store doesn't already know about. Existing stages are
// left untouched so re-running "loom run --plan" after a crash doesn't
// clobber in-flight status.
func adoptPlan(root, path string, cfg store.WorkspaceConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	plan, err := store.ParsePlan(path, raw)
	if err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	now := func() time.Time { return time.Now().UTC() }
	stages := make([]*store.Stage, 0, len(plan.Meta.Stages))
	for _, sd := range plan.Meta.Stages {
		stages = append(stages, sd.ToStage(path, now))
	}

	g := graph.New()
	if err := g.Build(stages); err != nil {
		return err
	}
	depths := g.Depths()

	st := store.New(root)
	defer st.Close()

	existing, err := st.ListStages()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.ID] = true
	}

	if plan.Meta.AutoMerge != nil {
		cfg.AutoMergeDefault = *plan.Meta.AutoMerge
		_ = store.SaveConfig(root, cfg)
	}

	added := 0
	for _, stg := range stages {
		if known[stg.ID] {
			continue
		}
		stg.Depth = depths[stg.ID]
		if err := st.SaveStage(stg); err != nil {
			return fmt.Errorf("adopt stage %s: %w", stg.ID, err)
		}
		added++
	}
	fmt.Printf("adopted %d new stage(s) from %s (%d already known)\n", added, path, len(stages)-added)
	return nil
}
