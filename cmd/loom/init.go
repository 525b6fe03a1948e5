package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loomorch/loom/internal/store"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a .work workspace in a repository",
	Long: `Creates the .work directory layout (stages, sessions, signals, handoffs,
memory, learnings, crashes) and a sibling .worktrees directory, the layout
spec.md §4.A and §6 require for every other loom command to find its
workspace root by walking up the directory tree.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInitCmd,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "reinitialize even if .work already exists")
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absDir, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", targetDir, err)
	}

	root := filepath.Join(absDir, store.WorkDirName)
	if _, err := os.Stat(root); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to reinitialize)", root)
	}

	if err := store.Init(root); err != nil {
		return err
	}
	if err := os.MkdirAll(store.WorktreesDir(root), 0o755); err != nil {
		return fmt.Errorf("create worktrees dir: %w", err)
	}

	cfg := store.DefaultWorkspaceConfig()
	cfg.RepoRoot = absDir
	if err := store.SaveConfig(root, cfg); err != nil {
		return err
	}

	fmt.Printf("initialized workspace at %s\n", root)
	return nil
}
