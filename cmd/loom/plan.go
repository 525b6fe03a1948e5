package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomorch/loom/internal/graph"
	"github.com/loomorch/loom/internal/store"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect and validate plan files",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <plan.md>",
	Short: "Validate a plan file without touching the workspace",
	Long: `Parses the fenced loom METADATA block, applies every validation rule in
spec.md §6 (unknown version, empty stage list, duplicate ids, unknown
dependency ids, self-dependencies, invalid ids, invalid acceptance
criteria), and confirms the dependency graph is acyclic.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanValidate,
}

func init() {
	planCmd.AddCommand(planValidateCmd)
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
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

	fmt.Printf("%s: valid, %d stages\n", path, len(stages))
	return nil
}
