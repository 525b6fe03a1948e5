package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomorch/loom/internal/store"
)

var stageHard bool

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Apply one state-machine transition to a stage (spec.md §6 CLI surface)",
}

func init() {
	for _, verb := range []struct {
		use   string
		short string
		to    store.StageStatus
	}{
		{"ready", "mark a stage Queued", store.StageQueued},
		{"waiting", "mark a stage WaitingForDeps", store.StageWaitingForDeps},
		{"complete", "mark a stage Completed", store.StageCompleted},
		{"block", "mark a stage Blocked", store.StageBlocked},
		{"resume-from-waiting", "move a WaitingForInput stage back to Executing", store.StageExecuting},
		{"release", "move a held or blocked stage back to Queued", store.StageQueued},
	} {
		verb := verb
		stageCmd.AddCommand(&cobra.Command{
			Use:   verb.use + " <stage-id>",
			Short: verb.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if verb.use == "release" {
					return withStage(args[0], func(st store.Store, stg *store.Stage) error {
						if err := store.Transition(stg, verb.to, func() time.Time { return time.Now().UTC() }); err != nil {
							return err
						}
						stg.Held = false
						return st.SaveStage(stg)
					})
				}
				return applyStageTransition(args[0], verb.to)
			},
		})
	}

	resetCmd := &cobra.Command{
		Use:   "reset <stage-id>",
		Short: "Reset a stage back to WaitingForDeps, clearing its session assignment",
		Args:  cobra.ExactArgs(1),
		RunE:  runStageReset,
	}
	resetCmd.Flags().BoolVar(&stageHard, "hard", false, "also clear retry_count and failure_info")
	stageCmd.AddCommand(resetCmd)

	stageCmd.AddCommand(&cobra.Command{
		Use:   "hold <stage-id>",
		Short: "Set the manual-pause flag on a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStage(args[0], func(st store.Store, stg *store.Stage) error {
				stg.Held = true
				stg.UpdatedAt = time.Now().UTC()
				return st.SaveStage(stg)
			})
		},
	})
}

func applyStageTransition(id string, to store.StageStatus) error {
	return withStage(id, func(st store.Store, stg *store.Stage) error {
		now := func() time.Time { return time.Now().UTC() }
		if err := store.Transition(stg, to, now); err != nil {
			return err
		}
		return st.SaveStage(stg)
	})
}

func runStageReset(cmd *cobra.Command, args []string) error {
	return withStage(args[0], func(st store.Store, stg *store.Stage) error {
		now := func() time.Time { return time.Now().UTC() }
		if err := store.Transition(stg, store.StageWaitingForDeps, now); err != nil {
			return err
		}
		stg.Session = ""
		stg.Worktree = ""
		if stageHard {
			stg.RetryCount = 0
			stg.FailureInfo = nil
		}
		return st.SaveStage(stg)
	})
}

func withStage(id string, fn func(store.Store, *store.Stage) error) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	st := store.New(root)
	defer st.Close()

	stg, err := st.LoadStage(id)
	if err != nil {
		return err
	}
	if err := fn(st, stg); err != nil {
		return err
	}
	fmt.Printf("stage %s -> %s\n", id, stg.Status)
	return nil
}
