package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomorch/loom/internal/daemon"
	"github.com/loomorch/loom/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aggregate stage counts",
	Long: `Prefers a live daemon's figures (via SubscribeStatus's first
StatusUpdate); falls back to counting stage files directly when no daemon
is running.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}

	if _, alive := daemon.IsAlive(store.PidPath(root)); alive {
		if conn, err := dialDaemon(root); err == nil {
			defer conn.Close()
			if err := daemon.WriteRequest(conn, daemon.Request{Kind: daemon.ReqSubscribeStatus}); err == nil {
				if _, err := daemon.ReadResponse(conn); err == nil { // the Ok ack
					if resp, err := daemon.ReadResponse(conn); err == nil && resp.Kind == daemon.RespStatusUpdate {
						printStatus(resp.Executing, resp.Pending, resp.Completed, resp.Blocked)
						return nil
					}
				}
			}
		}
	}

	st := store.New(root)
	defer st.Close()
	stages, err := st.ListStages()
	if err != nil {
		return err
	}
	var executing, pending, completed, blocked int
	for _, stg := range stages {
		switch stg.Status {
		case store.StageExecuting:
			executing++
		case store.StageCompleted:
			completed++
		case store.StageBlocked, store.StageMergeBlocked, store.StageNeedsHumanReview:
			blocked++
		default:
			pending++
		}
	}
	printStatus(executing, pending, completed, blocked)
	return nil
}

func printStatus(executing, pending, completed, blocked int) {
	fmt.Printf("executing=%d pending=%d completed=%d blocked=%d\n", executing, pending, completed, blocked)
}
