// Command loom is the thin CLI collaborator named in spec.md §1 and §6:
// it is explicitly NOT part of the orchestration Core. "daemon stop",
// "daemon status" and "status" talk to a running daemon over its
// Unix-domain socket ("status" falls back to reading stage files); init,
// plan validate and the stage verbs work on the files directly, and run
// drives the orchestrator in-process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomorch/loom/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Orchestrate a fleet of autonomous coding sessions across a stage DAG",
	Long: `Loom drives a fleet of autonomous coding agents through a user-supplied
dependency graph of stages. Each ready stage gets its own git worktree, a
rendered briefing, and a monitored session; completed work is auto-merged
back to a target branch and dependents are rescheduled.

Available commands:
  init               Initialize a workspace in the current repository
  plan validate      Validate a plan file without starting anything
  run                Start the daemon in the foreground and drive a plan
  daemon start        Start the daemon in the background
  daemon stop         Stop a running daemon
  daemon status       Report whether the daemon is alive
  stage <verb>       Apply one state-machine transition to a stage
  status             Show aggregate stage counts

Use "loom [command] --help" for more information about a command.`,
}

func init() {
	rootCmd.Version = version.Get()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "repo", "", "directory to discover the workspace from (defaults to the current directory; init uses its own [directory] argument)")
	cobra.OnInitialize(initViper)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(statusCmd)
}

// initViper enables LOOM_-prefixed environment lookups in viper. No
// command currently reads a value through viper; daemon and scheduling
// defaults come from the workspace-local config.toml (read by
// internal/store), a separate layer that viper never touches.
func initViper() {
	viper.SetEnvPrefix("LOOM")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
