// Command runner is the CLI entrypoint for the task-execution and
// I/O-mediation service, grounded on the teacher's
// tools/arena/cmd/promptarena one-command-per-file cobra layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waldiez/runner/internal/logger"
)

// Exit codes per §6: 0 normal, 1 runtime failure, 2 startup/config/infra
// failure (unreachable store, stream backend, or invalid configuration).
const (
	exitOK          = 0
	exitRuntimeFail = 1
	exitStartupFail = 2
)

var rootCmd = &cobra.Command{
	Use:   "runner",
	Short: "Task-execution and I/O-mediation service",
	Long: `runner admits flow-file submissions, supervises them as isolated
child processes, mediates their stdin/stdout protocol over a Redis-backed
stream bus, and exposes the result over HTTP and WebSocket.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				fmt.Fprintf(os.Stderr, "error reading verbose flag: %v\n", err)
				return
			}
			logger.SetVerbose(verbose)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "configuration file path (optional; env vars always apply)")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if code, ok := exitCodeFromError(err); ok {
			return code
		}
		return exitRuntimeFail
	}
	return exitOK
}

func main() {
	os.Exit(Execute())
}
