// Command taskcored runs the task-pipeline daemon: it wires the Entity
// Store, Correlation Registry, Transaction Processor, Interrupt
// Controller, Instruction Set, and pipeline driver together and keeps
// the driver ticking until the process is signaled to stop. Grounded on
// the teacher's cmd/bd/main.go wiring (package-level cobra root command,
// signal-aware context, flag-bound config path).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "taskcored",
	Short: "taskpipe instruction pipeline daemon",
	Long: "taskcored runs the background instruction pipeline: Interface/Schedule/Execute/" +
		"Resolve/Writeback, backed by the Entity Store and driven by ISA-declared instruction types.",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context canceled on SIGINT/SIGTERM, mirroring
// the teacher's rootCtx/rootCancel pair in cmd/bd/main.go.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
