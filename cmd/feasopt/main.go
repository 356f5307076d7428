// Command feasopt runs feasibility-first design searches against an external
// evaluator and manages the resulting evidence packs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "feasopt",
		Short: "Feasibility-first design search with reproducible evidence packs",
		Long: `feasopt searches a bounded parameter space for candidates that satisfy
every hard constraint reported by an evaluator, then ranks them by an explicit
objective contract. Every run writes a write-once evidence pack.

Examples:
  feasopt run --config run.yaml --evaluator builtin:reactor
  feasopt run --config run.yaml --evaluator wasm:./model.wasm --runs-root out
  feasopt verify runs/2026-01-02T03-04-05Z_seed0000_N0200_ab12cd34ef56
  feasopt runs --runs-root out`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVerifyCmd(), newRunsCmd())
	return root
}
