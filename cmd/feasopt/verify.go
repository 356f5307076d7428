package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snow-ghost/feasopt/evidence"
)

// maxVerifyWorkers bounds concurrent pack hashing.
const maxVerifyWorkers = 4

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <run-dir>...",
		Short: "Check evidence packs against their manifests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]error, len(args))
			var g errgroup.Group
			g.SetLimit(maxVerifyWorkers)
			for i, dir := range args {
				g.Go(func() error {
					results[i] = evidence.Verify(dir)
					return nil
				})
			}
			_ = g.Wait()

			out := cmd.OutOrStdout()
			failed := 0
			for i, dir := range args {
				if err := results[i]; err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", dir, err)
					continue
				}
				fmt.Fprintf(out, "OK   %s\n", dir)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d packs failed verification: %w", failed, len(args), errors.Join(results...))
			}
			return nil
		},
	}
}
