package main

import (
	"encoding/json"
	"fmt"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/evidence"
	"github.com/snow-ghost/feasopt/ledger"
)

func newRunsCmd() *cobra.Command {
	var (
		runsRoot   string
		ledgerPath string
		strategy   string
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List evidence packs",
		Long: `List the evidence packs under the runs root. With --ledger the SQLite
run ledger is queried instead of the filesystem.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("runs-root") {
				runsRoot = env.RunsRoot
			}
			if !cmd.Flags().Changed("ledger") {
				ledgerPath = env.LedgerPath
			}
			if ledgerPath != "" {
				return listLedger(cmd, ledgerPath, ledger.Filter{Strategy: strategy, Limit: limit}, jsonOutput)
			}
			return listPacks(cmd, runsRoot, strategy, limit, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&runsRoot, "runs-root", "", "directory holding evidence packs (env FEASOPT_RUNS_ROOT)")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "read from the SQLite run ledger (env FEASOPT_LEDGER)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "only list runs of this strategy")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum runs to list, 0 for all")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func listPacks(cmd *cobra.Command, root, strategy string, limit int, jsonOutput bool) error {
	all, err := evidence.List(root)
	if err != nil {
		return err
	}
	var runs []evidence.Summary
	for _, s := range all {
		if strategy != "" && s.Strategy != strategy {
			continue
		}
		runs = append(runs, s)
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	if jsonOutput {
		return writeJSON(cmd, runs)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTRATEGY\tN\tFEASIBLE\tELAPSED_S\tCOMPLETE")
	for _, s := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%t\n", s.ID, s.Strategy, s.N, s.NFeasible, s.Elapsed, s.Complete)
	}
	return w.Flush()
}

type ledgerRow struct {
	RunID         string   `json:"run_id"`
	CreatedAt     string   `json:"created_at"`
	Dir           string   `json:"dir"`
	Strategy      string   `json:"strategy"`
	Objective     string   `json:"objective"`
	N             int      `json:"n"`
	NFeasible     int      `json:"n_feasible"`
	BestObjective *float64 `json:"best_objective"`
}

func listLedger(cmd *cobra.Command, path string, filter ledger.Filter, jsonOutput bool) error {
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	rows := make([]ledgerRow, 0, len(entries))
	for _, e := range entries {
		row := ledgerRow{
			RunID:     e.RunID,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Dir:       e.Dir,
			Strategy:  e.Strategy,
			Objective: e.Objective,
			N:         e.N,
			NFeasible: e.NFeasible,
		}
		if !math.IsNaN(e.BestObjective) {
			best := e.BestObjective
			row.BestObjective = &best
		}
		rows = append(rows, row)
	}
	if jsonOutput {
		return writeJSON(cmd, rows)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCREATED\tSTRATEGY\tOBJECTIVE\tN\tFEASIBLE\tBEST")
	for _, r := range rows {
		best := "-"
		if r.BestObjective != nil {
			best = fmt.Sprintf("%g", *r.BestObjective)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", r.RunID, r.CreatedAt, r.Strategy, r.Objective, r.N, r.NFeasible, best)
	}
	return w.Flush()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
