package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autosumm/internal/registry"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit uint64
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd.Context(), func(store *registry.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					outcome := "ok"
					switch {
					case r.FinishedAt.IsZero():
						outcome = "running"
					case r.AbortReason != "":
						outcome = "aborted: " + truncate(r.AbortReason, 40)
					case r.DryRun:
						outcome = "dry run"
					}
					rows = append(rows, []string{
						stamp(r.StartedAt),
						r.Category,
						itoa(r.Discovered),
						itoa(r.Succeeded),
						itoa(r.Failed),
						itoa(r.Skipped),
						itoa(r.Delivered),
						r.Duration().Round(1e9).String(),
						outcome,
					})
				}
				fmt.Fprint(out, renderTable(out,
					[]string{"Started", "Category", "Found", "OK", "Failed", "Skipped", "Mailed", "Took", "Outcome"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().Uint64VarP(&limit, "limit", "n", 10, "Show at most this many runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}
