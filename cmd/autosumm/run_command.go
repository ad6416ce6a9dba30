package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"autosumm/internal/ratelimit"
	"autosumm/internal/runner"
	"autosumm/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var category string
	var dryRun bool
	var strict bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the digest pipeline once",
		Long: `Discover new papers for today's category, score, select, and summarize
them, then render and mail the digest. Stage results are cached, so a rerun
after a failure only repeats the work that did not finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			r := runner.New(cfg, runner.WithLogger(logger))
			res, runErr := r.Run(cmd.Context(), runner.Options{Category: category, DryRun: dryRun})
			if res != nil {
				if asJSON {
					if err := writeJSON(cmd, res); err != nil {
						return err
					}
				} else {
					printRunResult(cmd.OutOrStdout(), res)
				}
			}
			if runErr != nil {
				return runErr
			}
			if failed := res.Manifest.Totals.Failed; strict && failed > 0 {
				return &exitError{code: 2, msg: fmt.Sprintf("%d items failed", failed)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Process this arXiv category instead of today's rotation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Render the digest but do not mail it")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with status 2 when any item failed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	return cmd
}

func printRunResult(out io.Writer, res *runner.Result) {
	fmt.Fprintf(out, "Run %s (%s)\n", res.RunID, res.Category)
	printManifest(out, res.Manifest)
	for _, a := range res.Artifacts {
		fmt.Fprintf(out, "Digest (%s): %s  %s\n", a.Format, a.Path, humanBytes(a.SizeBytes))
	}
	printCalls(out, res.Calls)
	if res.Delivery != nil {
		fmt.Fprintf(out, "Mailed to %d recipients", len(res.Delivery.Recipients))
		if n := len(res.Delivery.Skipped); n > 0 {
			fmt.Fprintf(out, " (%d attachments left out)", n)
		}
		fmt.Fprintln(out)
	}
}

func printCalls(out io.Writer, calls []ratelimit.Stats) {
	rows := make([][]string, 0, len(calls))
	for _, c := range calls {
		if c.Calls == 0 {
			continue
		}
		rows = append(rows, []string{c.Provider, c.Stage, itoa64(c.Calls), itoa64(c.Retries), itoa64(c.Failures)})
	}
	if len(rows) == 0 {
		return
	}
	fmt.Fprint(out, renderTable(out,
		[]string{"Provider", "Stage", "Calls", "Retries", "Failures"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
}

func printManifest(out io.Writer, m workflow.Manifest) {
	if len(m.Items) == 0 {
		fmt.Fprintln(out, "No items")
		return
	}
	rows := make([][]string, 0, len(m.Items))
	for _, e := range m.Items {
		detail := e.Message
		if e.ErrorKind != "" {
			detail = e.ErrorKind + ": " + e.Message
		}
		rows = append(rows, []string{
			e.ItemID,
			truncate(e.Title, 48),
			string(e.Status),
			orDash(e.Stage),
			orDash(truncate(detail, 60)),
			itoa(e.CacheHits),
			itoa(e.Invocations),
		})
	}
	fmt.Fprint(out, renderTable(out,
		[]string{"ID", "Title", "Status", "Stage", "Detail", "Hits", "Calls"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
	t := m.Totals
	fmt.Fprintf(out, "%d items: %d succeeded, %d failed, %d skipped, %d unfinished; %d cache hits, %d calls\n",
		t.Items, t.Succeeded, t.Failed, t.Skipped, t.InProgress+t.Pending, t.CacheHits, t.Invocations)
}
