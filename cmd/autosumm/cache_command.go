package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"autosumm/internal/cache"
	"autosumm/internal/logging"
	"autosumm/internal/pdfstore"
	"autosumm/internal/stage"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the result cache and PDF store",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheSweepCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	cacheCmd.AddCommand(newCachePDFsCommand(ctx))
	cacheCmd.AddCommand(newCacheDeliveredCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show result cache usage per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(cmd.Context(), func(store *cache.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database:  %s (%s)\n", store.Path(), humanBytes(stats.FileBytes))
				fmt.Fprintf(out, "Entries:   %d (%d expired)\n", stats.Entries, stats.Expired)
				fmt.Fprintf(out, "Delivered: %d papers\n", stats.Delivered)
				fmt.Fprintf(out, "Disk:      %s free\n", humanBytes(int64(stats.FreeBytes)))
				if len(stats.Stages) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(stats.Stages))
				for _, st := range stats.Stages {
					rows = append(rows, []string{st.Stage, itoa(st.Entries), itoa(st.Expired), humanBytes(st.Bytes)})
				}
				fmt.Fprint(out, renderTable(out,
					[]string{"Stage", "Entries", "Expired", "Size"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print stats as JSON")
	return cmd
}

func newCacheSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(cmd.Context(), func(store *cache.Store) error {
				removed, err := store.Sweep(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Swept %d expired entries\n", removed)
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	var delivered bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached stage results",
		Long: `Remove cached stage results so the next run recomputes them. The
delivered-paper ledger is kept unless --delivered is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(stageName)
			if name != "" && !stage.Name(name).Valid() {
				return fmt.Errorf("unknown stage %q", name)
			}
			return ctx.withCache(cmd.Context(), func(store *cache.Store) error {
				out := cmd.OutOrStdout()
				switch {
				case delivered:
					if name != "" {
						return fmt.Errorf("--delivered clears everything; drop --stage")
					}
					if err := store.Reset(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(out, "Cleared all cached results and the delivered ledger")
				case name != "":
					removed, err := store.InvalidateStage(cmd.Context(), name)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d %s entries\n", removed, name)
				default:
					removed, err := store.InvalidateAll(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d entries\n", removed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Only clear results of this stage")
	cmd.Flags().BoolVar(&delivered, "delivered", false, "Also forget which papers were already mailed")
	return cmd
}

func newCacheDeliveredCommand(ctx *commandContext) *cobra.Command {
	var days int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "delivered",
		Short: "List papers mailed recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return ctx.withCache(cmd.Context(), func(store *cache.Store) error {
				list, err := store.DeliveredSince(cmd.Context(), time.Now().AddDate(0, 0, -days))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintf(out, "No papers mailed in the last %d days\n", days)
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, d := range list {
					rows = append(rows, []string{stamp(d.DeliveredAt), d.ItemID + d.Revision, truncate(d.Title, 60)})
				}
				fmt.Fprint(out, renderTable(out, []string{"Mailed", "Paper", "Title"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "How far back to look")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print deliveries as JSON")
	return cmd
}

func newCachePDFsCommand(ctx *commandContext) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "pdfs",
		Short: "Show or prune the downloaded PDF store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			store := pdfstore.New(cfg.PDFDir(), cfg.Cache.MaxPDFCacheMB, logging.NewComponentLogger(logger, "cli-pdfs"))
			out := cmd.OutOrStdout()
			if prune {
				removed, freed, err := store.Prune(cmd.Context())
				if err != nil {
					return err
				}
				if removed == 0 {
					fmt.Fprintln(out, "No PDFs pruned")
				} else {
					fmt.Fprintf(out, "Pruned %d PDFs (%s)\n", removed, humanBytes(freed))
				}
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printPDFStats(out, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Prune the store down to its size limit first")
	return cmd
}

func printPDFStats(out io.Writer, stats pdfstore.Stats) {
	limit := "unlimited"
	if stats.MaxBytes > 0 {
		limit = humanBytes(stats.MaxBytes)
	}
	fmt.Fprintf(out, "PDFs:  %d\n", stats.Files)
	fmt.Fprintf(out, "Size:  %s / %s\n", humanBytes(stats.TotalBytes), limit)
	fmt.Fprintf(out, "Disk:  %s free (%.1f%%)\n", humanBytes(int64(stats.FreeBytes)), stats.FreeRatio*100)
	if len(stats.Entries) == 0 {
		return
	}
	const shown = 20
	rows := make([][]string, 0, shown)
	for i, e := range stats.Entries {
		if i == shown {
			break
		}
		rows = append(rows, []string{e.Name, humanBytes(e.SizeBytes), ago(e.ModifiedAt)})
	}
	fmt.Fprint(out, renderTable(out, []string{"File", "Size", "Used"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft}))
	if extra := len(stats.Entries) - shown; extra > 0 {
		fmt.Fprintf(out, "... and %d more\n", extra)
	}
}
