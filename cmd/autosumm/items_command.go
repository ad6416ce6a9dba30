package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"autosumm/internal/item"
	"autosumm/internal/registry"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect and manage known papers",
	}

	itemsCmd.AddCommand(newItemsListCommand(ctx))
	itemsCmd.AddCommand(newItemsShowCommand(ctx))
	itemsCmd.AddCommand(newItemsRetryCommand(ctx))
	itemsCmd.AddCommand(newItemsRemoveCommand(ctx))

	return itemsCmd
}

func newItemsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var category string
	var limit uint64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List papers in the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := registry.Filter{Category: strings.TrimSpace(category), Limit: limit}
			for _, raw := range statuses {
				st, err := item.ParseStatus(raw)
				if err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, st)
			}
			return ctx.withRegistry(cmd.Context(), func(store *registry.Store) error {
				records, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No items")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						rec.ID + rec.Revision,
						truncate(rec.Title, 56),
						string(rec.Status),
						orDash(rec.LastStage),
						itoa(rec.Attempts),
						ago(rec.UpdatedAt),
					})
				}
				fmt.Fprint(out, renderTable(out,
					[]string{"ID", "Title", "Status", "Stage", "Attempts", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, in-progress, succeeded, failed, skipped)")
	cmd.Flags().StringVar(&category, "category", "", "Filter by arXiv category")
	cmd.Flags().Uint64VarP(&limit, "limit", "n", 0, "Show at most this many items")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	return cmd
}

func newItemsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one paper's registry record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withRegistry(cmd.Context(), func(store *registry.Store) error {
				rec, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("item %s not found", id)
				}
				if asJSON {
					return writeJSON(cmd, rec)
				}
				printRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	return cmd
}

func printRecord(out io.Writer, rec *registry.Record) {
	fmt.Fprintf(out, "ID:        %s%s\n", rec.ID, rec.Revision)
	fmt.Fprintf(out, "Title:     %s\n", orDash(rec.Title))
	fmt.Fprintf(out, "Category:  %s\n", orDash(rec.Category))
	fmt.Fprintf(out, "Status:    %s\n", rec.Status)
	fmt.Fprintf(out, "Stage:     %s\n", orDash(rec.LastStage))
	if rec.ErrorKind != "" || rec.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s: %s\n", orDash(rec.ErrorKind), orDash(rec.ErrorMessage))
	}
	fmt.Fprintf(out, "Attempts:  %d\n", rec.Attempts)
	fmt.Fprintf(out, "Abstract:  %s\n", orDash(rec.AbstractURL))
	fmt.Fprintf(out, "PDF:       %s\n", orDash(rec.PDFURL))
	fmt.Fprintf(out, "Published: %s\n", stamp(rec.PublishedAt))
	fmt.Fprintf(out, "Last run:  %s\n", orDash(rec.LastRunID))
	fmt.Fprintf(out, "Updated:   %s (%s)\n", stamp(rec.UpdatedAt), ago(rec.UpdatedAt))
}

func newItemsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Move failed papers back to pending",
		Long:  "Move failed papers back to pending and reset their attempt count. Without ids every failed paper is retried.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd.Context(), func(store *registry.Store) error {
				n, err := store.RetryFailed(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d failed items\n", n)
				return nil
			})
		},
	}
}

func newItemsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id...>",
		Short: "Forget papers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd.Context(), func(store *registry.Store) error {
				n, err := store.Remove(cmd.Context(), args...)
				if err != nil {
					return err
				}
				if n == 0 {
					return errors.New("no matching items")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d items\n", n)
				return nil
			})
		},
	}
}
