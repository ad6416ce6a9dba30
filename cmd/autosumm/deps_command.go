package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autosumm/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check the external tools the pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			rows := make([][]string, 0, len(statuses))
			for _, st := range statuses {
				state := "ok"
				switch {
				case !st.Available && st.Optional:
					state = "missing (optional)"
				case !st.Available:
					state = "missing"
				}
				rows = append(rows, []string{st.Name, orDash(st.Command), state, orDash(st.Detail), st.Description})
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderTable(out,
				[]string{"Tool", "Command", "State", "Detail", "Purpose"},
				rows,
				nil,
			))
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required tools missing", len(missing))
			}
			return nil
		},
	}
}
