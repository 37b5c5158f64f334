package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/magpie-cli/internal/config"
	"github.com/xkilldash9x/magpie-cli/internal/observability"
	"github.com/xkilldash9x/magpie-cli/internal/store"
)

// newHistoryCmd creates the `history` command.
func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Prints recent runs from the history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			loc, err := cfg.Schedule.Location()
			if err != nil {
				loc = time.Local
			}

			st, err := store.New(ctx, cfg.Store.Path, loc, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.History(ctx, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tPROFILE\tSTARTED\tDURATION\tSTATE\tCOINS\tERROR")
			for _, r := range records {
				coins := ""
				if r.Collected {
					coins = "collected"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Day, r.ProfileKey,
					r.StartedAt.In(loc).Format("15:04:05"),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
					r.FinalState, coins, r.Error)
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().IntP("limit", "n", 14, "Number of runs to show.")
	return historyCmd
}
