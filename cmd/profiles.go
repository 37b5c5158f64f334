package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/magpie-cli/internal/profile"
)

// newProfilesCmd creates the `profiles` command.
func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Lists the available device fingerprint profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LOCALE\tDEVICE\tVIEWPORT\tLANGUAGES\tTIMEZONE")
			for _, key := range profile.Keys() {
				p, err := profile.Select(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\n",
					key, p.DeviceName,
					p.Viewport.Width, p.Viewport.Height,
					strings.Join(p.Languages, ","),
					p.TimezoneID)
			}
			return w.Flush()
		},
	}
}
