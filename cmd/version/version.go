// Package version prints build information.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/streamhub/internal/buildinfo"
)

// Command creates the version command.
func Command(bi *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), bi.String())
		},
	}
}
