package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/subman/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show subman version information",
	Long:  `Display version, build time, commit hash, and platform information for the subman binary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		return printResult(cmd, info, func() error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, info.String())
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
			return nil
		})
	},
}
