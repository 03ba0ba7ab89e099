package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/subman/integrate"
)

var removeManifestOnly bool

// RemoveCmd takes pallets out of the runtime
var RemoveCmd = &cobra.Command{
	Use:     "remove <pallet...>",
	Aliases: []string{"rm"},
	Short:   "Remove pallets from the runtime",
	Long: `Remove pallets from construct_runtime! and the runtime manifest.

The construct_runtime! entry goes first, then the manifest entry and its
std feature member. Remaining pallets keep their indices. Pallets that are
not present are skipped.

Examples:
  subman remove pallet-sudo
  subman rm pallet-sudo pallet-timestamp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func init() {
	RemoveCmd.Flags().BoolVar(&removeManifestOnly, "manifest-only", false, "Only edit Cargo.toml; refused while construct_runtime! still lists the pallet")
}

func runRemove(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd)
	if err != nil {
		return err
	}
	report, err := newEngine(p).Remove(cmd.Context(), p, args, integrate.RemoveOptions{ManifestOnly: removeManifestOnly})
	if err != nil {
		return err
	}
	return printResult(cmd, report, func() error { return renderReport(report) })
}
