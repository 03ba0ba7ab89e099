package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/subman/integrate"
)

var (
	planSource       sourceFlags
	planOverride     bool
	planManifestOnly bool
)

// PlanCmd previews an add without writing
var PlanCmd = &cobra.Command{
	Use:   "plan [crate...]",
	Short: "Show what adding pallets would change",
	Long: `Resolve pallets and check them against the runtime manifest without
writing anything. Takes the same arguments as add.

Examples:
  subman plan pallet-balances --version ">=5.0.0"
  subman plan pallet-balances -o yaml`,
	RunE: runPlan,
}

func init() {
	addSourceFlags(PlanCmd, &planSource)
	PlanCmd.Flags().BoolVar(&planOverride, "override", false, "Plan replacing an entry that comes from a different source")
	PlanCmd.Flags().BoolVar(&planManifestOnly, "manifest-only", false, "Plan Cargo.toml edits only")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ds, err := planSource.descriptors(args)
	if err != nil {
		return err
	}
	p, err := openProject(cmd)
	if err != nil {
		return err
	}
	pl, err := newEngine(p).Preview(cmd.Context(), p, ds, integrate.AddOptions{
		Override:     planOverride,
		ManifestOnly: planManifestOnly,
	})
	if err != nil {
		return err
	}
	view := newPlanView(pl)
	return printResult(cmd, view, func() error { return renderPlan(view) })
}
