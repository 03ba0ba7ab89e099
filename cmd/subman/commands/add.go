package commands

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/subman/buildcheck"
	"github.com/teranos/subman/display"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/integrate"
	"github.com/teranos/subman/logger"
	"github.com/teranos/subman/txn"
)

var (
	addSource       sourceFlags
	addOverride     bool
	addManifestOnly bool
	addCheck        bool
)

// AddCmd integrates pallets into the runtime
var AddCmd = &cobra.Command{
	Use:   "add [crate...]",
	Short: "Add pallets to the runtime",
	Long: `Add pallets to the runtime manifest and construct_runtime!.

Every crate named is resolved first; then the manifest entry, the std
feature member, the construct_runtime! entry and an empty Config impl are
written in one transaction. If anything fails, both files are restored.

Examples:
  subman add pallet-balances                                # latest from crates.io
  subman add pallet-balances --version ^4.0.0
  subman add pallet-nfts --registry internal                # named cargo registry
  subman add pallet-sudo pallet-timestamp \
      --source github.com/paritytech/polkadot-sdk --ref polkadot-v1.0.0
  subman add --source ./pallets/kitties                     # local crate
  subman add pallet-balances --override                     # replace a path/git entry`,
	RunE: runAdd,
}

func init() {
	addSourceFlags(AddCmd, &addSource)
	AddCmd.Flags().BoolVar(&addOverride, "override", false, "Replace an existing entry that comes from a different source")
	AddCmd.Flags().BoolVar(&addManifestOnly, "manifest-only", false, "Only edit Cargo.toml, leave construct_runtime! alone")
	AddCmd.Flags().BoolVar(&addCheck, "check", false, "Run the build command after a successful change")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ds, err := addSource.descriptors(args)
	if err != nil {
		return err
	}
	p, err := openProject(cmd)
	if err != nil {
		return err
	}

	report, err := newEngine(p).Add(cmd.Context(), p, ds, integrate.AddOptions{
		Override:     addOverride,
		ManifestOnly: addManifestOnly,
	})
	if err != nil {
		return err
	}
	if err := printResult(cmd, report, func() error { return renderReport(report) }); err != nil {
		return err
	}

	if addCheck && report.Modified() {
		return runBuild(cmd, p.RuntimeDir(), p.Config().Build.Command, report)
	}
	return nil
}

// runBuild checks the runtime still builds after report was committed
func runBuild(cmd *cobra.Command, dir, command string, report *txn.CommitReport) error {
	runner, err := buildcheck.New(command, buildcheck.WithLogger(logger.ComponentLogger("buildcheck")))
	if err != nil {
		return err
	}
	var spinner *pterm.SpinnerPrinter
	if format, _ := display.OutputFormat(cmd); format == display.FormatTable {
		spinner, _ = pterm.DefaultSpinner.Start("Building runtime...")
	}
	res, err := runner.Run(cmd.Context(), dir)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return err
	}
	if spinner != nil {
		renderBuild(res)
	}
	if !res.Passed {
		return errors.WithHintf(errors.Newf("runtime build failed after transaction %s", report.TxID),
			"the change is committed; undo it with: subman remove %s", pallets(report))
	}
	return nil
}

func pallets(r *txn.CommitReport) string {
	names := make([]string, len(r.Pallets))
	for i, p := range r.Pallets {
		names[i] = p.Pallet
	}
	return strings.Join(names, " ")
}
