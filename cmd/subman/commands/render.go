package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/subman/buildcheck"
	"github.com/teranos/subman/display"
	"github.com/teranos/subman/plan"
	"github.com/teranos/subman/txn"
)

// printResult writes v in the machine format requested, or calls table
func printResult(cmd *cobra.Command, v interface{}, table func() error) error {
	format, err := display.OutputFormat(cmd)
	if err != nil {
		return err
	}
	if format == display.FormatTable {
		return table()
	}
	return display.Output(cmd.OutOrStdout(), format, v)
}

func renderReport(r *txn.CommitReport) error {
	files := pterm.TableData{{"File", "Target", "Modified"}}
	for _, f := range r.Files {
		files = append(files, []string{f.Path, f.Kind, yesNo(f.Modified)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(files).Render(); err != nil {
		return err
	}
	pterm.Println()

	pallets := pterm.TableData{{"Pallet", "Op", "Outcome", "Index", "Config stub"}}
	for _, p := range r.Pallets {
		index, stub := "-", "-"
		if p.Index >= 0 {
			index = strconv.Itoa(p.Index)
		}
		if p.StubLine > 0 {
			stub = fmt.Sprintf("line %d", p.StubLine)
		}
		pallets = append(pallets, []string{p.Pallet, p.Op, p.Outcome, index, stub})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(pallets).Render(); err != nil {
		return err
	}
	pterm.Println()

	if !r.Modified() {
		pterm.Info.Println("Nothing to do: the runtime already matches the request")
		return nil
	}
	pterm.Success.Printf("Transaction %s committed\n", r.TxID)
	for _, p := range r.Pallets {
		if p.StubLine > 0 && p.Op == plan.Add.String() {
			pterm.Info.Printf("Fill in the Config of %s at line %d of the runtime\n", p.Pallet, p.StubLine)
		}
	}
	return nil
}

// planView is the machine-readable form of a preview
type planView struct {
	Steps    []stepView    `json:"steps" yaml:"steps"`
	Outcomes []outcomeView `json:"outcomes" yaml:"outcomes"`
}

type stepView struct {
	Target string `json:"target" yaml:"target"`
	Op     string `json:"op" yaml:"op"`
	Pallet string `json:"pallet" yaml:"pallet"`
}

type outcomeView struct {
	Pallet string `json:"pallet" yaml:"pallet"`
	Kind   string `json:"kind" yaml:"kind"`
	Old    string `json:"old,omitempty" yaml:"old,omitempty"`
	New    string `json:"new,omitempty" yaml:"new,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func newPlanView(p *plan.Plan) planView {
	var v planView
	for _, s := range p.Steps {
		v.Steps = append(v.Steps, stepView{Target: s.Target.String(), Op: s.Op.String(), Pallet: s.Pallet})
	}
	for _, o := range p.Outcomes {
		v.Outcomes = append(v.Outcomes, outcomeView{
			Pallet: o.Pallet, Kind: o.Kind.String(), Old: o.Old, New: o.New, Reason: o.Reason,
		})
	}
	return v
}

func renderPlan(v planView) error {
	outcomes := pterm.TableData{{"Pallet", "Outcome", "Current", "Proposed"}}
	for _, o := range v.Outcomes {
		outcomes = append(outcomes, []string{o.Pallet, o.Kind, dash(o.Old), dash(o.New)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(outcomes).Render(); err != nil {
		return err
	}
	pterm.Println()

	pterm.Info.Println("Planned steps:")
	for i, s := range v.Steps {
		pterm.Printf("  %d. %s %s in %s\n", i+1, s.Op, s.Pallet, s.Target)
	}
	return nil
}

func renderBuild(res *buildcheck.Result) {
	if res.Passed {
		pterm.Success.Printf("Build passed in %s\n", res.Duration.Round(time.Millisecond))
		return
	}
	pterm.Println(res.Output)
	pterm.Error.Printf("Build failed with exit code %d\n", res.ExitCode)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
