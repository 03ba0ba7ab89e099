package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/subman/buildcheck"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/logger"
)

var checkCommand string

// CheckCmd builds the runtime
var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Build the runtime",
	Long: `Run the build command (build.command in Substrate.toml, default
"cargo check --release") in the runtime directory.

Examples:
  subman check
  subman check --command "cargo build --release --features runtime-benchmarks"`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	CheckCmd.Flags().StringVar(&checkCommand, "command", "", "Build command overriding build.command")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	p, err := openProject(cmd)
	if err != nil {
		return err
	}
	command := checkCommand
	if command == "" {
		command = p.Config().Build.Command
	}
	runner, err := buildcheck.New(command, buildcheck.WithLogger(logger.ComponentLogger("buildcheck")))
	if err != nil {
		return err
	}

	res, err := runner.Run(cmd.Context(), p.RuntimeDir())
	if err != nil {
		return err
	}
	if err := printResult(cmd, res, func() error {
		pterm.Info.Printf("Running %v in %s\n", res.Command, p.RuntimeDir())
		renderBuild(res)
		return nil
	}); err != nil {
		return err
	}
	if !res.Passed {
		return errors.Newf("build failed with exit code %d", res.ExitCode)
	}
	return nil
}
