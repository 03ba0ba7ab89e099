package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/subman/cmd/subman/commands"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/logger"
)

var rootCmd = &cobra.Command{
	Use:   "subman",
	Short: "subman - Substrate pallet integration",
	Long: `subman - Add and remove pallets in a Substrate runtime.

subman edits the runtime's Cargo.toml and the construct_runtime! macro
together, keeping formatting and comments, and never leaves one edited
without the other.

Available commands:
  add     - Add pallets to the runtime
  remove  - Remove pallets from the runtime
  plan    - Show what an add would change
  check   - Build the runtime
  version - Show version information

Examples:
  subman add pallet-balances --version ^4.0.0
  subman plan pallet-sudo -o yaml
  subman remove pallet-sudo
  subman check`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logJSON, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(logJSON, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().String("root", ".", "Chain project root (the directory holding Substrate.toml)")
	rootCmd.PersistentFlags().Bool("json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs to stderr as JSON")

	rootCmd.AddCommand(commands.AddCmd)
	rootCmd.AddCommand(commands.RemoveCmd)
	rootCmd.AddCommand(commands.PlanCmd)
	rootCmd.AddCommand(commands.CheckCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

// exitCode maps failures to distinct statuses for scripts
func exitCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrRollbackFailed):
		return 4
	case errors.Is(err, errors.ErrBlocked):
		return 3
	case errors.IsInvalidRequestError(err), errors.IsNotFoundError(err):
		return 2
	default:
		return 1
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Cleanup()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(exitCode(err))
	}
}
